// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sighting records one adapter-level observation of a natural key.
// Exactly one sighting is appended per candidate that enters the engine;
// sightings are never mutated after the append.
type Sighting struct {
	// SightingID is an opaque unique identifier.
	SightingID string `json:"sighting_id"`

	// NaturalKey follows the same normalization rules as candidates.
	NaturalKey string `json:"natural_key"`

	// Source is the adapter name that observed the key.
	Source string `json:"source"`

	// SeenAt is the observation timestamp, UTC.
	SeenAt time.Time `json:"seen_at"`

	// IsNew is true iff this sighting created a new record.
	IsNew bool `json:"is_new"`

	// RecordID is the record the sighting refers to. Always present
	// after ingestion.
	RecordID string `json:"record_id"`

	// ContentHash is the hash observed this time, for change detection.
	ContentHash string `json:"content_hash,omitempty"`
}

// NewSighting builds a sighting for the given observation.
func NewSighting(naturalKey, source, recordID string, seenAt time.Time, isNew bool, contentHash string) Sighting {
	return Sighting{
		SightingID:  uuid.New().String(),
		NaturalKey:  NormalizeKey(naturalKey),
		Source:      source,
		SeenAt:      seenAt.UTC(),
		IsNew:       isNew,
		RecordID:    recordID,
		ContentHash: contentHash,
	}
}

// Validate checks required sighting fields.
func (s Sighting) Validate() error {
	if s.SightingID == "" {
		return fmt.Errorf("%w: sighting missing id", ErrInvalidCandidate)
	}
	if s.NaturalKey == "" {
		return fmt.Errorf("%w: sighting missing natural key", ErrInvalidCandidate)
	}
	if s.Source == "" {
		return fmt.Errorf("%w: sighting missing source", ErrInvalidCandidate)
	}
	if s.RecordID == "" {
		return fmt.Errorf("%w: sighting missing record id", ErrInvalidCandidate)
	}
	if s.SeenAt.IsZero() {
		return fmt.Errorf("%w: sighting missing seen_at", ErrInvalidCandidate)
	}
	return nil
}
