// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is a persisted candidate with identity and lifecycle. Records
// are created at Bronze on first ingestion of a normalized natural key
// and mutate only through sighting updates and enrichment promotion.
type Record struct {
	// RecordID is an opaque, globally unique, lexicographically sortable
	// time-ordered identifier (ULID).
	RecordID string `json:"record_id"`

	NaturalKey  string    `json:"natural_key"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Content     Content   `json:"content,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	ContentHash string    `json:"content_hash,omitempty"`

	// Layer is the current data-quality tier.
	Layer Layer `json:"layer"`

	// CapturedAt is the first persistence timestamp.
	CapturedAt time.Time `json:"captured_at"`
	// UpdatedAt advances on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// FirstSeenAt is the timestamp of the first sighting.
	FirstSeenAt time.Time `json:"first_seen_at"`
	// LastSeenAt is the timestamp of the most recent sighting.
	LastSeenAt time.Time `json:"last_seen_at"`
}

// NewRecordID allocates a ULID. IDs sort lexicographically in allocation
// order and are never reused.
func NewRecordID() string {
	return ulid.Make().String()
}

// NewRecord materializes a candidate into a Bronze record at now.
// Invariant: capturedAt == firstSeenAt == lastSeenAt == updatedAt at birth.
func NewRecord(c RecordCandidate, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		RecordID:    NewRecordID(),
		NaturalKey:  c.NaturalKey,
		PublishedAt: c.PublishedAt,
		Content:     c.Content.Clone(),
		Metadata:    c.Metadata,
		ContentHash: c.ContentHash,
		Layer:       LayerBronze,
		CapturedAt:  now,
		UpdatedAt:   now,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
}

// Clone returns an independent copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Content = r.Content.Clone()
	if r.Metadata.Extra != nil {
		extra := make(map[string]any, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			extra[k] = cloneValue(v)
		}
		cp.Metadata.Extra = extra
	}
	return &cp
}

// Validate enforces the record invariants: normalized key, valid layer,
// monotone timestamps capturedAt <= firstSeenAt <= lastSeenAt <= updatedAt.
func (r *Record) Validate() error {
	if r.RecordID == "" {
		return fmt.Errorf("%w: record missing id", ErrInvalidCandidate)
	}
	if r.NaturalKey == "" || r.NaturalKey != NormalizeKey(r.NaturalKey) {
		return fmt.Errorf("%w: record natural key not normalized: %q", ErrInvalidCandidate, r.NaturalKey)
	}
	if !r.Layer.Valid() {
		return fmt.Errorf("%w: record layer %d", ErrInvalidCandidate, int(r.Layer))
	}
	if r.CapturedAt.After(r.FirstSeenAt) || r.FirstSeenAt.After(r.LastSeenAt) || r.LastSeenAt.After(r.UpdatedAt) {
		return fmt.Errorf("%w: non-monotone timestamps on record %s", ErrInvalidCandidate, r.RecordID)
	}
	return nil
}
