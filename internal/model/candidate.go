// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"fmt"
	"strings"
	"time"
)

// Metadata travels with every candidate and record.
type Metadata struct {
	// Source is the name of the originating feed. Required.
	Source string `json:"source"`

	// RecordType is a free-form tag classifying the record.
	RecordType string `json:"record_type,omitempty"`

	// Extra holds adapter-specific fields that do not belong in content.
	Extra map[string]any `json:"extra,omitempty"`
}

// RecordCandidate is an unpersisted observation emitted by an adapter.
// The natural key is normalized at construction; candidate equality is
// defined over the normalized form only.
type RecordCandidate struct {
	// NaturalKey is the source-assigned identifier, trimmed and lowercased.
	NaturalKey string `json:"natural_key"`

	// PublishedAt is the timestamp the source asserts for the item.
	// The zero value means the source asserted none.
	PublishedAt time.Time `json:"published_at,omitempty"`

	// Content is the open field bag for this observation.
	Content Content `json:"content,omitempty"`

	// Metadata identifies the feed and record type.
	Metadata Metadata `json:"metadata"`

	// ContentHash is an optional fingerprint of Content, stable under
	// field-order permutation. Computed on demand by WithContentHash.
	ContentHash string `json:"content_hash,omitempty"`
}

// NormalizeKey applies the natural-key normalization rule: surrounding
// whitespace trimmed, letters folded to lower case. Callers that pass raw
// keys anywhere in the engine receive this silently.
func NormalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NewCandidate builds a candidate with a normalized key and UTC-normalized
// published timestamp. The returned candidate still needs Validate before
// ingestion; construction never fails so adapters can build candidates
// unconditionally and let the engine account for bad ones.
func NewCandidate(rawKey, source string, content Content) RecordCandidate {
	return RecordCandidate{
		NaturalKey: NormalizeKey(rawKey),
		Content:    content,
		Metadata:   Metadata{Source: source},
	}
}

// WithPublishedAt returns a copy with the source-asserted timestamp set,
// normalized to UTC.
func (c RecordCandidate) WithPublishedAt(t time.Time) RecordCandidate {
	c.PublishedAt = t.UTC()
	return c
}

// WithRecordType returns a copy with the record type tag set.
func (c RecordCandidate) WithRecordType(rt string) RecordCandidate {
	c.Metadata.RecordType = rt
	return c
}

// WithContentHash returns a copy carrying the canonical content hash.
func (c RecordCandidate) WithContentHash() (RecordCandidate, error) {
	h, err := c.Content.Hash()
	if err != nil {
		return c, err
	}
	c.ContentHash = h
	return c, nil
}

// Validate checks the candidate against the engine's entry requirements.
// Violations are ErrInvalidCandidate kinds.
func (c RecordCandidate) Validate() error {
	if c.NaturalKey == "" {
		return fmt.Errorf("%w: empty natural key", ErrInvalidCandidate)
	}
	if c.NaturalKey != NormalizeKey(c.NaturalKey) {
		return fmt.Errorf("%w: natural key not normalized: %q", ErrInvalidCandidate, c.NaturalKey)
	}
	if c.Metadata.Source == "" {
		return fmt.Errorf("%w: missing metadata source", ErrInvalidCandidate)
	}
	if !c.PublishedAt.IsZero() && c.PublishedAt.Location() != time.UTC {
		return fmt.Errorf("%w: published_at must be UTC", ErrInvalidCandidate)
	}
	return nil
}

// Normalized returns a copy with the key and timestamps normalized. Used
// by the engine to silently repair candidates from callers that bypass
// NewCandidate.
func (c RecordCandidate) Normalized() RecordCandidate {
	c.NaturalKey = NormalizeKey(c.NaturalKey)
	if !c.PublishedAt.IsZero() {
		c.PublishedAt = c.PublishedAt.UTC()
	}
	return c
}
