// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"errors"
	"testing"
	"time"
)

func TestLayerOrdering(t *testing.T) {
	if !LayerSilver.Above(LayerBronze) {
		t.Error("Expected silver above bronze")
	}
	if !LayerGold.Above(LayerSilver) {
		t.Error("Expected gold above silver")
	}
	if LayerBronze.Above(LayerGold) {
		t.Error("Bronze must not be above gold")
	}
	if LayerSilver.Above(LayerSilver) {
		t.Error("A layer is not above itself")
	}
}

func TestParseLayerRoundTrip(t *testing.T) {
	for _, l := range []Layer{LayerBronze, LayerSilver, LayerGold} {
		parsed, err := ParseLayer(l.String())
		if err != nil {
			t.Fatalf("ParseLayer(%q) failed: %v", l.String(), err)
		}
		if parsed != l {
			t.Errorf("Round trip mismatch: %v != %v", parsed, l)
		}
	}

	if _, err := ParseLayer("platinum"); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("Expected ErrInvalidCandidate for unknown layer, got %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"AAPL-10K", "aapl-10k"},
		{"  spaced  ", "spaced"},
		{"\tTabbed\n", "tabbed"},
		{"already", "already"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.raw); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCandidateValidate(t *testing.T) {
	c := NewCandidate(" Key-1 ", "s1", Content{"t": 1})
	if c.NaturalKey != "key-1" {
		t.Errorf("Expected normalized key, got %q", c.NaturalKey)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Valid candidate rejected: %v", err)
	}

	empty := NewCandidate("   ", "s1", nil)
	if err := empty.Validate(); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("Expected ErrInvalidCandidate for empty key, got %v", err)
	}

	noSource := NewCandidate("k", "", nil)
	if err := noSource.Validate(); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("Expected ErrInvalidCandidate for missing source, got %v", err)
	}
}

func TestCandidatePublishedAtNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2026, 3, 1, 9, 30, 0, 0, loc)

	c := NewCandidate("k", "s1", nil).WithPublishedAt(local)
	if c.PublishedAt.Location() != time.UTC {
		t.Error("Expected published_at converted to UTC")
	}
	if !c.PublishedAt.Equal(local) {
		t.Error("UTC conversion must preserve the instant")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("UTC candidate rejected: %v", err)
	}
}

func TestContentHashStableUnderFieldOrder(t *testing.T) {
	a := Content{"x": 1, "y": "two", "nested": map[string]any{"a": true, "b": []any{1, 2}}}
	b := Content{"nested": map[string]any{"b": []any{1, 2}, "a": true}, "y": "two", "x": 1}

	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha != hb {
		t.Errorf("Hash must be order-independent: %s != %s", ha, hb)
	}

	c := Content{"x": 2, "y": "two"}
	hc, _ := c.Hash()
	if hc == ha {
		t.Error("Different content must hash differently")
	}
}

func TestContentMergeShallowOverride(t *testing.T) {
	base := Content{"t": 1, "keep": "yes"}
	merged := base.Merge(map[string]any{"t": 2, "verified": true})

	if merged["t"] != 2 {
		t.Errorf("Expected override t=2, got %v", merged["t"])
	}
	if merged["keep"] != "yes" {
		t.Error("Non-colliding keys must survive")
	}
	if merged["verified"] != true {
		t.Error("New keys must be merged")
	}
	if base["t"] != 1 {
		t.Error("Merge must not mutate the receiver")
	}
}

func TestContentCloneIsDeep(t *testing.T) {
	orig := Content{"nested": map[string]any{"a": 1}}
	cp := orig.Clone()
	cp["nested"].(map[string]any)["a"] = 2

	if orig["nested"].(map[string]any)["a"] != 1 {
		t.Error("Clone must copy nested maps")
	}
}

func TestNewRecordBirthInvariants(t *testing.T) {
	now := time.Now()
	c := NewCandidate("k", "s1", Content{"t": 1})
	r := NewRecord(c, now)

	if r.Layer != LayerBronze {
		t.Errorf("New records start at bronze, got %v", r.Layer)
	}
	if r.RecordID == "" {
		t.Error("Record must have an id")
	}
	if !r.CapturedAt.Equal(r.FirstSeenAt) || !r.FirstSeenAt.Equal(r.LastSeenAt) || !r.LastSeenAt.Equal(r.UpdatedAt) {
		t.Error("Birth timestamps must all be equal")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Fresh record invalid: %v", err)
	}
}

func TestRecordIDsSortable(t *testing.T) {
	prev := NewRecordID()
	for i := 0; i < 100; i++ {
		next := NewRecordID()
		if next <= prev {
			t.Fatalf("Record ids must be strictly increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestRecordValidateRejectsNonMonotoneTimestamps(t *testing.T) {
	now := time.Now().UTC()
	r := NewRecord(NewCandidate("k", "s1", nil), now)
	r.LastSeenAt = now.Add(-time.Hour)

	if err := r.Validate(); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("Expected validation failure, got %v", err)
	}
}

func TestMatchesSubset(t *testing.T) {
	c := Content{"form": "10-K", "year": 2026, "flags": map[string]any{"amended": false}}

	if !c.MatchesSubset(map[string]any{"form": "10-K"}) {
		t.Error("Exact scalar match expected")
	}
	if !c.MatchesSubset(map[string]any{"flags": map[string]any{"amended": false}}) {
		t.Error("Nested map match expected")
	}
	if c.MatchesSubset(map[string]any{"form": "10-Q"}) {
		t.Error("Mismatched value must not match")
	}
	if c.MatchesSubset(map[string]any{"missing": 1}) {
		t.Error("Missing key must not match")
	}
}

func TestSightingValidate(t *testing.T) {
	s := NewSighting("Key", "s1", "rec-1", time.Now(), true, "")
	if s.NaturalKey != "key" {
		t.Errorf("Sighting key must be normalized, got %q", s.NaturalKey)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Valid sighting rejected: %v", err)
	}

	s.RecordID = ""
	if err := s.Validate(); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("Expected ErrInvalidCandidate for missing record id, got %v", err)
	}
}

func TestCollectionResultStatusSettlement(t *testing.T) {
	r := NewCollectionResult(time.Now())
	r.AddFeed("a", PipelineStats{RecordsProcessed: 5, RecordsNew: 3, RecordsDuplicate: 2})
	r.AddFeed("b", PipelineStats{RecordsProcessed: 2, Errors: 1})
	r.Finish(time.Now(), false)

	if r.Status != StatusPartial {
		t.Errorf("Errors must degrade status to partial, got %v", r.Status)
	}
	if r.TotalProcessed != 7 || r.TotalNew != 3 || r.TotalDuplicate != 2 || r.TotalErrors != 1 {
		t.Errorf("Totals wrong: %+v", r)
	}

	failed := NewCollectionResult(time.Now())
	failed.Finish(time.Now(), true)
	if failed.Status != StatusFailed {
		t.Errorf("Expected failed status, got %v", failed.Status)
	}
}
