// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedspine/feedspine/internal/model"
)

func newTestDuckDB(t *testing.T) *DuckDB {
	t.Helper()
	db, err := NewDuckDB(DuckDBConfig{
		Path:      filepath.Join(t.TempDir(), "feedspine_test.db"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("NewDuckDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDuckDBRoundTrip(t *testing.T) {
	db := newTestDuckDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c := model.NewCandidate("Item-1", "rss-main", model.Content{
		"title": "hello",
		"score": 4.5,
	}).WithPublishedAt(now.Add(-time.Hour)).WithRecordType("article")
	c, err := c.WithContentHash()
	if err != nil {
		t.Fatalf("WithContentHash failed: %v", err)
	}
	rec := model.NewRecord(c, now)

	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := db.Get(ctx, rec.RecordID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.NaturalKey != "item-1" {
		t.Errorf("Expected normalized key item-1, got %s", got.NaturalKey)
	}
	if got.Content["title"] != "hello" {
		t.Errorf("Content did not survive round trip: %v", got.Content)
	}
	if got.Metadata.Source != "rss-main" || got.Metadata.RecordType != "article" {
		t.Errorf("Metadata did not survive round trip: %+v", got.Metadata)
	}
	if got.ContentHash != rec.ContentHash {
		t.Errorf("Expected content hash %s, got %s", rec.ContentHash, got.ContentHash)
	}
	if got.Layer != model.LayerBronze {
		t.Errorf("Expected Bronze, got %s", got.Layer)
	}
}

func TestDuckDBDuplicateNaturalKey(t *testing.T) {
	db := newTestDuckDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := db.Insert(ctx, newTestRecord(t, "item-1", "rss-main", now)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	err := db.Insert(ctx, newTestRecord(t, "ITEM-1", "rss-other", now))
	if !errors.Is(err, model.ErrDuplicateNaturalKey) {
		t.Errorf("Expected ErrDuplicateNaturalKey, got %v", err)
	}
}

func TestDuckDBPromotionAndLastSeen(t *testing.T) {
	db := newTestDuckDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := newTestRecord(t, "item-1", "rss-main", now)
	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := db.UpsertLastSeen(ctx, rec.RecordID, later, "h2"); err != nil {
		t.Fatalf("UpsertLastSeen failed: %v", err)
	}
	if err := db.UpsertLastSeen(ctx, rec.RecordID, now.Add(-time.Hour), ""); err != nil {
		t.Fatalf("UpsertLastSeen failed: %v", err)
	}
	got, _ := db.Get(ctx, rec.RecordID)
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("Expected last_seen_at %v, got %v", later, got.LastSeenAt)
	}
	if got.ContentHash != "h2" {
		t.Errorf("Expected content hash h2, got %s", got.ContentHash)
	}

	merged := model.Content{"title": "item item-1", "lang": "en"}
	if err := db.UpdateLayer(ctx, rec.RecordID, model.LayerSilver, merged, later.Add(time.Minute)); err != nil {
		t.Fatalf("Promotion failed: %v", err)
	}
	err := db.UpdateLayer(ctx, rec.RecordID, model.LayerBronze, merged, later.Add(2*time.Minute))
	if !errors.Is(err, model.ErrInvalidPromotion) {
		t.Errorf("Expected ErrInvalidPromotion, got %v", err)
	}

	got, _ = db.Get(ctx, rec.RecordID)
	if got.Layer != model.LayerSilver {
		t.Errorf("Expected Silver, got %s", got.Layer)
	}
	if got.Content["lang"] != "en" {
		t.Errorf("Merged content not persisted: %v", got.Content)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Record invariants violated: %v", err)
	}
}

func TestDuckDBSightingsOrderAndFirstFlag(t *testing.T) {
	db := newTestDuckDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := newTestRecord(t, "item-1", "rss-main", now)
	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	first, err := db.RecordSighting(ctx, model.NewSighting("item-1", "rss-main", rec.RecordID, now, true, "h1"))
	if err != nil {
		t.Fatalf("RecordSighting failed: %v", err)
	}
	if !first {
		t.Error("Expected first sighting flag")
	}
	// Same seen_at: append order breaks the tie.
	second, err := db.RecordSighting(ctx, model.NewSighting("item-1", "rss-other", rec.RecordID, now, false, "h2"))
	if err != nil {
		t.Fatalf("RecordSighting failed: %v", err)
	}
	if second {
		t.Error("Expected non-first sighting flag")
	}

	sightings, err := db.GetSightings(ctx, "ITEM-1")
	if err != nil {
		t.Fatalf("GetSightings failed: %v", err)
	}
	if len(sightings) != 2 {
		t.Fatalf("Expected 2 sightings, got %d", len(sightings))
	}
	if sightings[0].Source != "rss-main" || sightings[1].Source != "rss-other" {
		t.Errorf("Tie not broken in append order: %s then %s", sightings[0].Source, sightings[1].Source)
	}
}

func TestDuckDBQueryFiltersAndCount(t *testing.T) {
	db := newTestDuckDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, src := range []string{"rss-main", "rss-main", "api-alt"} {
		c := model.NewCandidate(
			string(rune('a'+i))+"-key", src,
			model.Content{"n": i},
		).WithPublishedAt(base.Add(time.Duration(i) * time.Hour))
		rec := model.NewRecord(c, base.Add(time.Duration(i)*time.Minute))
		if err := db.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := db.Query(ctx, Filter{Source: "rss-main", OrderBy: "captured_at"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 rss-main records, got %d", len(got))
	}

	n, err := db.Count(ctx, Filter{Source: "api-alt"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 api-alt record, got %d", n)
	}
}

func TestDuckDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedspine_test.db")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	db, err := NewDuckDB(DuckDBConfig{Path: path})
	if err != nil {
		t.Fatalf("NewDuckDB failed: %v", err)
	}
	rec := newTestRecord(t, "item-1", "rss-main", now)
	if err := db.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := db.RecordSighting(ctx, model.NewSighting("item-1", "rss-main", rec.RecordID, now, true, "")); err != nil {
		t.Fatalf("RecordSighting failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := NewDuckDB(DuckDBConfig{Path: path})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetByNaturalKey(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetByNaturalKey after reopen failed: %v", err)
	}
	if got.RecordID != rec.RecordID {
		t.Errorf("Expected record %s after reopen, got %s", rec.RecordID, got.RecordID)
	}
	sightings, err := db2.GetSightings(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetSightings after reopen failed: %v", err)
	}
	if len(sightings) != 1 {
		t.Errorf("Expected sighting history after reopen, got %d", len(sightings))
	}
}
