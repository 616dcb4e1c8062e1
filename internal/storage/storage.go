// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package storage defines the persistence contract the capture engine
// consumes, plus the two bundled implementations: an in-memory reference
// store and a DuckDB-backed store.
//
// Contract guarantees every implementation must uphold:
//
//   - Natural-key uniqueness is enforced with strong consistency: at most
//     one record id per normalized natural key per store instance.
//   - The "insert record if absent, always append sighting" sequence is
//     atomic with respect to concurrent RecordSighting calls for the same
//     natural key.
//   - Sighting appends for one natural key are totally ordered and durable
//     before RecordSighting returns; GetSightings returns ascending seen_at
//     order with ties broken by append order.
//   - Query results are snapshot-consistent per call (no torn records).
package storage

import (
	"context"
	"time"

	"github.com/feedspine/feedspine/internal/model"
)

// Filter narrows Query and Count results. Zero values mean "no
// constraint". Pagination defaults are applied by implementations.
type Filter struct {
	Source          string
	RecordType      string
	Layer           *model.Layer
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	CapturedAfter   *time.Time

	// OrderBy is one of "captured_at", "published_at", "record_id".
	// Empty means record_id (capture order, since ids are time-ordered).
	OrderBy string
	Limit   int
	Offset  int
}

// Store is the persistence backend consumed by the engine.
type Store interface {
	// Initialize prepares the backend (schema, files). Idempotent.
	Initialize(ctx context.Context) error
	// Close releases all resources. Must be safe on all exit paths.
	Close() error

	// Insert persists a new record. Fails with ErrDuplicateNaturalKey if
	// the natural key already maps to a record id. The engine only calls
	// this after a presence check; the error is the lost-race signal.
	Insert(ctx context.Context, rec *model.Record) error

	// UpsertLastSeen advances last_seen_at (never backwards) and, when
	// contentHash is non-empty, replaces the stored content hash.
	// updated_at advances alongside.
	UpsertLastSeen(ctx context.Context, recordID string, seenAt time.Time, contentHash string) error

	// UpdateLayer persists an enrichment promotion. Fails with
	// ErrInvalidPromotion if newLayer is not strictly above the current.
	UpdateLayer(ctx context.Context, recordID string, newLayer model.Layer, mergedContent model.Content, updatedAt time.Time) error

	// Get returns the record by id, or ErrNotFound.
	Get(ctx context.Context, recordID string) (*model.Record, error)
	// GetByNaturalKey returns the record for a normalized key, or
	// ErrNotFound. Raw keys are normalized silently.
	GetByNaturalKey(ctx context.Context, naturalKey string) (*model.Record, error)
	// Exists reports whether a record exists for the normalized key.
	Exists(ctx context.Context, naturalKey string) (bool, error)
	// Delete removes the record and frees its natural key. The record id
	// is never reused.
	Delete(ctx context.Context, recordID string) error

	// Query returns records matching the filter.
	Query(ctx context.Context, f Filter) ([]*model.Record, error)
	// Count returns the number of records matching the filter, ignoring
	// pagination.
	Count(ctx context.Context, f Filter) (int64, error)

	// RecordSighting appends a sighting. Returns true iff it is the first
	// sighting for its natural key.
	RecordSighting(ctx context.Context, s model.Sighting) (bool, error)
	// GetSightings returns all sightings for a normalized key in
	// ascending seen_at order.
	GetSightings(ctx context.Context, naturalKey string) ([]model.Sighting, error)
}

// normalizePagination clamps limit/offset the way all backends do.
func normalizePagination(f Filter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
