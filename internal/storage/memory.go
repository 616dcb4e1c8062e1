// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedspine/feedspine/internal/model"
)

// Memory is the in-process reference implementation of Store. A single
// mutex serializes all mutations, which trivially satisfies the per-key
// atomicity the contract demands; queries copy records out under the read
// lock so results are snapshot-consistent.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]*model.Record   // record id -> record
	byKey     map[string]string          // normalized natural key -> record id
	sightings map[string][]model.Sighting // normalized natural key -> append-ordered sightings
	closed    bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]*model.Record),
		byKey:     make(map[string]string),
		sightings: make(map[string][]model.Sighting),
	}
}

// Initialize implements Store.
func (m *Memory) Initialize(ctx context.Context) error {
	return nil
}

// Close implements Store. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) checkOpen() error {
	if m.closed {
		return fmt.Errorf("%w: memory store", model.ErrClosed)
	}
	return nil
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, exists := m.byKey[rec.NaturalKey]; exists {
		return fmt.Errorf("%w: %s", model.ErrDuplicateNaturalKey, rec.NaturalKey)
	}
	if _, exists := m.records[rec.RecordID]; exists {
		return fmt.Errorf("%w: record id %s already present", model.ErrStorage, rec.RecordID)
	}
	m.records[rec.RecordID] = rec.Clone()
	m.byKey[rec.NaturalKey] = rec.RecordID
	return nil
}

// UpsertLastSeen implements Store. last_seen_at and updated_at never move
// backwards.
func (m *Memory) UpsertLastSeen(ctx context.Context, recordID string, seenAt time.Time, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	rec, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	seenAt = seenAt.UTC()
	if seenAt.After(rec.LastSeenAt) {
		rec.LastSeenAt = seenAt
	}
	if rec.LastSeenAt.After(rec.UpdatedAt) {
		rec.UpdatedAt = rec.LastSeenAt
	}
	if contentHash != "" {
		rec.ContentHash = contentHash
	}
	return nil
}

// UpdateLayer implements Store. Promotions must be strictly monotone.
func (m *Memory) UpdateLayer(ctx context.Context, recordID string, newLayer model.Layer, mergedContent model.Content, updatedAt time.Time) error {
	if !newLayer.Valid() {
		return fmt.Errorf("%w: layer %d", model.ErrInvalidPromotion, int(newLayer))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	rec, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	if !newLayer.Above(rec.Layer) {
		return fmt.Errorf("%w: %s -> %s on record %s", model.ErrInvalidPromotion, rec.Layer, newLayer, recordID)
	}
	rec.Layer = newLayer
	rec.Content = mergedContent.Clone()
	updatedAt = updatedAt.UTC()
	if updatedAt.After(rec.UpdatedAt) {
		rec.UpdatedAt = updatedAt
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, recordID string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	return rec.Clone(), nil
}

// GetByNaturalKey implements Store.
func (m *Memory) GetByNaturalKey(ctx context.Context, naturalKey string) (*model.Record, error) {
	key := model.NormalizeKey(naturalKey)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: natural key %s", model.ErrNotFound, key)
	}
	return m.records[id].Clone(), nil
}

// Exists implements Store.
func (m *Memory) Exists(ctx context.Context, naturalKey string) (bool, error) {
	key := model.NormalizeKey(naturalKey)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byKey[key]
	return ok, nil
}

// Delete implements Store. Sighting history for the key is retained; the
// record id is never reallocated.
func (m *Memory) Delete(ctx context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	rec, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: record %s", model.ErrNotFound, recordID)
	}
	delete(m.records, recordID)
	delete(m.byKey, rec.NaturalKey)
	return nil
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, f Filter) ([]*model.Record, error) {
	m.mu.RLock()
	matched := make([]*model.Record, 0)
	for _, rec := range m.records {
		if matchesFilter(rec, f) {
			matched = append(matched, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sortRecords(matched, f.OrderBy)

	limit, offset := normalizePagination(f)
	if offset >= len(matched) {
		return []*model.Record{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, f Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if matchesFilter(rec, f) {
			n++
		}
	}
	return n, nil
}

// RecordSighting implements Store. The append and the first-sighting
// decision happen under the same lock, which makes the sequence atomic
// with respect to concurrent calls for the same key.
func (m *Memory) RecordSighting(ctx context.Context, s model.Sighting) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	existing := m.sightings[s.NaturalKey]
	first := len(existing) == 0
	m.sightings[s.NaturalKey] = append(existing, s)
	return first, nil
}

// GetSightings implements Store.
func (m *Memory) GetSightings(ctx context.Context, naturalKey string) ([]model.Sighting, error) {
	key := model.NormalizeKey(naturalKey)
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.sightings[key]
	out := make([]model.Sighting, len(src))
	copy(out, src)
	// Appends are already seen_at ordered in practice; sort stably to
	// honor the contract when callers inject out-of-order timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].SeenAt.Before(out[j].SeenAt) })
	return out, nil
}

func matchesFilter(rec *model.Record, f Filter) bool {
	if f.Source != "" && rec.Metadata.Source != f.Source {
		return false
	}
	if f.RecordType != "" && rec.Metadata.RecordType != f.RecordType {
		return false
	}
	if f.Layer != nil && rec.Layer != *f.Layer {
		return false
	}
	if f.PublishedAfter != nil && !rec.PublishedAt.After(*f.PublishedAfter) {
		return false
	}
	if f.PublishedBefore != nil && !rec.PublishedAt.Before(*f.PublishedBefore) {
		return false
	}
	if f.CapturedAfter != nil && !rec.CapturedAt.After(*f.CapturedAfter) {
		return false
	}
	return true
}

func sortRecords(recs []*model.Record, orderBy string) {
	switch orderBy {
	case "captured_at":
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].CapturedAt.Before(recs[j].CapturedAt) })
	case "published_at":
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].PublishedAt.Before(recs[j].PublishedAt) })
	default:
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].RecordID < recs[j].RecordID })
	}
}
