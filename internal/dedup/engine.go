// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package dedup implements natural-key deduplication with sighting
// history. One candidate in, exactly one sighting out; a record is
// created only for the first candidate of each normalized natural key.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/metrics"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/storage"
)

// Config tunes the dedup engine.
type Config struct {
	// CacheSize is the seen-key LRU capacity. 0 uses the cache default.
	CacheSize int `koanf:"cache_size"`
	// CacheTTL is the seen-key entry lifetime. 0 uses the cache default.
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// LockStripes is the number of key-lock stripes. 0 means 128.
	LockStripes int `koanf:"lock_stripes"`
}

// Result reports what one ingested candidate did to the store.
type Result struct {
	// Record is the stored record the candidate resolved to, after any
	// last-seen update.
	Record *model.Record
	// Sighting is the observation appended for this candidate.
	Sighting model.Sighting
	// IsNew is true iff the candidate created the record.
	IsNew bool
	// ContentChanged is true when a duplicate arrived with a different
	// content hash than the stored one.
	ContentChanged bool
	// FirstSighting is true iff this was the first sighting appended for
	// the natural key.
	FirstSighting bool
}

// Stats are cumulative engine counters.
type Stats struct {
	Ingested   int64
	Created    int64
	Duplicates int64
	Changed    int64
	CacheHits  int64
	Rejected   int64
}

// Engine routes candidates through the dedup decision: create a record
// for an unseen natural key, update last-seen for a known one, and append
// a sighting either way. Per-key striped mutexes serialize concurrent
// candidates for the same key, so the decision is atomic even when the
// same key arrives on many goroutines at once.
type Engine struct {
	store  storage.Store
	cache  *SeenCache
	locks  []sync.Mutex
	nowFn  func() time.Time
	stats  [6]int64 // ingested, created, duplicates, changed, cacheHits, rejected
}

const (
	statIngested = iota
	statCreated
	statDuplicates
	statChanged
	statCacheHits
	statRejected
)

// New creates a dedup engine over the given store.
func New(store storage.Store, cfg Config) *Engine {
	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = 128
	}
	return &Engine{
		store: store,
		cache: NewSeenCache(cfg.CacheSize, cfg.CacheTTL),
		locks: make([]sync.Mutex, stripes),
		nowFn: time.Now,
	}
}

// Ingest processes one candidate. Invalid candidates fail with
// ErrInvalidCandidate and leave no trace in the store.
func (e *Engine) Ingest(ctx context.Context, c model.RecordCandidate) (*Result, error) {
	c = c.Normalized()
	if err := c.Validate(); err != nil {
		atomic.AddInt64(&e.stats[statRejected], 1)
		return nil, err
	}
	if c.ContentHash == "" && c.Content != nil {
		hashed, err := c.WithContentHash()
		if err != nil {
			atomic.AddInt64(&e.stats[statRejected], 1)
			return nil, fmt.Errorf("%w: content hash: %v", model.ErrInvalidCandidate, err)
		}
		c = hashed
	}
	atomic.AddInt64(&e.stats[statIngested], 1)

	mu := &e.locks[xxhash.Sum64String(c.NaturalKey)%uint64(len(e.locks))]
	mu.Lock()
	defer mu.Unlock()

	now := e.nowFn().UTC()
	rec, isNew, err := e.resolveRecord(ctx, c, now)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if !isNew {
		atomic.AddInt64(&e.stats[statDuplicates], 1)
		// Duplicates never rewrite Bronze content. A changed hash is
		// recorded on the record and the sighting for change detection.
		newHash := ""
		if c.ContentHash != "" && c.ContentHash != rec.ContentHash {
			newHash = c.ContentHash
			contentChanged = true
			atomic.AddInt64(&e.stats[statChanged], 1)
		}
		if err := e.store.UpsertLastSeen(ctx, rec.RecordID, now, newHash); err != nil {
			return nil, err
		}
		if now.After(rec.LastSeenAt) {
			rec.LastSeenAt = now
		}
		if rec.LastSeenAt.After(rec.UpdatedAt) {
			rec.UpdatedAt = rec.LastSeenAt
		}
		if newHash != "" {
			rec.ContentHash = newHash
		}
	} else {
		atomic.AddInt64(&e.stats[statCreated], 1)
	}

	s := model.NewSighting(c.NaturalKey, c.Metadata.Source, rec.RecordID, now, isNew, c.ContentHash)
	firstSighting, err := e.store.RecordSighting(ctx, s)
	if err != nil {
		return nil, err
	}
	e.cache.Add(c.NaturalKey, rec.RecordID)

	logging.Ctx(ctx).Debug().
		Str("natural_key", c.NaturalKey).
		Str("record_id", rec.RecordID).
		Bool("is_new", isNew).
		Bool("content_changed", contentChanged).
		Msg("candidate ingested")

	return &Result{
		Record:         rec,
		Sighting:       s,
		IsNew:          isNew,
		ContentChanged: contentChanged,
		FirstSighting:  firstSighting,
	}, nil
}

// resolveRecord finds the record for the candidate's key or creates it.
// Called with the key's stripe lock held.
func (e *Engine) resolveRecord(ctx context.Context, c model.RecordCandidate, now time.Time) (*model.Record, bool, error) {
	if recordID, ok := e.cache.Get(c.NaturalKey); ok {
		rec, err := e.store.Get(ctx, recordID)
		if err == nil {
			atomic.AddInt64(&e.stats[statCacheHits], 1)
			metrics.SeenCacheHits.Inc()
			return rec, false, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, false, err
		}
		// Record deleted underneath the cache entry.
		e.cache.Remove(c.NaturalKey)
	}

	rec, err := e.store.GetByNaturalKey(ctx, c.NaturalKey)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	rec = model.NewRecord(c, now)
	if err := e.store.Insert(ctx, rec); err == nil {
		return rec, true, nil
	} else if !errors.Is(err, model.ErrDuplicateNaturalKey) {
		return nil, false, err
	}

	// Lost a cross-process race; the key now exists. Retry the lookup
	// once and treat the candidate as a duplicate.
	rec, err = e.store.GetByNaturalKey(ctx, c.NaturalKey)
	if err != nil {
		return nil, false, fmt.Errorf("%w: lost insert race and lookup failed: %v", model.ErrStorage, err)
	}
	return rec, false, nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Ingested:   atomic.LoadInt64(&e.stats[statIngested]),
		Created:    atomic.LoadInt64(&e.stats[statCreated]),
		Duplicates: atomic.LoadInt64(&e.stats[statDuplicates]),
		Changed:    atomic.LoadInt64(&e.stats[statChanged]),
		CacheHits:  atomic.LoadInt64(&e.stats[statCacheHits]),
		Rejected:   atomic.LoadInt64(&e.stats[statRejected]),
	}
}

// Cache exposes the seen-key cache for maintenance loops.
func (e *Engine) Cache() *SeenCache {
	return e.cache
}
