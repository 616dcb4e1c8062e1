// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/resource"
)

// ManagerConfig tunes the save policy.
type ManagerConfig struct {
	// IntervalRecords saves after every N tracked records. Default 100.
	IntervalRecords int `koanf:"interval_records"`
	// IntervalSeconds saves when this much time has passed since the
	// feed's last save and progress is pending. Default 60s.
	IntervalSeconds time.Duration `koanf:"interval_seconds"`
	// Retry governs transient save failures. Zero takes the resource
	// package defaults.
	Retry resource.RetryPolicy `koanf:"-"`
}

// Manager decides when tracked progress is worth persisting. Feeds call
// Track on every processed record; the manager writes through to the
// store when either interval is due and always on Flush.
type Manager struct {
	store Store
	cfg   ManagerConfig
	nowFn func() time.Time

	mu    sync.Mutex
	feeds map[string]*feedProgress
}

type feedProgress struct {
	pending   *model.Checkpoint
	sinceLast int
	lastSave  time.Time
}

// NewManager creates a manager over the given store.
func NewManager(store Store, cfg ManagerConfig) *Manager {
	if cfg.IntervalRecords <= 0 {
		cfg.IntervalRecords = 100
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 60 * time.Second
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		nowFn: time.Now,
		feeds: make(map[string]*feedProgress),
	}
}

// Track records one unit of progress for the feed and persists when the
// save policy says it is due. cursor is the adapter's opaque resume token.
func (m *Manager) Track(ctx context.Context, feedName, cursor string, recordsProcessed int64) error {
	now := m.nowFn().UTC()

	m.mu.Lock()
	fp, ok := m.feeds[feedName]
	if !ok {
		fp = &feedProgress{lastSave: now}
		m.feeds[feedName] = fp
	}
	fp.pending = &model.Checkpoint{
		FeedName:         feedName,
		Cursor:           cursor,
		RecordsProcessed: recordsProcessed,
		SavedAt:          now,
	}
	fp.sinceLast++
	due := fp.sinceLast >= m.cfg.IntervalRecords || now.Sub(fp.lastSave) >= m.cfg.IntervalSeconds
	var cp *model.Checkpoint
	if due {
		cp = fp.pending
		fp.pending = nil
		fp.sinceLast = 0
		fp.lastSave = now
	}
	m.mu.Unlock()

	if cp == nil {
		return nil
	}
	return m.save(ctx, *cp)
}

// Flush persists every pending checkpoint. Called on graceful shutdown
// and at the end of each adapter run.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := make([]model.Checkpoint, 0, len(m.feeds))
	now := m.nowFn().UTC()
	for _, fp := range m.feeds {
		if fp.pending != nil {
			pending = append(pending, *fp.pending)
			fp.pending = nil
			fp.sinceLast = 0
			fp.lastSave = now
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, cp := range pending {
		if err := m.save(ctx, cp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Load fetches the stored checkpoint for a feed, or ErrNotFound.
func (m *Manager) Load(ctx context.Context, feedName string) (*model.Checkpoint, error) {
	return m.store.Load(ctx, feedName)
}

// Delete drops a feed's checkpoint, stored and pending.
func (m *Manager) Delete(ctx context.Context, feedName string) error {
	m.mu.Lock()
	delete(m.feeds, feedName)
	m.mu.Unlock()
	return m.store.Delete(ctx, feedName)
}

func (m *Manager) save(ctx context.Context, cp model.Checkpoint) error {
	err := resource.Retry(ctx, m.cfg.Retry, func() error {
		return m.store.Save(ctx, cp)
	})
	if err != nil {
		logging.Ctx(ctx).Error().
			Str("feed", cp.FeedName).
			Err(err).
			Msg("checkpoint save failed")
		return err
	}
	logging.Ctx(ctx).Debug().
		Str("feed", cp.FeedName).
		Str("cursor", cp.Cursor).
		Int64("records_processed", cp.RecordsProcessed).
		Msg("checkpoint saved")
	return nil
}
