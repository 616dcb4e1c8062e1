// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package checkpoint persists per-feed progress cursors so interrupted
// collections resume where they left off instead of refetching from the
// start.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/feedspine/feedspine/internal/model"
)

// Store persists named checkpoints. Save must be atomic: a crashed save
// leaves either the previous checkpoint or the new one, never a torn mix.
type Store interface {
	Save(ctx context.Context, cp model.Checkpoint) error
	// Load returns the checkpoint for the feed, or ErrNotFound.
	Load(ctx context.Context, feedName string) (*model.Checkpoint, error)
	Delete(ctx context.Context, feedName string) error
	Close() error
}

// Memory is the ephemeral Store. Checkpoints vanish with the process; it
// exists for tests and for callers that only want intra-run dedup of
// save calls.
type Memory struct {
	mu    sync.RWMutex
	items map[string]model.Checkpoint
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory checkpoint store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]model.Checkpoint)}
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, cp model.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[cp.FeedName] = cp
	return nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, feedName string) (*model.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.items[feedName]
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint for %s", model.ErrNotFound, feedName)
	}
	return &cp, nil
}

// Delete implements Store. Deleting an absent checkpoint is a no-op.
func (m *Memory) Delete(ctx context.Context, feedName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, feedName)
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
