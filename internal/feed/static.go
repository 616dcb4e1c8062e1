// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/feedspine/feedspine/internal/model"
)

// Static yields a fixed candidate slice. It backs tests, replays, and
// one-off imports, and is the reference implementation of the Resumable
// and Checkpointer capabilities: its cursor is the decimal offset of the
// next candidate to emit.
type Static struct {
	name       string
	candidates []model.RecordCandidate

	mu     sync.Mutex
	next   int
	opened bool
}

var (
	_ Adapter      = (*Static)(nil)
	_ Resumable    = (*Static)(nil)
	_ Checkpointer = (*Static)(nil)
)

// NewStatic creates a static adapter with the given name and candidates.
func NewStatic(name string, candidates []model.RecordCandidate) *Static {
	return &Static{name: name, candidates: candidates}
}

// Name implements Adapter.
func (s *Static) Name() string { return s.name }

// Open implements Adapter.
func (s *Static) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

// Close implements Adapter.
func (s *Static) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// Fetch implements Adapter. Emission starts at the resume offset. The
// cursor advances only after a candidate is actually delivered, so a
// checkpoint taken mid-run never points past an undelivered item.
func (s *Static) Fetch(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for {
			s.mu.Lock()
			if s.next >= len(s.candidates) {
				s.mu.Unlock()
				return
			}
			c := s.candidates[s.next]
			s.mu.Unlock()

			if !emit(ctx, out, Item{Candidate: c}) {
				return
			}

			s.mu.Lock()
			s.next++
			s.mu.Unlock()
		}
	}()
	return out
}

// Resume implements Resumable. The cursor is a decimal offset.
func (s *Static) Resume(cp model.Checkpoint) error {
	offset, err := strconv.Atoi(cp.Cursor)
	if err != nil || offset < 0 {
		return fmt.Errorf("%w: static cursor %q", model.ErrConfig, cp.Cursor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset > len(s.candidates) {
		offset = len(s.candidates)
	}
	s.next = offset
	return nil
}

// CurrentCheckpoint implements Checkpointer.
func (s *Static) CurrentCheckpoint() (model.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Checkpoint{
		FeedName: s.name,
		Cursor:   strconv.Itoa(s.next),
	}, true
}
