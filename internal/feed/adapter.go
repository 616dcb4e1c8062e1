// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package feed defines the adapter contract the collector consumes and
// ships four adapters: static (fixed candidates), rss (RSS 2.0 / Atom),
// jsonapi (paginated JSON endpoints), and dir (filesystem listings).
package feed

import (
	"context"

	"github.com/feedspine/feedspine/internal/model"
)

// Item is one element of an adapter's fetch stream: either a candidate
// or a mid-stream error. Errors do not terminate the stream unless the
// adapter closes its channel after sending one.
type Item struct {
	Candidate model.RecordCandidate
	Err       error
}

// Adapter is a named source of record candidates.
//
// Fetch returns a channel that the adapter closes when the stream is
// exhausted or the context is cancelled. Adapters own their pacing and
// parsing and emit candidates with normalized natural keys.
type Adapter interface {
	// Name is unique per collector and becomes Sighting.Source.
	Name() string
	// Open prepares the adapter. Called once before the first Fetch.
	Open(ctx context.Context) error
	// Close releases adapter resources. Called on every exit path.
	Close(ctx context.Context) error
	// Fetch streams candidates until exhaustion or cancellation.
	Fetch(ctx context.Context) <-chan Item
}

// Resumable is an optional capability: adapters that can start from a
// previously emitted cursor implement it. The cursor is opaque to the
// collector; adapters must accept any cursor they themselves emitted.
type Resumable interface {
	Resume(cp model.Checkpoint) error
}

// Checkpointer is an optional capability: adapters that track progress
// expose their current cursor for the checkpoint manager.
type Checkpointer interface {
	CurrentCheckpoint() (model.Checkpoint, bool)
}

// emit sends an item unless the context ends first. Returns false when
// the send was abandoned.
func emit(ctx context.Context, out chan<- Item, it Item) bool {
	select {
	case out <- it:
		return true
	case <-ctx.Done():
		return false
	}
}
