// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package stream provides the bounded buffer and channel combinators the
// capture engine is built on. Every stage is backpressured: a full
// downstream buffer blocks the producer instead of dropping or growing
// without bound.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/feedspine/feedspine/internal/model"
)

// DefaultCapacity is the per-stage buffer size when the caller does not
// choose one.
const DefaultCapacity = 64

// Buffer is a bounded FIFO connecting one pipeline stage to the next.
// Put blocks when the buffer is full; Get blocks when it is empty. After
// MarkDone, Put fails and Get drains the remaining items before reporting
// exhaustion.
type Buffer[T any] struct {
	ch       chan T
	done     chan struct{}
	doneOnce sync.Once
}

// NewBuffer creates a buffer with the given capacity. Non-positive
// capacities fall back to DefaultCapacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Put appends an item, blocking while the buffer is full. Returns
// ErrClosed after MarkDone and the context error on cancellation.
func (b *Buffer[T]) Put(ctx context.Context, v T) error {
	select {
	case <-b.done:
		return fmt.Errorf("%w: buffer", model.ErrClosed)
	default:
	}
	select {
	case b.ch <- v:
		return nil
	case <-b.done:
		return fmt.Errorf("%w: buffer", model.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest item, blocking while the buffer is empty. The
// second return is false once the buffer is done and drained.
func (b *Buffer[T]) Get(ctx context.Context) (T, bool, error) {
	var zero T
	// Buffered items are delivered even after MarkDone.
	select {
	case v := <-b.ch:
		return v, true, nil
	default:
	}
	select {
	case v := <-b.ch:
		return v, true, nil
	case <-b.done:
		select {
		case v := <-b.ch:
			return v, true, nil
		default:
			return zero, false, nil
		}
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// MarkDone signals that no further items will be put. Idempotent.
func (b *Buffer[T]) MarkDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Len reports the number of buffered items.
func (b *Buffer[T]) Len() int {
	return len(b.ch)
}

// Cap reports the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return cap(b.ch)
}

// Drain exposes the buffer as a channel that closes once the buffer is
// done and empty, or the context is cancelled. Feeds buffers into the
// combinators below.
func (b *Buffer[T]) Drain(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			v, ok, err := b.Get(ctx)
			if err != nil || !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
