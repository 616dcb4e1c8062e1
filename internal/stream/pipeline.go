// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package stream

import (
	"context"
	"time"
)

// Pipeline chains same-typed stages over a source channel. Stages attach
// lazily; nothing runs until a terminal (Collect, Count, Drain, Out) pulls.
type Pipeline[T any] struct {
	ctx      context.Context
	out      <-chan T
	capacity int
}

// From starts a pipeline over an existing channel.
func From[T any](ctx context.Context, src <-chan T) *Pipeline[T] {
	return &Pipeline[T]{ctx: ctx, out: src, capacity: DefaultCapacity}
}

// Of starts a pipeline over a fixed item slice.
func Of[T any](ctx context.Context, items ...T) *Pipeline[T] {
	return From(ctx, FromSlice(ctx, items))
}

// WithCapacity sets the buffer size for stages attached after it.
func (p *Pipeline[T]) WithCapacity(n int) *Pipeline[T] {
	if n > 0 {
		p.capacity = n
	}
	return p
}

// Map attaches a transform stage.
func (p *Pipeline[T]) Map(fn func(T) T) *Pipeline[T] {
	p.out = Map(p.ctx, p.out, p.capacity, fn)
	return p
}

// Filter attaches a predicate stage.
func (p *Pipeline[T]) Filter(pred func(T) bool) *Pipeline[T] {
	p.out = Filter(p.ctx, p.out, p.capacity, pred)
	return p
}

// Tap attaches an observer stage.
func (p *Pipeline[T]) Tap(fn func(T)) *Pipeline[T] {
	p.out = Tap(p.ctx, p.out, p.capacity, fn)
	return p
}

// Batch attaches a batching stage and ends the same-type chain.
func (p *Pipeline[T]) Batch(size int, flushEvery time.Duration) <-chan []T {
	return Batch(p.ctx, p.out, p.capacity, size, flushEvery)
}

// Out returns the output channel of the chain so far.
func (p *Pipeline[T]) Out() <-chan T {
	return p.out
}

// Collect pulls the pipeline to completion and returns every item. On
// cancellation it returns the items pulled so far with the context error.
func (p *Pipeline[T]) Collect() ([]T, error) {
	items := make([]T, 0)
	for {
		select {
		case v, ok := <-p.out:
			if !ok {
				return items, nil
			}
			items = append(items, v)
		case <-p.ctx.Done():
			return items, p.ctx.Err()
		}
	}
}

// Count pulls the pipeline to completion and returns the item count.
func (p *Pipeline[T]) Count() (int, error) {
	n := 0
	for {
		select {
		case _, ok := <-p.out:
			if !ok {
				return n, nil
			}
			n++
		case <-p.ctx.Done():
			return n, p.ctx.Err()
		}
	}
}

// Drain pulls the pipeline to completion, discarding items.
func (p *Pipeline[T]) Drain() error {
	_, err := p.Count()
	return err
}
