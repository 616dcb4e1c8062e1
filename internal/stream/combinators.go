// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package stream

import (
	"context"
	"sync"
	"time"
)

// Map transforms each item. The output channel has the given capacity and
// closes when the input closes or the context is cancelled. Items keep
// their input order.
func Map[T, U any](ctx context.Context, in <-chan T, capacity int, fn func(T) U) <-chan U {
	out := make(chan U, clampCapacity(capacity))
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- fn(v):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Filter passes through items the predicate accepts, preserving order.
func Filter[T any](ctx context.Context, in <-chan T, capacity int, pred func(T) bool) <-chan T {
	out := make(chan T, clampCapacity(capacity))
	go func() {
		defer close(out)
		for v := range in {
			if !pred(v) {
				continue
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

// Tap invokes fn on each item and passes it through unchanged. fn must
// not mutate the item.
func Tap[T any](ctx context.Context, in <-chan T, capacity int, fn func(T)) <-chan T {
	return Map(ctx, in, capacity, func(v T) T {
		fn(v)
		return v
	})
}

// Batch groups items into slices of at most size, flushing a partial
// batch when flushEvery elapses with items pending (0 disables the timer)
// and on input close. Batches preserve input order.
func Batch[T any](ctx context.Context, in <-chan T, capacity, size int, flushEvery time.Duration) <-chan []T {
	if size <= 0 {
		size = 1
	}
	out := make(chan []T, clampCapacity(capacity))
	go func() {
		defer close(out)
		var timer *time.Timer
		var timeout <-chan time.Time
		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer = nil
				timeout = nil
			}
		}
		defer stopTimer()

		batch := make([]T, 0, size)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			stopTimer()
			select {
			case out <- batch:
				batch = make([]T, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case v, ok := <-in:
				if !ok {
					flush()
					return
				}
				batch = append(batch, v)
				if len(batch) >= size {
					if !flush() {
						return
					}
				} else if flushEvery > 0 && timer == nil {
					timer = time.NewTimer(flushEvery)
					timeout = timer.C
				}
			case <-timeout:
				timer = nil
				timeout = nil
				if !flush() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Merge fans in several channels. Output order across inputs is
// unspecified; items from one input keep their relative order. The output
// closes when every input has closed.
func Merge[T any](ctx context.Context, capacity int, ins ...<-chan T) <-chan T {
	out := make(chan T, clampCapacity(capacity))
	var wg sync.WaitGroup
	wg.Add(len(ins))
	for _, in := range ins {
		go func(in <-chan T) {
			defer wg.Done()
			for v := range in {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// FromSlice exposes a slice as a closed-when-exhausted channel.
func FromSlice[T any](ctx context.Context, items []T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for _, v := range items {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func clampCapacity(n int) int {
	if n <= 0 {
		return DefaultCapacity
	}
	return n
}
