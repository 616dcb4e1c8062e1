// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/feedspine/feedspine/internal/logging"
)

// RetryPolicy controls Retry. Zero values take the defaults.
type RetryPolicy struct {
	// Attempts is the total number of tries. Default 3.
	Attempts int
	// Delay is the wait before the second attempt; it doubles after
	// every failure. Default 500ms.
	Delay time.Duration
	// MaxDelay caps the doubled delay. Default 30s.
	MaxDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Retry runs fn with exponential backoff until it succeeds, the
// attempts are exhausted, or ctx ends. The backoff wait is cancellable.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.withDefaults()
	delay := policy.Delay

	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt < policy.Attempts-1 {
			logging.Ctx(ctx).Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", policy.Attempts).
				Dur("delay", delay).
				Msg("retrying after failure")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
	}
	return fmt.Errorf("max retry attempts reached: %w", err)
}
