// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package resource provides the shared I/O budget handed to adapters and
// enrichers: one HTTP client, one token-bucket rate limiter, one global
// concurrency semaphore, and a circuit breaker guarding outbound calls.
// Pool lifetime is tied to the orchestrator scope; Close waits for every
// acquisition to be released.
package resource

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/metrics"
	"github.com/feedspine/feedspine/internal/model"
)

// Config tunes the shared pool.
type Config struct {
	// RequestsPerSecond caps the aggregate outbound request rate across
	// every adapter and enricher. 0 means unlimited.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Burst is the token bucket size. 0 derives one from the rate.
	Burst int `koanf:"burst"`
	// MaxConcurrent bounds in-flight acquisitions. 0 means 64.
	MaxConcurrent int64 `koanf:"max_concurrent"`
	// HTTPTimeout is the shared client's per-request timeout. 0 means 30s.
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	// BreakerFailureThreshold trips the breaker after this many
	// consecutive outbound failures. 0 means 5.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`
	// BreakerCooldown is how long the breaker stays open. 0 means 30s.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// Pool is the shared resource set. All methods are safe for concurrent
// use.
type Pool struct {
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker[*http.Response]

	maxConcurrent int64
	inFlight      atomic.Int64
	closed        atomic.Bool
}

// NewPool builds a pool from config, applying defaults for zero fields.
func NewPool(cfg Config) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond) + 1
		}
	} else if burst <= 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "feedspine-outbound",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Pool{
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        int(cfg.MaxConcurrent),
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:       rate.NewLimiter(limit, burst),
		sem:           semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker:       breaker,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// Acquire takes one concurrency slot and one rate token, blocking until
// both are available or the context ends. The returned release function
// is idempotent and must be called on every exit path.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: resource pool", model.ErrClosed)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		p.sem.Release(1)
		return nil, err
	}
	metrics.PoolInFlight.Set(float64(p.inFlight.Add(1)))

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			metrics.PoolInFlight.Set(float64(p.inFlight.Add(-1)))
			p.sem.Release(1)
		}
	}, nil
}

// Do performs an HTTP request under the pool's concurrency, rate, and
// breaker policies. The caller owns the response body.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	release, err := p.Acquire(req.Context())
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := p.breaker.Execute(func() (*http.Response, error) {
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		// 5xx trips the breaker; 4xx is the caller's problem.
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s returned %d", model.ErrAdapter, req.URL.Host, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// HTTPClient exposes the shared client for adapters that manage their
// own request lifecycle. Such adapters should still pace themselves
// through Acquire.
func (p *Pool) HTTPClient() *http.Client {
	return p.client
}

// InFlight reports current outstanding acquisitions.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Close drains the pool: it refuses new acquisitions, waits for every
// outstanding slot to be released, then tears down idle connections.
func (p *Pool) Close(ctx context.Context) error {
	p.closed.Store(true)
	// Taking the full semaphore weight proves all slots were released.
	if err := p.sem.Acquire(ctx, p.maxConcurrent); err != nil {
		return fmt.Errorf("drain resource pool: %w", err)
	}
	p.sem.Release(p.maxConcurrent)
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
