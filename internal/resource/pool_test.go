// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package resource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/feedspine/feedspine/internal/model"
)

func TestAcquireReleaseAccounting(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 4})
	ctx := context.Background()

	release, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if pool.InFlight() != 1 {
		t.Errorf("Expected 1 in flight, got %d", pool.InFlight())
	}
	release()
	release() // idempotent
	if pool.InFlight() != 0 {
		t.Errorf("Expected 0 in flight after release, got %d", pool.InFlight())
	}
}

func TestAcquireBlocksAtMaxConcurrent(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 2})
	ctx := context.Background()

	r1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	r2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded at capacity, got %v", err)
	}

	r1()
	r3, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	r3()
	r2()
}

func TestRateLimiterPacesAcquisitions(t *testing.T) {
	pool := NewPool(Config{RequestsPerSecond: 20, Burst: 1, MaxConcurrent: 8})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		release, err := pool.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		release()
	}
	// 4 acquisitions at 20 rps with burst 1 need roughly 150ms.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Rate limiter did not pace acquisitions: %v elapsed", elapsed)
	}
}

func TestCloseWaitsForOutstandingAndRefusesNew(t *testing.T) {
	pool := NewPool(Config{MaxConcurrent: 2})
	ctx := context.Background()

	release, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	closed := make(chan error, 1)
	go func() {
		defer wg.Done()
		closed <- pool.Close(ctx)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a slot was still held")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	wg.Wait()
	if err := <-closed; err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := pool.Acquire(ctx); !errors.Is(err, model.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestDoPerformsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	pool := NewPool(Config{MaxConcurrent: 2})
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	resp, err := pool.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if pool.InFlight() != 0 {
		t.Errorf("Slot leaked after Do: %d in flight", pool.InFlight())
	}
}

func TestBreakerOpensOnConsecutiveServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := NewPool(Config{MaxConcurrent: 2, BreakerFailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if _, err := pool.Do(req); err == nil {
			t.Fatal("Expected error for 500 response")
		}
	}

	// The breaker is now open; requests fail fast without reaching the
	// server.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err := pool.Do(req)
	if err == nil {
		t.Fatal("Expected breaker to reject request")
	}
	if pool.InFlight() != 0 {
		t.Errorf("Slot leaked through breaker path: %d in flight", pool.InFlight())
	}
}
