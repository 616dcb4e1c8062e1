// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package service

import (
	"context"
	"time"

	"github.com/feedspine/feedspine/internal/engine"
	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
)

// CollectorConfig tunes the scheduled collection loop.
type CollectorConfig struct {
	// Interval is the pause between the end of one run and the start of
	// the next. Default 5m.
	Interval time.Duration
	// RunOnStartup triggers a collection immediately on Serve.
	RunOnStartup bool
	// Parallel collects feeds concurrently. MaxConcurrent 0 uses the
	// collector's configured default.
	Parallel      bool
	MaxConcurrent int
}

// CollectorService runs collections on a fixed interval under
// supervision. A failed run is logged and retried on the next tick
// rather than crashing the service; the supervisor only restarts us on
// panics.
type CollectorService struct {
	collector *engine.Collector
	cfg       CollectorConfig
}

// NewCollectorService wraps a collector in the interval loop.
func NewCollectorService(collector *engine.Collector, cfg CollectorConfig) *CollectorService {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &CollectorService{collector: collector, cfg: cfg}
}

// Serve implements suture.Service.
func (s *CollectorService) Serve(ctx context.Context) error {
	if s.cfg.RunOnStartup {
		s.runOnce(ctx)
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *CollectorService) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	var (
		res *model.CollectionResult
		err error
	)
	if s.cfg.Parallel {
		rs := s.collector.CollectParallel(ctx, s.cfg.MaxConcurrent)
		for range rs.Records() {
		}
		res, err = rs.Result()
	} else {
		res, err = s.collector.Collect(ctx)
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("scheduled collection failed")
		return
	}
	logging.Ctx(ctx).Info().
		Str("status", string(res.Status)).
		Int64("new", res.TotalNew).
		Int64("duplicate", res.TotalDuplicate).
		Dur("took", time.Since(start)).
		Msg("scheduled collection finished")
}

// String identifies the service in supervisor logs.
func (s *CollectorService) String() string { return "collector" }
