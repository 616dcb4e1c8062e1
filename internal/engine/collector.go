// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package engine binds adapters, storage, dedup, enrichment, resources,
// checkpoints, and the event bus into the collector: the top-level
// object callers use to run collections.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedspine/feedspine/internal/bus"
	"github.com/feedspine/feedspine/internal/checkpoint"
	"github.com/feedspine/feedspine/internal/dedup"
	"github.com/feedspine/feedspine/internal/enrich"
	"github.com/feedspine/feedspine/internal/feed"
	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/resource"
	"github.com/feedspine/feedspine/internal/storage"
	"github.com/feedspine/feedspine/internal/stream"
)

// progressEvery is how many processed candidates separate two
// CollectionProgress events.
const progressEvery = 100

// Options wires a collector. Store is the only required field.
type Options struct {
	// Store is the persistence backend. Required.
	Store storage.Store
	// BufferCapacity bounds the record stream buffer. Default 1000.
	BufferCapacity int
	// MaxConcurrent is the default adapter concurrency for
	// CollectParallel when the caller passes 0. Default 4.
	MaxConcurrent int
	// AdapterTimeout bounds one adapter's whole run. 0 means no limit.
	AdapterTimeout time.Duration
	// Dedup tunes the dedup engine.
	Dedup dedup.Config
	// Bus receives lifecycle events. Optional.
	Bus *bus.Bus
	// Checkpoints persists per-feed progress. Optional.
	Checkpoints *checkpoint.Manager
	// Pool is the shared resource pool, closed with the collector.
	// Optional.
	Pool *resource.Pool
}

// Collector is the orchestrator. All methods are safe for concurrent
// use; adapters register before collection starts.
type Collector struct {
	store       storage.Store
	dedup       *dedup.Engine
	chain       *enrich.Chain
	eventBus    *bus.Bus
	checkpoints *checkpoint.Manager
	pool        *resource.Pool
	cfg         Options

	mu       sync.Mutex
	adapters map[string]feed.Adapter
	order    []string
}

// New builds a collector from options.
func New(opts Options) (*Collector, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: collector requires a store", model.ErrConfig)
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 1000
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Collector{
		store:       opts.Store,
		dedup:       dedup.New(opts.Store, opts.Dedup),
		chain:       enrich.NewChain(opts.Store),
		eventBus:    opts.Bus,
		checkpoints: opts.Checkpoints,
		pool:        opts.Pool,
		cfg:         opts,
		adapters:    make(map[string]feed.Adapter),
	}, nil
}

// RegisterFeed adds an adapter. Names are unique; duplicates fail with
// ErrConfig.
func (c *Collector) RegisterFeed(a feed.Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("%w: adapter must have a name", model.ErrConfig)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.adapters[a.Name()]; exists {
		return fmt.Errorf("%w: duplicate feed %q", model.ErrConfig, a.Name())
	}
	c.adapters[a.Name()] = a
	c.order = append(c.order, a.Name())
	logging.Info().Str("feed", a.Name()).Msg("feed registered")
	return nil
}

// RegisterEnricher appends an enricher to the chain.
func (c *Collector) RegisterEnricher(e enrich.Enricher) {
	c.chain.Register(e)
}

// RegisterEnricherAt inserts an enricher at the given order.
func (c *Collector) RegisterEnricherAt(e enrich.Enricher, order int) {
	c.chain.RegisterAt(e, order)
}

// Feeds returns the registered adapter names in registration order.
func (c *Collector) Feeds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Store exposes the backing store for queries.
func (c *Collector) Store() storage.Store {
	return c.store
}

// DedupStats exposes the dedup engine counters.
func (c *Collector) DedupStats() dedup.Stats {
	return c.dedup.Stats()
}

// Collect runs every registered adapter sequentially and materializes
// the result. Equivalent to draining CollectStream. Cancellation yields
// a partial result, not an error.
func (c *Collector) Collect(ctx context.Context) (*model.CollectionResult, error) {
	rs := c.CollectStream(ctx)
	for range rs.Records() {
	}
	return rs.Result()
}

// CollectStream runs adapters sequentially, yielding each newly
// persisted record as it is stored. Duplicates generate sightings but
// never appear in the stream. Memory is constant in feed size: the
// stream buffer holds at most BufferCapacity records.
func (c *Collector) CollectStream(ctx context.Context) *RecordStream {
	return c.run(ctx, 1)
}

// CollectParallel is CollectStream with up to maxConcurrent adapters
// fetching at once. 0 uses the configured default.
func (c *Collector) CollectParallel(ctx context.Context, maxConcurrent int) *RecordStream {
	if maxConcurrent <= 0 {
		maxConcurrent = c.cfg.MaxConcurrent
	}
	return c.run(ctx, maxConcurrent)
}

// Pipeline returns a builder over the raw candidate stream of every
// registered adapter, fetched sequentially. The caller owns dedup and
// storage when bypassing CollectStream.
func (c *Collector) Pipeline(ctx context.Context) *stream.Pipeline[model.RecordCandidate] {
	out := make(chan model.RecordCandidate, c.cfg.BufferCapacity)
	go func() {
		defer close(out)
		for _, a := range c.snapshotAdapters() {
			if err := a.Open(ctx); err != nil {
				logging.Ctx(ctx).Warn().Str("feed", a.Name()).Err(err).Msg("adapter open failed")
				continue
			}
			for it := range a.Fetch(ctx) {
				if it.Err != nil {
					logging.Ctx(ctx).Warn().Str("feed", a.Name()).Err(it.Err).Msg("adapter item error")
					continue
				}
				select {
				case out <- it.Candidate:
				case <-ctx.Done():
					c.closeAdapter(a)
					return
				}
			}
			c.closeAdapter(a)
		}
	}()
	return stream.From(ctx, out).WithCapacity(c.cfg.BufferCapacity)
}

// Close flushes checkpoints and releases the shared resource pool.
func (c *Collector) Close(ctx context.Context) error {
	var firstErr error
	if c.checkpoints != nil {
		if err := c.checkpoints.Flush(ctx); err != nil {
			firstErr = err
		}
	}
	if c.pool != nil {
		if err := c.pool.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// snapshotAdapters returns adapters in registration order.
func (c *Collector) snapshotAdapters() []feed.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]feed.Adapter, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.adapters[name])
	}
	return out
}

// sortedFeedNames is used for deterministic event payloads.
func sortedFeedNames(feeds map[string]model.PipelineStats) []string {
	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
