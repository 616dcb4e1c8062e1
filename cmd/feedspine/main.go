// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package main is the entry point for the feedspine daemon.
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (env > file > defaults)
//  2. Logging: global zerolog sink per the logging config
//  3. Storage: DuckDB (or in-memory) record and sighting store
//  4. Checkpoints: file, Badger, or in-memory cursor persistence
//  5. Resources: shared HTTP pool with rate limit and circuit breaker
//  6. Collector: feed adapters, dedup engine, enrichment chain, events
//  7. Supervision: suture tree running the collection loop and HTTP API
//
// Configuration is read from feedspine.yaml (or FEEDSPINE_CONFIG) with
// FEEDSPINE_* environment variables taking precedence, e.g.
//
//	export FEEDSPINE_DATABASE_PATH=/data/feedspine.duckdb
//	export FEEDSPINE_COLLECTOR_INTERVAL=10m
//	./feedspine
//
// SIGINT and SIGTERM trigger graceful shutdown: the collection loop
// stops, pending checkpoints flush, the HTTP server drains, and the
// stores close.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedspine/feedspine/internal/bus"
	"github.com/feedspine/feedspine/internal/checkpoint"
	"github.com/feedspine/feedspine/internal/config"
	"github.com/feedspine/feedspine/internal/dedup"
	"github.com/feedspine/feedspine/internal/engine"
	"github.com/feedspine/feedspine/internal/feed"
	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/resource"
	"github.com/feedspine/feedspine/internal/server"
	"github.com/feedspine/feedspine/internal/service"
	"github.com/feedspine/feedspine/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "feedspine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("database", cfg.Database.Backend).Str("checkpoints", cfg.Checkpoints.Backend).Msg("feedspine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("store close failed")
		}
	}()

	cpStore, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cpStore.Close(); err != nil {
			logging.Warn().Err(err).Msg("checkpoint store close failed")
		}
	}()

	pool := resource.NewPool(resource.Config{
		RequestsPerSecond:       cfg.Resources.RequestsPerSecond,
		Burst:                   cfg.Resources.Burst,
		MaxConcurrent:           cfg.Resources.MaxConcurrent,
		HTTPTimeout:             cfg.Resources.HTTPTimeout,
		BreakerFailureThreshold: cfg.Resources.BreakerFailureThreshold,
		BreakerCooldown:         cfg.Resources.BreakerCooldown,
	})

	eventBus := bus.New(cfg.Events.BufferSize)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Warn().Err(err).Msg("event bus close failed")
		}
	}()

	collector, err := engine.New(engine.Options{
		Store:          store,
		BufferCapacity: cfg.Collector.BufferCapacity,
		MaxConcurrent:  cfg.Collector.MaxConcurrent,
		AdapterTimeout: cfg.Collector.AdapterTimeout,
		Dedup: dedup.Config{
			CacheSize:   cfg.Dedup.CacheSize,
			CacheTTL:    cfg.Dedup.CacheTTL,
			LockStripes: cfg.Dedup.LockStripes,
		},
		Bus: eventBus,
		Checkpoints: checkpoint.NewManager(cpStore, checkpoint.ManagerConfig{
			IntervalRecords: cfg.Checkpoints.IntervalRecords,
			IntervalSeconds: cfg.Checkpoints.IntervalSeconds,
		}),
		Pool: pool,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := collector.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("collector close failed")
		}
	}()

	if err := registerFeeds(collector, cfg, pool); err != nil {
		return err
	}
	logging.Info().Strs("feeds", collector.Feeds()).Msg("feeds registered")

	tree := service.NewTree(service.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddCollectionService(service.NewCollectorService(collector, service.CollectorConfig{
		Interval:      cfg.Collector.Interval,
		RunOnStartup:  cfg.Collector.RunOnStartup,
		Parallel:      cfg.Collector.Parallel,
		MaxConcurrent: cfg.Collector.MaxConcurrent,
	}))
	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Host:    cfg.Server.Host,
			Port:    cfg.Server.Port,
			Timeout: cfg.Server.Timeout,
		}, collector)
		tree.AddAPIService(service.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("feedspine stopped")
	return nil
}

// openStore builds and initializes the configured record store.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.Database.Backend {
	case "memory":
		store = storage.NewMemory()
	default:
		db, err := storage.NewDuckDB(storage.DuckDBConfig{
			Path:         cfg.Database.Path,
			MaxMemory:    cfg.Database.MaxMemory,
			Threads:      cfg.Database.Threads,
			QueryTimeout: cfg.Database.QueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		store = db
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// openCheckpointStore builds the configured checkpoint backend.
func openCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoints.Backend {
	case "memory":
		return checkpoint.NewMemory(), nil
	case "badger":
		return checkpoint.NewBadger(cfg.Checkpoints.Path)
	default:
		return checkpoint.NewFile(cfg.Checkpoints.Path, true)
	}
}

// registerFeeds builds adapters from config and registers them.
func registerFeeds(collector *engine.Collector, cfg *config.Config, pool *resource.Pool) error {
	for _, fc := range cfg.Feeds.RSS {
		a, err := feed.NewRSS(fc, pool)
		if err != nil {
			return err
		}
		if err := collector.RegisterFeed(a); err != nil {
			return err
		}
	}
	for _, fc := range cfg.Feeds.JSONAPI {
		a, err := feed.NewJSONAPI(fc, pool)
		if err != nil {
			return err
		}
		if err := collector.RegisterFeed(a); err != nil {
			return err
		}
	}
	for _, fc := range cfg.Feeds.Dir {
		a, err := feed.NewDir(fc)
		if err != nil {
			return err
		}
		if err := collector.RegisterFeed(a); err != nil {
			return err
		}
	}
	return nil
}
