// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package config loads layered configuration: struct defaults, then an
// optional YAML file, then environment variables. Precedence is
// ENV > file > defaults.
package config

import (
	"time"

	"github.com/feedspine/feedspine/internal/feed"
)

// Config is the root configuration for the feedspine daemon.
type Config struct {
	Database    DatabaseConfig   `koanf:"database"`
	Collector   CollectorConfig  `koanf:"collector"`
	Dedup       DedupConfig      `koanf:"dedup"`
	Checkpoints CheckpointConfig `koanf:"checkpoints"`
	Resources   ResourceConfig   `koanf:"resources"`
	Events      EventsConfig     `koanf:"events"`
	Feeds       FeedsConfig      `koanf:"feeds"`
	Server      ServerConfig     `koanf:"server"`
	Logging     LoggingConfig    `koanf:"logging"`
}

// DatabaseConfig selects and tunes the record store.
type DatabaseConfig struct {
	// Backend is "duckdb" or "memory".
	Backend string `koanf:"backend" validate:"oneof=duckdb memory"`
	// Path is the DuckDB database file. Ignored for memory.
	Path string `koanf:"path"`
	// MaxMemory caps DuckDB memory usage, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count. 0 uses the DuckDB default.
	Threads int `koanf:"threads" validate:"min=0"`
	// QueryTimeout bounds individual statements. 0 disables.
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// CollectorConfig tunes collection runs.
type CollectorConfig struct {
	// BufferCapacity bounds the record stream buffer.
	BufferCapacity int `koanf:"buffer_capacity" validate:"min=1"`
	// MaxConcurrent is the adapter concurrency for parallel collection.
	MaxConcurrent int `koanf:"max_concurrent" validate:"min=1"`
	// AdapterTimeout bounds one adapter's run. 0 disables.
	AdapterTimeout time.Duration `koanf:"adapter_timeout"`
	// Interval is the pause between scheduled collection runs.
	Interval time.Duration `koanf:"interval" validate:"min=1s"`
	// RunOnStartup triggers a collection as soon as the daemon is up.
	RunOnStartup bool `koanf:"run_on_startup"`
	// Parallel collects feeds concurrently instead of sequentially.
	Parallel bool `koanf:"parallel"`
}

// DedupConfig tunes the seen cache and lock striping.
type DedupConfig struct {
	CacheSize   int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	LockStripes int           `koanf:"lock_stripes" validate:"min=0"`
}

// CheckpointConfig selects and tunes checkpoint persistence.
type CheckpointConfig struct {
	// Backend is "file", "badger", or "memory".
	Backend string `koanf:"backend" validate:"oneof=file badger memory"`
	// Path is the checkpoint directory for file and badger backends.
	Path string `koanf:"path"`
	// IntervalRecords saves after this many records per feed.
	IntervalRecords int `koanf:"interval_records" validate:"min=1"`
	// IntervalSeconds saves after this much elapsed time per feed.
	IntervalSeconds time.Duration `koanf:"interval_seconds" validate:"min=1s"`
}

// ResourceConfig tunes the shared HTTP pool.
type ResourceConfig struct {
	RequestsPerSecond       float64       `koanf:"requests_per_second" validate:"min=0"`
	Burst                   int           `koanf:"burst" validate:"min=0"`
	MaxConcurrent           int64         `koanf:"max_concurrent" validate:"min=1"`
	HTTPTimeout             time.Duration `koanf:"http_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `koanf:"breaker_cooldown"`
}

// EventsConfig tunes the in-process event bus.
type EventsConfig struct {
	BufferSize int64 `koanf:"buffer_size" validate:"min=1"`
}

// FeedsConfig declares the feeds to collect, grouped by adapter kind.
type FeedsConfig struct {
	RSS     []feed.RSSConfig     `koanf:"rss"`
	JSONAPI []feed.JSONAPIConfig `koanf:"jsonapi"`
	Dir     []feed.DirConfig     `koanf:"dir"`
}

// ServerConfig tunes the observability HTTP server.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig tunes the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:      "duckdb",
			Path:         "/data/feedspine.duckdb",
			MaxMemory:    "2GB",
			Threads:      0,
			QueryTimeout: 30 * time.Second,
		},
		Collector: CollectorConfig{
			BufferCapacity: 1000,
			MaxConcurrent:  4,
			AdapterTimeout: 15 * time.Minute,
			Interval:       5 * time.Minute,
			RunOnStartup:   true,
			Parallel:       true,
		},
		Dedup: DedupConfig{
			CacheSize:   100000,
			CacheTTL:    15 * time.Minute,
			LockStripes: 128,
		},
		Checkpoints: CheckpointConfig{
			Backend:         "file",
			Path:            "/data/checkpoints",
			IntervalRecords: 100,
			IntervalSeconds: 60 * time.Second,
		},
		Resources: ResourceConfig{
			RequestsPerSecond:       5,
			Burst:                   10,
			MaxConcurrent:           64,
			HTTPTimeout:             30 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Second,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8640,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
