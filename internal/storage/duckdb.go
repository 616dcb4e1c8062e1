// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
)

// DuckDBConfig tunes the embedded analytic store.
type DuckDBConfig struct {
	// Path is the database file. Required.
	Path string `koanf:"path"`
	// MaxMemory caps DuckDB's memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB worker count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
	// QueryTimeout bounds individual statements when the caller passes a
	// context without a deadline. Default 30s.
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// DuckDB is the persistent Store backed by an embedded DuckDB database.
//
// Per-natural-key mutations are serialized through an in-process lock map
// (DuckDB enforces the unique index, but the first-sighting decision needs
// a read-then-write that must not interleave for the same key).
type DuckDB struct {
	conn *sql.DB
	cfg  DuckDBConfig

	// keyLocks serializes record+sighting mutations per natural key.
	keyLocks sync.Map // natural key -> *sync.Mutex

	// seq breaks seen_at ties in append order for one store instance.
	seqMu sync.Mutex
	seq   int64

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*DuckDB)(nil)

// NewDuckDB opens (or creates) the database file and prepares the schema.
func NewDuckDB(cfg DuckDBConfig) (*DuckDB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: duckdb path required", model.ErrConfig)
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "1GB"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, cfg.Threads, cfg.MaxMemory)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	db := &DuckDB{conn: conn, cfg: cfg}
	if err := db.Initialize(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", cfg.Threads).
		Str("max_memory", cfg.MaxMemory).
		Msg("DuckDB store opened")
	return db, nil
}

// Initialize creates the schema. Idempotent.
func (db *DuckDB) Initialize(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			record_id     VARCHAR PRIMARY KEY,
			natural_key   VARCHAR NOT NULL UNIQUE,
			published_at  TIMESTAMP,
			content       VARCHAR,
			metadata      VARCHAR NOT NULL,
			content_hash  VARCHAR,
			layer         VARCHAR NOT NULL,
			captured_at   TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			last_seen_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_layer ON records(layer)`,
		`CREATE INDEX IF NOT EXISTS idx_records_published_at ON records(published_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_captured_at ON records(captured_at)`,
		`CREATE TABLE IF NOT EXISTS sightings (
			sighting_id  VARCHAR PRIMARY KEY,
			natural_key  VARCHAR NOT NULL,
			source       VARCHAR NOT NULL,
			seen_at      TIMESTAMP NOT NULL,
			seq          BIGINT NOT NULL,
			is_new       BOOLEAN NOT NULL,
			record_id    VARCHAR NOT NULL,
			content_hash VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_key ON sightings(natural_key, seen_at, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: initialize schema: %v", model.ErrStorage, err)
		}
	}

	// Continue the append-order sequence across restarts.
	var maxSeq sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, `SELECT MAX(seq) FROM sightings`).Scan(&maxSeq); err == nil && maxSeq.Valid {
		db.seqMu.Lock()
		db.seq = maxSeq.Int64
		db.seqMu.Unlock()
	}
	return nil
}

// Close releases the connection. Idempotent.
func (db *DuckDB) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = db.conn.Close()
		logging.Debug().Str("path", db.cfg.Path).Msg("DuckDB store closed")
	})
	return db.closeErr
}

// ensureContext attaches the configured statement timeout when the caller
// did not bring a deadline.
func (db *DuckDB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.cfg.QueryTimeout)
}

// lockKey acquires the per-natural-key mutex.
func (db *DuckDB) lockKey(naturalKey string) *sync.Mutex {
	v, _ := db.keyLocks.LoadOrStore(naturalKey, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (db *DuckDB) nextSeq() int64 {
	db.seqMu.Lock()
	defer db.seqMu.Unlock()
	db.seq++
	return db.seq
}
