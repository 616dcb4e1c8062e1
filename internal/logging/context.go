// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const runIDKey ctxKey = iota

// WithRunID returns a context carrying a collection-run ID. If runID is
// empty a new one is generated. Every log line emitted through Ctx for
// this context carries the ID, which ties adapter, dedup, and storage
// lines of one run together.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		runID = uuid.New().String()
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID extracts the collection-run ID from the context, or "".
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// Ctx returns a logger bound to the context's run ID when present,
// otherwise the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if id := RunID(ctx); id != "" {
		l = l.With().Str("run_id", id).Logger()
	}
	return &l
}
