// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package enrich

import (
	"context"

	"github.com/feedspine/feedspine/internal/model"
)

// Func wraps a plain function as an Enricher. The zero predicates mean
// "always eligible".
type Func struct {
	// EnricherName is the chain-visible name. Required.
	EnricherName string
	// Layer, when set, restricts the enricher to records at that layer.
	Layer *model.Layer
	// Content, when set, restricts the enricher to records whose content
	// matches the subset.
	Content map[string]any
	// Fn produces the enrichment outcome.
	Fn func(ctx context.Context, rec *model.Record) model.EnrichmentResult
}

var _ Enricher = Func{}

func (f Func) Name() string { return f.EnricherName }

func (f Func) RequiresLayer() (model.Layer, bool) {
	if f.Layer == nil {
		return 0, false
	}
	return *f.Layer, true
}

func (f Func) RequiresContent() map[string]any { return f.Content }

func (f Func) Enrich(ctx context.Context, rec *model.Record) model.EnrichmentResult {
	return f.Fn(ctx, rec)
}
