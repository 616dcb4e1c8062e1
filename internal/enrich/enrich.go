// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package enrich runs ordered enricher chains that promote records
// through the Bronze, Silver, Gold layers. Promotions are strictly
// monotone; an enricher that tries to move a record sideways or down is
// reported as failed and the chain continues.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
	"github.com/feedspine/feedspine/internal/storage"
)

// Enricher transforms eligible records and promotes their layer.
type Enricher interface {
	// Name identifies the enricher in logs, events, and step reports.
	Name() string
	// RequiresLayer returns the layer a record must currently be at for
	// this enricher to run. ok=false means any layer is eligible.
	RequiresLayer() (model.Layer, bool)
	// RequiresContent returns subset-match constraints over the record's
	// content. nil means no content constraint.
	RequiresContent() map[string]any
	// Enrich inspects the record and returns the outcome. Implementations
	// must not mutate the record; mutation is the chain's job.
	Enrich(ctx context.Context, rec *model.Record) model.EnrichmentResult
}

// BatchEnricher is an optional capability: enrichers that amortize cost
// across records (one API call for many records) implement it and the
// chain hands them whole batches.
type BatchEnricher interface {
	Enricher
	// BatchSize is the preferred batch size, >= 1.
	BatchSize() int
	// EnrichBatch returns one result per input record, same order.
	EnrichBatch(ctx context.Context, recs []*model.Record) []model.EnrichmentResult
}

// Step reports one enricher's outcome for one record.
type Step struct {
	Enricher string
	Result   model.EnrichmentResult
}

// Chain holds the ordered enrichers and applies them to records,
// persisting promotions through the store.
type Chain struct {
	mu      sync.RWMutex
	entries []chainEntry
	store   storage.Store
	nowFn   func() time.Time
}

type chainEntry struct {
	order    int
	seq      int // registration sequence, breaks order ties
	enricher Enricher
}

// NewChain creates an empty chain over the given store.
func NewChain(store storage.Store) *Chain {
	return &Chain{store: store, nowFn: time.Now}
}

// Register appends an enricher at the end of the chain.
func (c *Chain) Register(e Enricher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order := 0
	if len(c.entries) > 0 {
		order = c.entries[len(c.entries)-1].order + 1
	}
	c.insert(e, order)
}

// RegisterAt inserts an enricher at the given order. Lower orders run
// first; equal orders run in registration sequence.
func (c *Chain) RegisterAt(e Enricher, order int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(e, order)
}

func (c *Chain) insert(e Enricher, order int) {
	c.entries = append(c.entries, chainEntry{order: order, seq: len(c.entries), enricher: e})
	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].order != c.entries[j].order {
			return c.entries[i].order < c.entries[j].order
		}
		return c.entries[i].seq < c.entries[j].seq
	})
}

// Len reports the number of registered enrichers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Run applies the chain to one record. The record is mutated in place as
// promotions apply, so later enrichers see earlier promotions. Returns
// one step per enricher invoked or skipped. Only storage failures abort;
// enricher failures are recorded in their step and the chain continues.
func (c *Chain) Run(ctx context.Context, rec *model.Record) ([]Step, error) {
	c.mu.RLock()
	entries := make([]chainEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	steps := make([]Step, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		e := entry.enricher
		if reason, ok := c.eligible(e, rec); !ok {
			steps = append(steps, Step{Enricher: e.Name(), Result: model.Skipped(reason)})
			continue
		}

		result := e.Enrich(ctx, rec)
		if result.Status == model.EnrichmentApplied {
			if err := c.apply(ctx, rec, e.Name(), &result); err != nil {
				return steps, err
			}
		}
		if result.Status == model.EnrichmentFailed {
			logging.Ctx(ctx).Warn().
				Str("enricher", e.Name()).
				Str("record_id", rec.RecordID).
				Err(result.Err).
				Msg("enricher failed")
		}
		steps = append(steps, Step{Enricher: e.Name(), Result: result})
	}
	return steps, nil
}

// eligible evaluates the enricher's declarative predicates against the
// record's current state.
func (c *Chain) eligible(e Enricher, rec *model.Record) (string, bool) {
	if required, ok := e.RequiresLayer(); ok && rec.Layer != required {
		return fmt.Sprintf("requires layer %s, record at %s", required, rec.Layer), false
	}
	if constraints := e.RequiresContent(); constraints != nil && !rec.Content.MatchesSubset(constraints) {
		return "content constraints not met", false
	}
	return "", true
}

// apply persists an applied result and folds it into the in-memory
// record. A non-monotone NewLayer converts the result to failed with
// ErrInvalidPromotion; the record is left untouched.
func (c *Chain) apply(ctx context.Context, rec *model.Record, name string, result *model.EnrichmentResult) error {
	if !result.NewLayer.Above(rec.Layer) {
		err := fmt.Errorf("%w: %s -> %s by %s", model.ErrInvalidPromotion, rec.Layer, result.NewLayer, name)
		*result = model.Failed(err)
		logging.Ctx(ctx).Warn().
			Str("enricher", name).
			Str("record_id", rec.RecordID).
			Err(err).
			Msg("non-monotone promotion rejected")
		return nil
	}

	merged := rec.Content.Merge(result.Enrichments)
	now := c.nowFn().UTC()
	if !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Nanosecond)
	}
	if err := c.store.UpdateLayer(ctx, rec.RecordID, result.NewLayer, merged, now); err != nil {
		return err
	}
	rec.Content = merged
	rec.Layer = result.NewLayer
	rec.UpdatedAt = now

	logging.Ctx(ctx).Debug().
		Str("enricher", name).
		Str("record_id", rec.RecordID).
		Str("layer", rec.Layer.String()).
		Msg("record promoted")
	return nil
}

// RunBatch applies the chain to a batch of records, letting
// BatchEnrichers see whole batches. Records are mutated in place; the
// returned steps are indexed per record in input order.
func (c *Chain) RunBatch(ctx context.Context, recs []*model.Record) ([][]Step, error) {
	c.mu.RLock()
	entries := make([]chainEntry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	steps := make([][]Step, len(recs))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		be, isBatch := entry.enricher.(BatchEnricher)
		if !isBatch {
			for i, rec := range recs {
				sub, err := c.runOne(ctx, entry.enricher, rec)
				if err != nil {
					return steps, err
				}
				steps[i] = append(steps[i], sub)
			}
			continue
		}

		size := be.BatchSize()
		if size <= 0 {
			size = len(recs)
		}
		for start := 0; start < len(recs); start += size {
			end := start + size
			if end > len(recs) {
				end = len(recs)
			}
			if err := c.runBatchWindow(ctx, be, recs, steps, start, end); err != nil {
				return steps, err
			}
		}
	}
	return steps, nil
}

func (c *Chain) runOne(ctx context.Context, e Enricher, rec *model.Record) (Step, error) {
	if reason, ok := c.eligible(e, rec); !ok {
		return Step{Enricher: e.Name(), Result: model.Skipped(reason)}, nil
	}
	result := e.Enrich(ctx, rec)
	if result.Status == model.EnrichmentApplied {
		if err := c.apply(ctx, rec, e.Name(), &result); err != nil {
			return Step{}, err
		}
	}
	return Step{Enricher: e.Name(), Result: result}, nil
}

func (c *Chain) runBatchWindow(ctx context.Context, be BatchEnricher, recs []*model.Record, steps [][]Step, start, end int) error {
	window := make([]*model.Record, 0, end-start)
	indexes := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		if reason, ok := c.eligible(be, recs[i]); !ok {
			steps[i] = append(steps[i], Step{Enricher: be.Name(), Result: model.Skipped(reason)})
			continue
		}
		window = append(window, recs[i])
		indexes = append(indexes, i)
	}
	if len(window) == 0 {
		return nil
	}

	results := be.EnrichBatch(ctx, window)
	for j, idx := range indexes {
		if j >= len(results) {
			steps[idx] = append(steps[idx], Step{Enricher: be.Name(),
				Result: model.Failed(fmt.Errorf("%w: batch enricher %s returned %d results for %d records",
					model.ErrAdapter, be.Name(), len(results), len(window)))})
			continue
		}
		result := results[j]
		if result.Status == model.EnrichmentApplied {
			if err := c.apply(ctx, recs[idx], be.Name(), &result); err != nil {
				return err
			}
		}
		steps[idx] = append(steps[idx], Step{Enricher: be.Name(), Result: result})
	}
	return nil
}
