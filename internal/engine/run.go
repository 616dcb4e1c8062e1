// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/feedspine/feedspine/internal/bus"
	"github.com/feedspine/feedspine/internal/enrich"
	"github.com/feedspine/feedspine/internal/feed"
	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/metrics"
	"github.com/feedspine/feedspine/internal/model"
)

// RecordStream is the consumer side of a running collection. Records()
// yields newly created records only; it closes when every adapter has
// finished. Result() blocks until then and returns the materialized
// outcome.
type RecordStream struct {
	out    chan *model.Record
	done   chan struct{}
	result *model.CollectionResult
}

// Records returns the stream of newly persisted records. The caller
// must drain it; an abandoned stream stalls the collection once the
// buffer fills.
func (s *RecordStream) Records() <-chan *model.Record { return s.out }

// Result blocks until the collection finishes and returns its outcome.
func (s *RecordStream) Result() (*model.CollectionResult, error) {
	<-s.done
	return s.result, nil
}

// run drives one collection with the given adapter concurrency.
func (c *Collector) run(ctx context.Context, concurrency int) *RecordStream {
	rs := &RecordStream{
		out:  make(chan *model.Record, c.cfg.BufferCapacity),
		done: make(chan struct{}),
	}
	adapters := c.snapshotAdapters()
	result := model.NewCollectionResult(time.Now())

	c.publish(bus.CollectionStarted, "collector", bus.PriorityNormal, map[string]any{
		"feeds":       c.Feeds(),
		"concurrency": concurrency,
	})

	go func() {
		defer close(rs.done)
		defer close(rs.out)

		var (
			mu     sync.Mutex
			failed int
		)
		sem := semaphore.NewWeighted(int64(concurrency))
		var wg sync.WaitGroup
		for _, a := range adapters {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(a feed.Adapter) {
				defer wg.Done()
				defer sem.Release(1)
				stats, runFailed := c.runAdapter(ctx, a, rs.out)
				mu.Lock()
				result.AddFeed(a.Name(), stats)
				if runFailed {
					failed++
				}
				mu.Unlock()
			}(a)
		}
		wg.Wait()

		if c.checkpoints != nil {
			if err := c.checkpoints.Flush(context.WithoutCancel(ctx)); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("checkpoint flush failed")
			}
		}

		cancelled := ctx.Err() != nil
		allFailed := len(adapters) > 0 && failed == len(adapters)
		result.Finish(time.Now(), allFailed && !cancelled)
		if (cancelled || failed > 0) && result.Status == model.StatusCompleted {
			result.Status = model.StatusPartial
		}

		evType := bus.CollectionCompleted
		priority := bus.PriorityNormal
		if result.Status == model.StatusFailed {
			evType = bus.CollectionFailed
			priority = bus.PriorityHigh
		}
		c.publish(evType, "collector", priority, map[string]any{
			"status":          string(result.Status),
			"feeds":           sortedFeedNames(result.Feeds),
			"total_processed": result.TotalProcessed,
			"total_new":       result.TotalNew,
			"total_duplicate": result.TotalDuplicate,
			"total_errors":    result.TotalErrors,
			"cancelled":       cancelled,
		})

		logging.Ctx(ctx).Info().
			Str("status", string(result.Status)).
			Int64("processed", result.TotalProcessed).
			Int64("new", result.TotalNew).
			Int64("duplicate", result.TotalDuplicate).
			Int64("errors", result.TotalErrors).
			Msg("collection finished")

		rs.result = result
	}()
	return rs
}

// runAdapter executes one adapter end to end: resume, open, fetch,
// ingest, enrich, checkpoint, close. The returned failed flag is true
// only when the adapter could not run at all; mid-stream errors are
// counted in stats and the run still completes.
func (c *Collector) runAdapter(ctx context.Context, a feed.Adapter, out chan<- *model.Record) (model.PipelineStats, bool) {
	var stats model.PipelineStats
	start := time.Now()
	name := a.Name()
	log := logging.Ctx(ctx).With().Str("feed", name).Logger()

	if c.cfg.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AdapterTimeout)
		defer cancel()
	}

	c.resume(ctx, a)

	c.publish(bus.AdapterStarted, name, bus.PriorityNormal, map[string]any{"adapter": name})

	if err := a.Open(ctx); err != nil {
		stats.Errors++
		stats.Duration = time.Since(start)
		log.Error().Err(err).Msg("adapter open failed")
		c.publish(bus.AdapterFailed, name, bus.PriorityHigh, map[string]any{
			"adapter": name,
			"error":   err.Error(),
		})
		metrics.ObserveAdapterRun(name, "failed", stats.Duration)
		return stats, true
	}
	defer c.closeAdapter(a)

	items := a.Fetch(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case it, ok := <-items:
			if !ok {
				break loop
			}
			if it.Err != nil {
				stats.Errors++
				log.Warn().Err(it.Err).Msg("adapter item error")
				continue
			}
			stats.RecordsProcessed++
			c.ingestOne(ctx, name, it.Candidate, &stats, out, &log)
			c.track(ctx, a, stats.RecordsProcessed)
			if stats.RecordsProcessed%progressEvery == 0 {
				c.publish(bus.CollectionProgress, name, bus.PriorityLow, map[string]any{
					"adapter":   name,
					"processed": stats.RecordsProcessed,
					"new":       stats.RecordsNew,
					"duplicate": stats.RecordsDuplicate,
				})
			}
		}
	}

	// The cursor settles once the fetch loop ends; persist it outside the
	// run context so the save survives cancellation.
	if stats.RecordsProcessed > 0 {
		c.track(context.WithoutCancel(ctx), a, stats.RecordsProcessed)
	}

	stats.Duration = time.Since(start)
	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	metrics.ObserveAdapterRun(name, status, stats.Duration)
	c.publish(bus.AdapterCompleted, name, bus.PriorityNormal, map[string]any{
		"adapter":   name,
		"processed": stats.RecordsProcessed,
		"new":       stats.RecordsNew,
		"duplicate": stats.RecordsDuplicate,
		"errors":    stats.Errors,
		"cancelled": ctx.Err() != nil,
	})
	log.Debug().
		Int64("processed", stats.RecordsProcessed).
		Int64("new", stats.RecordsNew).
		Int64("duplicate", stats.RecordsDuplicate).
		Int64("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("adapter run finished")
	return stats, false
}

// ingestOne pushes one candidate through dedup and, for new records,
// the enrichment chain and the output stream.
func (c *Collector) ingestOne(ctx context.Context, source string, cand model.RecordCandidate, stats *model.PipelineStats, out chan<- *model.Record, log *zerolog.Logger) {
	ingestStart := time.Now()
	res, err := c.dedup.Ingest(ctx, cand)
	if err != nil {
		stats.Errors++
		metrics.ObserveIngest(source, "error", time.Since(ingestStart))
		log.Warn().Err(err).Str("natural_key", cand.NaturalKey).Msg("ingest failed")
		return
	}

	if !res.IsNew {
		stats.RecordsDuplicate++
		metrics.ObserveIngest(source, "duplicate", time.Since(ingestStart))
		if res.ContentChanged {
			metrics.ContentChanges.WithLabelValues(source).Inc()
		}
		c.publish(bus.RecordDuplicate, source, bus.PriorityLow, map[string]any{
			"natural_key":     res.Record.NaturalKey,
			"record_id":       res.Record.RecordID,
			"content_changed": res.ContentChanged,
		})
		return
	}

	stats.RecordsNew++
	metrics.ObserveIngest(source, "new", time.Since(ingestStart))

	steps, err := c.chain.Run(ctx, res.Record)
	if err != nil && !errors.Is(err, context.Canceled) {
		stats.Errors++
		log.Warn().Err(err).Str("record_id", res.Record.RecordID).Msg("enrichment chain failed")
	}
	observeEnrichment(steps)

	c.publish(bus.RecordDiscovered, source, bus.PriorityNormal, map[string]any{
		"natural_key": res.Record.NaturalKey,
		"record_id":   res.Record.RecordID,
		"layer":       res.Record.Layer.String(),
	})

	select {
	case out <- res.Record:
		metrics.BufferDepth.WithLabelValues("records").Set(float64(len(out)))
	case <-ctx.Done():
	}
}

// observeEnrichment records promotion and failure metrics for one chain
// run. New records enter at Bronze, so each applied step promotes from
// the previous applied step's layer.
func observeEnrichment(steps []enrich.Step) {
	from := model.LayerBronze
	for _, s := range steps {
		switch s.Result.Status {
		case model.EnrichmentApplied:
			metrics.Promotions.WithLabelValues(s.Enricher, from.String(), s.Result.NewLayer.String()).Inc()
			from = s.Result.NewLayer
		case model.EnrichmentFailed:
			metrics.EnrichmentFailures.WithLabelValues(s.Enricher).Inc()
		}
	}
}

// resume restores the adapter's cursor from the last saved checkpoint.
func (c *Collector) resume(ctx context.Context, a feed.Adapter) {
	if c.checkpoints == nil {
		return
	}
	r, ok := a.(feed.Resumable)
	if !ok {
		return
	}
	cp, err := c.checkpoints.Load(ctx, a.Name())
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logging.Ctx(ctx).Warn().Str("feed", a.Name()).Err(err).Msg("checkpoint load failed")
		}
		return
	}
	if err := r.Resume(*cp); err != nil {
		logging.Ctx(ctx).Warn().Str("feed", a.Name()).Str("cursor", cp.Cursor).Err(err).Msg("checkpoint resume rejected")
		return
	}
	logging.Ctx(ctx).Info().Str("feed", a.Name()).Str("cursor", cp.Cursor).Msg("resumed from checkpoint")
}

// track persists the adapter's current cursor through the manager,
// which decides whether a save is actually due.
func (c *Collector) track(ctx context.Context, a feed.Adapter, processed int64) {
	if c.checkpoints == nil {
		return
	}
	cpr, ok := a.(feed.Checkpointer)
	if !ok {
		return
	}
	cp, ok := cpr.CurrentCheckpoint()
	if !ok {
		return
	}
	if err := c.checkpoints.Track(ctx, a.Name(), cp.Cursor, processed); err != nil {
		metrics.CheckpointSaves.WithLabelValues(a.Name(), "error").Inc()
		logging.Ctx(ctx).Warn().Str("feed", a.Name()).Err(err).Msg("checkpoint save failed")
		return
	}
	metrics.CheckpointSaves.WithLabelValues(a.Name(), "ok").Inc()
}

// closeAdapter closes with a fresh context so cleanup is not skipped
// when the run context is already cancelled.
func (c *Collector) closeAdapter(a feed.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logging.Warn().Str("feed", a.Name()).Err(err).Msg("adapter close failed")
	}
}

// publish emits an event if a bus is attached. Publish errors are
// logged and dropped; eventing never fails a collection.
func (c *Collector) publish(t bus.Type, source string, priority bus.Priority, payload map[string]any) {
	if c.eventBus == nil {
		return
	}
	if err := c.eventBus.Publish(bus.NewEvent(t, source, priority, payload)); err != nil {
		logging.Debug().Str("type", string(t)).Err(err).Msg("event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()
}
