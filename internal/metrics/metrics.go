// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the capture engine:
// - ingestion throughput and dedup outcomes per feed
// - enrichment promotions per layer transition
// - adapter run durations and failures
// - streaming buffer depth
// - checkpoint and event bus activity

var (
	// Ingestion
	CandidatesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_candidates_ingested_total",
			Help: "Total candidates processed by the dedup engine",
		},
		[]string{"source", "outcome"}, // "new", "duplicate", "error"
	)

	ContentChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_content_changes_total",
			Help: "Duplicate candidates whose content hash differed from the stored record",
		},
		[]string{"source"},
	)

	SeenCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedspine_seen_cache_hits_total",
			Help: "Natural-key lookups served from the seen cache",
		},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedspine_ingest_duration_seconds",
			Help:    "Duration of single-candidate ingestion including storage writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Enrichment
	Promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_promotions_total",
			Help: "Successful layer promotions",
		},
		[]string{"enricher", "from_layer", "to_layer"},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_enrichment_failures_total",
			Help: "Enricher invocations that returned a failed result",
		},
		[]string{"enricher"},
	)

	// Adapters
	AdapterRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_adapter_runs_total",
			Help: "Adapter executions by terminal status",
		},
		[]string{"adapter", "status"}, // "completed", "failed", "cancelled"
	)

	AdapterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedspine_adapter_duration_seconds",
			Help:    "Wall time of one adapter run from open to close",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"adapter"},
	)

	// Streaming
	BufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedspine_buffer_depth",
			Help: "Current number of buffered items per pipeline stage",
		},
		[]string{"stage"},
	)

	// Checkpoints
	CheckpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_checkpoint_saves_total",
			Help: "Checkpoint writes by result",
		},
		[]string{"feed", "result"}, // "ok", "error"
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedspine_events_published_total",
			Help: "Events published on the in-process bus",
		},
		[]string{"type"},
	)

	// Resource pool
	PoolInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedspine_pool_in_flight",
			Help: "Outstanding resource pool acquisitions",
		},
	)
)

// ObserveIngest records one ingestion with its outcome and latency.
func ObserveIngest(source, outcome string, d time.Duration) {
	CandidatesIngested.WithLabelValues(source, outcome).Inc()
	IngestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveAdapterRun records one adapter execution.
func ObserveAdapterRun(adapter, status string, d time.Duration) {
	AdapterRuns.WithLabelValues(adapter, status).Inc()
	AdapterDuration.WithLabelValues(adapter).Observe(d.Seconds())
}
