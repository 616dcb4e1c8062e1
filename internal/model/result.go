// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import "time"

// CollectionStatus is the overall outcome of a collection run.
type CollectionStatus string

const (
	// StatusCompleted means every adapter ran to completion.
	StatusCompleted CollectionStatus = "completed"
	// StatusPartial means at least one adapter failed or the run was
	// cancelled, but other work completed and was persisted.
	StatusPartial CollectionStatus = "partial"
	// StatusFailed means the run aborted before meaningful work.
	StatusFailed CollectionStatus = "failed"
)

// PipelineStats aggregates per-adapter counters for one collection run.
type PipelineStats struct {
	RecordsProcessed int64         `json:"records_processed"`
	RecordsNew       int64         `json:"records_new"`
	RecordsDuplicate int64         `json:"records_duplicate"`
	Errors           int64         `json:"errors"`
	Duration         time.Duration `json:"duration"`
}

// CollectionResult is the materialized outcome of a collect invocation.
type CollectionResult struct {
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Status     CollectionStatus         `json:"status"`
	Feeds      map[string]PipelineStats `json:"feeds"`

	TotalProcessed int64 `json:"total_processed"`
	TotalNew       int64 `json:"total_new"`
	TotalDuplicate int64 `json:"total_duplicate"`
	TotalErrors    int64 `json:"total_errors"`
}

// NewCollectionResult starts an empty result at now.
func NewCollectionResult(now time.Time) *CollectionResult {
	return &CollectionResult{
		StartedAt: now.UTC(),
		Status:    StatusCompleted,
		Feeds:     make(map[string]PipelineStats),
	}
}

// AddFeed records a feed's stats and folds them into the totals.
func (r *CollectionResult) AddFeed(name string, stats PipelineStats) {
	r.Feeds[name] = stats
	r.TotalProcessed += stats.RecordsProcessed
	r.TotalNew += stats.RecordsNew
	r.TotalDuplicate += stats.RecordsDuplicate
	r.TotalErrors += stats.Errors
}

// Finish stamps the end time and settles the status: any adapter error
// degrades completed to partial; an explicit failure wins over both.
func (r *CollectionResult) Finish(now time.Time, failed bool) {
	r.FinishedAt = now.UTC()
	switch {
	case failed:
		r.Status = StatusFailed
	case r.TotalErrors > 0 && r.Status == StatusCompleted:
		r.Status = StatusPartial
	}
}

// EnrichmentStatus classifies the outcome of one enricher application.
type EnrichmentStatus string

const (
	// EnrichmentApplied means the enrichments were merged and the record
	// promoted to the result's NewLayer.
	EnrichmentApplied EnrichmentStatus = "applied"
	// EnrichmentSkipped means the enricher declined without mutation.
	EnrichmentSkipped EnrichmentStatus = "skipped"
	// EnrichmentFailed means the enricher errored; the record stays at
	// its current layer.
	EnrichmentFailed EnrichmentStatus = "failed"
)

// EnrichmentResult is returned by each enricher in the chain.
type EnrichmentResult struct {
	Status      EnrichmentStatus `json:"status"`
	Enrichments map[string]any   `json:"enrichments,omitempty"`
	NewLayer    Layer            `json:"new_layer,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Err         error            `json:"-"`
}

// Applied builds a successful enrichment result promoting to newLayer.
func Applied(enrichments map[string]any, newLayer Layer) EnrichmentResult {
	return EnrichmentResult{Status: EnrichmentApplied, Enrichments: enrichments, NewLayer: newLayer}
}

// Skipped builds a no-op enrichment result with a reason.
func Skipped(reason string) EnrichmentResult {
	return EnrichmentResult{Status: EnrichmentSkipped, Reason: reason}
}

// Failed builds a failed enrichment result carrying the error.
func Failed(err error) EnrichmentResult {
	return EnrichmentResult{Status: EnrichmentFailed, Err: err}
}
