// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import "errors"

// Error taxonomy. Every component classifies failures into one of these
// kinds via errors.Is; callers branch on the kind, never on message text.

// ErrInvalidCandidate indicates a candidate failed validation (empty key,
// malformed timestamp). The candidate is counted in stats and skipped.
var ErrInvalidCandidate = errors.New("invalid candidate")

// ErrDuplicateNaturalKey is the race-condition signal from storage when an
// insert loses a find-then-act race. The ingest path retries the lookup
// once on this error.
var ErrDuplicateNaturalKey = errors.New("duplicate natural key")

// ErrInvalidPromotion indicates a non-monotone layer transition. The
// enrichment is skipped with a failed result; the record is unchanged.
var ErrInvalidPromotion = errors.New("invalid layer promotion")

// ErrStorage indicates an I/O failure in the storage backend.
var ErrStorage = errors.New("storage error")

// ErrAdapter indicates a fetch or parse failure inside a feed adapter.
var ErrAdapter = errors.New("adapter error")

// ErrConfig indicates invalid configuration at setup. Raised synchronously
// from RegisterFeed and collector construction, never mid-collection.
var ErrConfig = errors.New("invalid configuration")

// ErrNotFound is returned by storage lookups for unknown IDs or keys.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by components used after Close.
var ErrClosed = errors.New("closed")
