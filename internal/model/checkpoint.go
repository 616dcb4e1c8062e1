// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package model

import (
	"fmt"
	"time"
)

// Checkpoint is a per-feed progress marker. The cursor is opaque to the
// engine; an adapter that supports resume must accept any cursor it
// previously emitted.
type Checkpoint struct {
	FeedName         string    `json:"feed_name"`
	Cursor           string    `json:"cursor"`
	RecordsProcessed int64     `json:"records_processed"`
	SavedAt          time.Time `json:"saved_at"`
}

// Validate checks the checkpoint before persistence.
func (cp Checkpoint) Validate() error {
	if cp.FeedName == "" {
		return fmt.Errorf("%w: checkpoint missing feed name", ErrConfig)
	}
	if cp.RecordsProcessed < 0 {
		return fmt.Errorf("%w: negative records_processed", ErrConfig)
	}
	return nil
}
