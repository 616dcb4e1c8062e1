// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package bus

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a lifecycle event.
type Type string

// Lifecycle event types published by the collector.
const (
	CollectionStarted   Type = "collection.started"
	CollectionProgress  Type = "collection.progress"
	CollectionCompleted Type = "collection.completed"
	CollectionFailed    Type = "collection.failed"
	AdapterStarted      Type = "adapter.started"
	AdapterCompleted    Type = "adapter.completed"
	AdapterFailed       Type = "adapter.failed"
	RecordDiscovered    Type = "record.discovered"
	RecordDuplicate     Type = "record.duplicate"
)

// Priority classifies how urgently subscribers should treat an event.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	// EventID is unique per published event.
	EventID string `json:"event_id"`
	// Type selects which subscribers receive the event.
	Type Type `json:"type"`
	// Timestamp is the publication time, UTC.
	Timestamp time.Time `json:"timestamp"`
	// Source names the publishing component (collector, adapter name).
	Source string `json:"source"`
	// Priority defaults to normal.
	Priority Priority `json:"priority"`
	// Payload carries event-specific fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event envelope with a fresh id and UTC timestamp.
func NewEvent(t Type, source string, priority Priority, payload map[string]any) Event {
	if priority == "" {
		priority = PriorityNormal
	}
	return Event{
		EventID:   uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Priority:  priority,
		Payload:   payload,
	}
}
