// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/feedspine/feedspine/internal/logging"
)

// watermillLogger adapts the global zerolog logger to watermill's
// LoggerAdapter. Watermill's Info level is downgraded to debug; its
// internals are noisy for an in-process bus.
type watermillLogger struct {
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = watermillLogger{}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error(), fields).Err(err).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), fields).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return watermillLogger{fields: merged}
}

func (l watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
