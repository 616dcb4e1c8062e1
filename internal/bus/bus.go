// FeedSpine - Feed Capture and Deduplication Framework
// Copyright 2026 FeedSpine Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedspine/feedspine

// Package bus is the in-process pub/sub for collection lifecycle events.
// Handlers run concurrently per event; a slow or failing handler never
// blocks the publisher or aborts collection.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/feedspine/feedspine/internal/logging"
	"github.com/feedspine/feedspine/internal/model"
)

// allTopic receives a copy of every event for SubscribeAll handlers.
const allTopic = "events.all"

// Handler consumes one event. A returned error is logged and swallowed.
type Handler func(ctx context.Context, ev Event) error

// Bus is the single-process event bus, built on watermill's gochannel
// Pub/Sub. Each event type is one topic; every event is additionally
// mirrored to a firehose topic for SubscribeAll.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu        sync.Mutex
	cancelers []context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
}

// New creates an event bus. bufferSize bounds each subscriber's queue;
// 0 uses 256.
func New(bufferSize int64) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: bufferSize,
		}, watermillLogger{}),
	}
}

// Publish delivers the event to every matching subscriber. It never
// fails because of handler errors; only a closed bus errors.
func (b *Bus) Publish(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: event bus", model.ErrClosed)
	}
	b.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	msg := message.NewMessage(ev.EventID, payload)
	if err := b.pubsub.Publish(string(ev.Type), msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	mirror := message.NewMessage(ev.EventID, payload)
	if err := b.pubsub.Publish(allTopic, mirror); err != nil {
		return fmt.Errorf("publish %s to firehose: %w", ev.Type, err)
	}
	return nil
}

// Subscribe registers a handler for one event type. The returned
// function unsubscribes; it is idempotent.
func (b *Bus) Subscribe(t Type, h Handler) (func(), error) {
	return b.subscribe(string(t), h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) (func(), error) {
	return b.subscribe(allTopic, h)
}

func (b *Bus) subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: event bus", model.ErrClosed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	b.cancelers = append(b.cancelers, cancel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Error().Err(err).Str("topic", topic).Msg("event decode failed")
				msg.Ack()
				continue
			}
			// Handlers run concurrently per event so one blocked
			// handler does not delay the next delivery.
			b.wg.Add(1)
			go func(ev Event) {
				defer b.wg.Done()
				if err := h(ctx, ev); err != nil {
					logging.Warn().
						Err(err).
						Str("event_type", string(ev.Type)).
						Str("event_id", ev.EventID).
						Msg("event handler failed")
				}
			}(ev)
			msg.Ack()
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Close tears the bus down: no further publishes or subscribes succeed,
// and all handler goroutines are waited out.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancelers := b.cancelers
	b.mu.Unlock()

	for _, cancel := range cancelers {
		cancel()
	}
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
