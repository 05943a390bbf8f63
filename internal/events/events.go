// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package events carries import and backfill lifecycle events over an
// in-process Watermill GoChannel pub/sub.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/metrics"
)

// Topics.
const (
	TopicBackfillStarted       = "backfill.started"
	TopicBackfillDateCompleted = "backfill.date_completed"
	TopicBackfillFinished      = "backfill.finished"
	TopicImportCompleted       = "import.completed"
)

// AllTopics lists every topic in publication order of a typical backfill.
var AllTopics = []string{
	TopicBackfillStarted,
	TopicBackfillDateCompleted,
	TopicBackfillFinished,
	TopicImportCompleted,
}

// JobEvent is the payload of every lifecycle event.
type JobEvent struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	JobID     string    `json:"job_id,omitempty"`
	Date      string    `json:"date,omitempty"`
	Status    string    `json:"status"`
	Processed int       `json:"processed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Created   int       `json:"records_created,omitempty"`
	Updated   int       `json:"records_updated,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Decode parses a JobEvent from a Watermill message payload.
func Decode(msg *message.Message) (*JobEvent, error) {
	var ev JobEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode job event: %w", err)
	}
	return &ev, nil
}

// Bus is a process-local publisher and subscriber.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a Bus whose Watermill logs go to the global zerolog logger.
func NewBus() *Bus {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger("events"))
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logger),
		logger: logger,
	}
}

// Logger returns the Watermill logger used by the bus.
func (b *Bus) Logger() watermill.LoggerAdapter {
	return b.logger
}

// Publish serializes ev and publishes it on ev.Topic. Events without
// subscribers are dropped.
func (b *Bus) Publish(ctx context.Context, ev *JobEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	if ev.Topic == "" {
		return fmt.Errorf("event topic is empty")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	msg := message.NewMessageWithContext(ctx, ev.ID, data)
	if ev.JobID != "" {
		msg.Metadata.Set("job_id", ev.JobID)
	}
	if err := b.pubsub.Publish(ev.Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Topic, err)
	}
	metrics.EventsPublished.WithLabelValues(ev.Topic).Inc()
	return nil
}

// Subscribe returns a channel of messages for topic until ctx is done.
// Each subscriber receives its own copy of every message and must Ack it.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Subscriber exposes the bus as a Watermill subscriber for routers.
func (b *Bus) Subscriber() message.Subscriber {
	return b.pubsub
}

// Close stops delivery to all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
