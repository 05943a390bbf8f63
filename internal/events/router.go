// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/channelmetrics/internal/logging"
)

// Router consumes bus topics with Watermill handlers.
type Router struct {
	router *message.Router
	bus    *Bus
}

// NewRouter creates a router over bus with panic recovery and a logging
// handler on every topic.
func NewRouter(bus *Bus) (*Router, error) {
	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, bus.Logger())
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	wmRouter.AddMiddleware(middleware.Recoverer)

	for _, topic := range AllTopics {
		wmRouter.AddConsumerHandler("log-"+topic, topic, bus.Subscriber(), LogHandler)
	}
	return &Router{router: wmRouter, bus: bus}, nil
}

// AddEventHandler subscribes fn to every topic under name. It must be called
// before Run. Undecodable messages are dropped.
func (r *Router) AddEventHandler(name string, fn func(ev *JobEvent)) {
	for _, topic := range AllTopics {
		r.router.AddConsumerHandler(name+"-"+topic, topic, r.bus.Subscriber(), func(msg *message.Message) error {
			ev, err := Decode(msg)
			if err != nil {
				return nil
			}
			fn(ev)
			return nil
		})
	}
}

// LogHandler writes one structured log line per event.
func LogHandler(msg *message.Message) error {
	ev, err := Decode(msg)
	if err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable event")
		return nil
	}
	logging.Info().
		Str("topic", ev.Topic).
		Str("job_id", ev.JobID).
		Str("date", ev.Date).
		Str("status", ev.Status).
		Int("processed", ev.Processed).
		Int("total", ev.Total).
		Msg("Job event")
	return nil
}

// Run blocks until ctx is done or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router.
func (r *Router) Close() error {
	return r.router.Close()
}
