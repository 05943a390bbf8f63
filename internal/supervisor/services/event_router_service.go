// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/channelmetrics/internal/events"
)

// EventRouter is the subset of *events.Router the service drives.
type EventRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterFactory builds a fresh router. A Watermill router cannot be run
// again after it stops, so every restart builds a new one.
type RouterFactory func() (EventRouter, error)

// NewEventsRouterFactory returns a factory for routers over bus with the
// logging handler plus one handler per entry of consumers.
func NewEventsRouterFactory(bus *events.Bus, consumers map[string]func(*events.JobEvent)) RouterFactory {
	return func() (EventRouter, error) {
		r, err := events.NewRouter(bus)
		if err != nil {
			return nil, err
		}
		for name, fn := range consumers {
			r.AddEventHandler(name, fn)
		}
		return r, nil
	}
}

// EventRouterService runs the job event router under supervision.
type EventRouterService struct {
	factory RouterFactory
	name    string
}

// NewEventRouterService creates the service.
func NewEventRouterService(factory RouterFactory) *EventRouterService {
	return &EventRouterService{factory: factory, name: "event-router"}
}

// Serve implements suture.Service.
func (s *EventRouterService) Serve(ctx context.Context) error {
	router, err := s.factory()
	if err != nil {
		return fmt.Errorf("build event router: %w", err)
	}
	defer func() { _ = router.Close() }()

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("event router stopped: %w", err)
	}
	// Run returns nil once the router is closed; report the cancellation.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("event router stopped unexpectedly")
}

// String names the service in supervisor logs.
func (s *EventRouterService) String() string {
	return s.name
}
