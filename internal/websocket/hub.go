// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package websocket streams job lifecycle events to connected clients.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/channelmetrics/internal/events"
	"github.com/tomtom215/channelmetrics/internal/logging"
)

// Message is one server-to-client frame. Type is the event topic.
type Message struct {
	Type  string      `json:"type"`
	JobID string      `json:"job_id,omitempty"`
	Data  interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// stopped is closed when Serve returns so client pumps do not block on Unregister.
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		stopped:    make(chan struct{}),
	}
}

// Serve runs the hub until ctx is done, then closes every client.
// It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Lifecycle events first so a client registered before a broadcast receives it.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	logging.Debug().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Debug().Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) shutdown() {
	count := h.GetClientCount()
	h.closeAllClients()
	h.stopOnce.Do(func() { close(h.stopped) })
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// unregister removes client, or does nothing once the hub has stopped.
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.stopped:
	}
}

// broadcastToClients sends message to every interested client in ID order.
// Clients whose buffer is full are dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		if !client.Wants(message) {
			continue
		}
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// closeAllClients closes every client. Caller must not hold mu.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
}

// sortedClients returns clients ordered by ID. Caller holds mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// BroadcastEvent queues ev for every client. It never blocks; events are
// dropped when the broadcast buffer is full.
func (h *Hub) BroadcastEvent(ev *events.JobEvent) {
	select {
	case h.broadcast <- Message{Type: ev.Topic, JobID: ev.JobID, Data: ev}:
	default:
		logging.Warn().Str("topic", ev.Topic).Msg("broadcast channel full, dropping event")
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// String names the service for the supervisor.
func (h *Hub) String() string {
	return "websocket-hub"
}
