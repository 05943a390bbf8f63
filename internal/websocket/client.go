// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/channelmetrics/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

var lastClientID atomic.Uint64

// Client is one event stream subscriber.
type Client struct {
	id    uint64
	jobID string
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithJobFilter restricts the client to events of one backfill job.
// Events that carry no job ID, such as standalone imports, are not delivered.
func WithJobFilter(jobID string) ClientOption {
	return func(c *Client) { c.jobID = jobID }
}

// NewClient creates a client for conn. It receives nothing until registered
// with the hub.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	c := &Client{
		id:   lastClientID.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client's identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Wants reports whether msg passes the client's filter.
func (c *Client) Wants(msg Message) bool {
	return c.jobID == "" || msg.JobID == c.jobID
}

// Start runs the client's pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump only watches for disconnects and pongs. Inbound frames are
// discarded. The send channel belongs to the hub and may already be closed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	if err := extend(""); err != nil {
		logging.Error().Err(err).Uint64("client_id", c.id).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(extend)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

// writePump delivers queued events and pings until the hub closes send or a
// write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err = c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				err = c.conn.WriteJSON(msg)
			}
		case <-ticker.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
