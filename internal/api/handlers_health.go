// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"context"
	"net/http"
	"time"
)

// HealthLive handles liveness probes. It answers 200 while the process is
// alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness probes. It answers 503 until the analytics
// database responds.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := true
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		dbConnected = h.db.Ping(ctx) == nil
	}

	if !dbConnected {
		rw.ErrorWithData(http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"Database not connected", nil, map[string]interface{}{
				"ready":              false,
				"database_connected": false,
			})
		return
	}

	rw.Success(map[string]interface{}{
		"ready":              true,
		"database_connected": true,
		"uptime":             time.Since(h.startTime).Seconds(),
	})
}
