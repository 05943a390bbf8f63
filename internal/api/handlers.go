// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package api exposes the ingestion pipeline over HTTP.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, shared helpers (this file)
//   - handlers_import.go: single-date import
//   - handlers_backfill.go: backfill start, status, stop, job list, event stream
//   - handlers_coverage.go: coverage, audit log, raw payloads
//   - handlers_health.go: liveness and readiness probes
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/validation"
	ws "github.com/tomtom215/channelmetrics/internal/websocket"
)

// Service is the ingestion surface the handlers call. *ingest.Orchestrator
// implements it.
type Service interface {
	ImportDate(ctx context.Context, req ingest.ImportRequest) (*ingest.ImportSummary, error)
	StartBackfill(ctx context.Context, req ingest.BackfillRequest) (*ingest.BackfillJob, error)
	Status(ctx context.Context, id string) (*ingest.BackfillJob, error)
	Stop(ctx context.Context, id string) (*ingest.BackfillJob, error)
	Jobs(ctx context.Context, limit int) ([]*ingest.BackfillJob, error)
	Coverage(ctx context.Context) (*ingest.CoverageReport, error)
	AuditLog(ctx context.Context, limit int) ([]*models.ImportAudit, error)
	RawPayload(ctx context.Context, date time.Time, kind models.ReportKind) ([]byte, error)
	Kinds() []models.ReportKind
}

// Pinger checks storage connectivity for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxRequestBody   = 64 * 1024
)

// Handler contains dependencies for API handlers.
type Handler struct {
	service   Service
	db        Pinger
	wsHub     *ws.Hub
	config    *config.Config
	startTime time.Time
}

// NewHandler creates a new API handler. db and wsHub may be nil; readiness
// then skips the storage check and the event stream answers 503.
func NewHandler(service Service, db Pinger, wsHub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		service:   service,
		db:        db,
		wsHub:     wsHub,
		config:    cfg,
		startTime: time.Now(),
	}
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	rw := NewResponseWriter(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		rw.BadRequest("Invalid request body: " + err.Error())
		return false
	}

	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

// parseLimit reads the limit query parameter, bounded to maxListLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// writeIngestError maps ingest sentinel errors onto API responses.
func writeIngestError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest):
		rw.BadRequest(err.Error())
	case errors.Is(err, ingest.ErrBackfillRunning):
		rw.Conflict(err.Error())
	case errors.Is(err, ingest.ErrJobNotFound), errors.Is(err, ingest.ErrRawPayloadNotFound):
		rw.NotFound(err.Error())
	default:
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Ingest request failed")
		rw.InternalError("An internal error occurred")
	}
}

// getUpgrader creates a WebSocket upgrader with origin checking and a handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts only configured origins. Browsers always send
// Origin on WebSocket upgrades, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Ctx(r.Context()).Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return true
	}

	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Ctx(r.Context()).Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}
