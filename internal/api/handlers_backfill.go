// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"net/http"

	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
	ws "github.com/tomtom215/channelmetrics/internal/websocket"
)

// StartBackfill starts a background backfill and answers 202 without waiting
// for any date. A running backfill yields 409.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var body BackfillRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	job, err := h.service.StartBackfill(r.Context(), body.toIngest())
	if err != nil {
		writeIngestError(rw, err)
		return
	}

	rw.Accepted(&BackfillStarted{
		JobID:      job.ID,
		Status:     string(job.Status),
		TotalDates: job.TotalDates,
		StartDate:  models.FormatDate(job.StartDate),
		EndDate:    models.FormatDate(job.EndDate),
		StartedAt:  job.StartedAt,
		StatusURL:  "/api/v1/backfill/status?job_id=" + job.ID,
	})
}

// BackfillStatus returns the job named by job_id, or the latest job.
func (h *Handler) BackfillStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.service.Status(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		writeIngestError(rw, err)
		return
	}
	rw.Success(newJobView(job))
}

// BackfillJobs lists live and persisted jobs, newest first.
func (h *Handler) BackfillJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit, err := parseLimit(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	jobs, err := h.service.Jobs(r.Context(), limit+1)
	if err != nil {
		writeIngestError(rw, err)
		return
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	views := make([]*JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}
	rw.SuccessWithPagination(views, &PaginationMeta{Count: len(views), Limit: limit, HasMore: hasMore})
}

// StopBackfill requests cancellation. The job stops at its next date boundary;
// poll status for the terminal state.
func (h *Handler) StopBackfill(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.service.Stop(r.Context(), r.URL.Query().Get("job_id"))
	if err != nil {
		writeIngestError(rw, err)
		return
	}

	msg := "Stop requested; the job finishes its current date first"
	if job.Status.Terminal() {
		msg = "Job already finished"
	}
	rw.Success(&StopResponse{JobID: job.ID, Status: string(job.Status), Message: msg})
}

// BackfillEvents upgrades to a WebSocket that streams job lifecycle events.
// With ?job_id= only that job's events are sent.
func (h *Handler) BackfillEvents(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Ctx(r.Context()).Warn().Msg("WebSocket connection rejected: hub not initialized")
		NewResponseWriter(w, r).ServiceUnavailable("Event stream unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	var opts []ws.ClientOption
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		opts = append(opts, ws.WithJobFilter(jobID))
	}
	client := ws.NewClient(h.wsHub, conn, opts...)
	h.wsHub.Register <- client
	client.Start()
}

var _ Service = (*ingest.Orchestrator)(nil)
