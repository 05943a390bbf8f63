// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// Coverage returns gap analysis and coverage quality over stored dates.
func (h *Handler) Coverage(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	report, err := h.service.Coverage(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(report)
}

// ImportAudit returns the most recent per-date audit records.
func (h *Handler) ImportAudit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit, err := parseLimit(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	audits, err := h.service.AuditLog(r.Context(), limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if audits == nil {
		audits = []*models.ImportAudit{}
	}
	rw.SuccessWithPagination(audits, &PaginationMeta{Count: len(audits), Limit: limit, HasMore: len(audits) == limit})
}

// RawPayload serves a payload stored by a raw-only backfill as text/csv.
func (h *Handler) RawPayload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	date, err := models.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		rw.BadRequest("date must be in YYYY-MM-DD format")
		return
	}
	kind, err := models.ParseReportKind(chi.URLParam(r, "kind"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	data, err := h.service.RawPayload(r.Context(), date, kind)
	if err != nil {
		writeIngestError(rw, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("X-Report-Kind", string(kind))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write raw payload")
	}
}
