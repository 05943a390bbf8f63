// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// RawImportResponse is returned by raw-only imports that cover more than one kind.
type RawImportResponse struct {
	Summary *ingest.ImportSummary        `json:"summary"`
	Reports map[models.ReportKind]string `json:"reports"`
}

// Import runs a single-date import synchronously.
//
// A partial import answers 200 with the per-kind outcome. When every kind
// failed the summary is returned with 502; a rejected access token that
// could not be refreshed answers 401.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var body ImportRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	summary, err := h.service.ImportDate(r.Context(), body.toIngest())
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrAuthenticationFailed):
			rw.ErrorWithData(http.StatusUnauthorized, ErrCodeUnauthorized,
				"Reporting API rejected the access token", err.Error(), summary)
		case errors.Is(err, ingest.ErrNoReportsImported):
			rw.ErrorWithData(http.StatusBadGateway, ErrCodeExternalServiceFail,
				"No report kinds could be imported", err.Error(), summary)
		default:
			writeIngestError(rw, err)
		}
		return
	}

	if body.DownloadRawOnly {
		h.writeRaw(w, r, summary)
		return
	}
	rw.Success(summary)
}

// writeRaw answers text/csv when a single kind was downloaded, otherwise a
// JSON map of kind to CSV text.
func (h *Handler) writeRaw(w http.ResponseWriter, r *http.Request, summary *ingest.ImportSummary) {
	if len(summary.Raw) == 1 && len(h.service.Kinds()) == 1 {
		for kind, data := range summary.Raw {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			w.Header().Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s_%s.csv", kind, summary.Date)))
			w.Header().Set("X-Report-Kind", string(kind))
			w.Header().Set("X-Report-Approximate", strconv.FormatBool(summary.Approximate))
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(data); err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write raw payload")
			}
		}
		return
	}

	reports := make(map[models.ReportKind]string, len(summary.Raw))
	for kind, data := range summary.Raw {
		reports[kind] = string(data)
	}
	NewResponseWriter(w, r).Success(&RawImportResponse{Summary: summary, Reports: reports})
}
