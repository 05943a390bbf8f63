// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

func TestImport_Success(t *testing.T) {
	svc := newMockService()
	svc.importSummary = &ingest.ImportSummary{
		Date:           "2024-01-09",
		Status:         models.ImportStatusCompleted,
		KindsSucceeded: []models.ReportKind{models.ReportKindBasic},
		RecordsCreated: 3,
	}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", map[string]interface{}{
		"access_token":  "tok",
		"refresh_token": "ref",
		"date":          "2024-01-09",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var summary ingest.ImportSummary
	if err := json.Unmarshal(env.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !env.Success || summary.RecordsCreated != 3 || summary.Status != models.ImportStatusCompleted {
		t.Errorf("response = %+v / %+v", env, summary)
	}
	if env.Meta == nil || env.Meta.RequestID == "" {
		t.Error("meta.request_id missing")
	}

	if len(svc.importReqs) != 1 {
		t.Fatalf("ImportDate calls = %d", len(svc.importReqs))
	}
	got := svc.importReqs[0]
	if models.FormatDate(got.Date) != "2024-01-09" || got.Credentials.AccessToken != "tok" || got.Credentials.RefreshToken != "ref" || got.RawOnly {
		t.Errorf("request = %+v", got)
	}
}

func TestImport_DefaultsDateToZero(t *testing.T) {
	svc := newMockService()
	svc.importSummary = &ingest.ImportSummary{Status: models.ImportStatusSkipped}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", map[string]interface{}{"access_token": "tok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !svc.importReqs[0].Date.IsZero() {
		t.Errorf("date = %v, want zero so the service picks yesterday", svc.importReqs[0].Date)
	}
}

func TestImport_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"missing token", map[string]interface{}{"date": "2024-01-09"}, ErrCodeValidationFailed},
		{"bad date", map[string]interface{}{"access_token": "tok", "date": "01/09/2024"}, ErrCodeValidationFailed},
		{"unknown field", map[string]interface{}{"access_token": "tok", "days": 3}, ErrCodeBadRequest},
		{"malformed json", `{"access_token":`, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			srv := newTestServer(t, svc, nil)

			rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Success || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", env.Error, tt.code)
			}
			if len(svc.importReqs) != 0 {
				t.Error("service called for invalid input")
			}
		})
	}
}

func TestImport_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		summary  *ingest.ImportSummary
		status   int
		code     string
		withData bool
	}{
		{
			name:    "invalid request",
			err:     fmt.Errorf("%w: date is in the future", ingest.ErrInvalidRequest),
			status:  http.StatusBadRequest,
			code:    ErrCodeBadRequest,
			summary: nil,
		},
		{
			name:     "all kinds failed",
			err:      fmt.Errorf("%w for 2024-01-09", ingest.ErrNoReportsImported),
			summary:  &ingest.ImportSummary{Date: "2024-01-09", Status: models.ImportStatusFailed},
			status:   http.StatusBadGateway,
			code:     ErrCodeExternalServiceFail,
			withData: true,
		},
		{
			name:     "auth expired",
			err:      fmt.Errorf("%w: %w", ingest.ErrAuthenticationFailed, reporting.ErrAuthExpired),
			summary:  &ingest.ImportSummary{Date: "2024-01-09", Status: models.ImportStatusFailed},
			status:   http.StatusUnauthorized,
			code:     ErrCodeUnauthorized,
			withData: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.importErr = tt.err
			svc.importSummary = tt.summary
			srv := newTestServer(t, svc, nil)

			rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", map[string]interface{}{"access_token": "tok"})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			env := decodeEnvelope(t, rec)
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
			if tt.withData {
				var summary ingest.ImportSummary
				if err := json.Unmarshal(env.Data, &summary); err != nil || summary.Status != models.ImportStatusFailed {
					t.Errorf("data = %s, want failed summary", env.Data)
				}
			}
		})
	}
}

func TestImport_RawSingleKindIsCSV(t *testing.T) {
	svc := newMockService()
	svc.kinds = []models.ReportKind{models.ReportKindBasic}
	svc.importSummary = &ingest.ImportSummary{
		Date:   "2024-01-09",
		Status: models.ImportStatusCompleted,
		Raw:    map[models.ReportKind][]byte{models.ReportKindBasic: []byte("video_id,views\nv1,5\n")},
	}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", map[string]interface{}{
		"access_token":      "tok",
		"download_raw_only": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.String() != "video_id,views\nv1,5\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Report-Kind") != string(models.ReportKindBasic) {
		t.Errorf("X-Report-Kind = %q", rec.Header().Get("X-Report-Kind"))
	}
	if !svc.importReqs[0].RawOnly {
		t.Error("raw_only not forwarded")
	}
}

func TestImport_RawMultipleKindsIsJSONMap(t *testing.T) {
	svc := newMockService()
	svc.importSummary = &ingest.ImportSummary{
		Date:   "2024-01-09",
		Status: models.ImportStatusPartial,
		Raw: map[models.ReportKind][]byte{
			models.ReportKindBasic:    []byte("video_id,views\nv1,5\n"),
			models.ReportKindCombined: []byte("video_id,views\nv1,7\n"),
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/import", map[string]interface{}{
		"access_token":      "tok",
		"download_raw_only": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var body RawImportResponse
	if err := json.Unmarshal(env.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reports) != 2 || body.Reports[models.ReportKindCombined] != "video_id,views\nv1,7\n" {
		t.Errorf("reports = %+v", body.Reports)
	}
	if body.Summary == nil || body.Summary.Status != models.ImportStatusPartial {
		t.Errorf("summary = %+v", body.Summary)
	}
}

func TestStartBackfill(t *testing.T) {
	svc := newMockService()
	svc.backfillJob = testJob("job-1", ingest.JobStatusRunning)
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/backfill", map[string]interface{}{
		"days_back":    4,
		"access_token": "tok",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var started BackfillStarted
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.JobID != "job-1" || started.TotalDates != 4 || started.StartDate != "2024-01-01" || started.EndDate != "2024-01-04" {
		t.Errorf("started = %+v", started)
	}
	if !strings.Contains(started.StatusURL, "job_id=job-1") {
		t.Errorf("status_url = %q", started.StatusURL)
	}
	if svc.backfillReqs[0].DaysBack != 4 || svc.backfillReqs[0].Credentials.AccessToken != "tok" {
		t.Errorf("request = %+v", svc.backfillReqs[0])
	}
}

func TestStartBackfill_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]interface{}
		err    error
		status int
		code   string
	}{
		{"days zero", map[string]interface{}{"days_back": 0, "access_token": "tok"}, nil, http.StatusBadRequest, ErrCodeValidationFailed},
		{"days too many", map[string]interface{}{"days_back": 366, "access_token": "tok"}, nil, http.StatusBadRequest, ErrCodeValidationFailed},
		{"no token", map[string]interface{}{"days_back": 3}, nil, http.StatusBadRequest, ErrCodeValidationFailed},
		{"already running", map[string]interface{}{"days_back": 3, "access_token": "tok"}, ingest.ErrBackfillRunning, http.StatusConflict, ErrCodeConflict},
		{"rejected by service", map[string]interface{}{"days_back": 3, "access_token": "tok"}, fmt.Errorf("%w: max 30 days", ingest.ErrInvalidRequest), http.StatusBadRequest, ErrCodeBadRequest},
		{"unexpected failure", map[string]interface{}{"days_back": 3, "access_token": "tok"}, fmt.Errorf("save job: %w", errDBDown), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.backfillErr = tt.err
			srv := newTestServer(t, svc, nil)

			rec := doRequest(t, srv, http.MethodPost, "/api/v1/backfill", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}

func TestBackfillStatus(t *testing.T) {
	svc := newMockService()
	svc.jobs["job-1"] = testJob("job-1", ingest.JobStatusRunning)
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/backfill/status?job_id=job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var view struct {
		JobID           string  `json:"job_id"`
		Status          string  `json:"status"`
		ProgressPercent float64 `json:"progress_percent"`
		DatesProcessed  int     `json:"dates_processed"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.JobID != "job-1" || view.Status != "running" || view.DatesProcessed != 2 || view.ProgressPercent != 50 {
		t.Errorf("view = %+v", view)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/backfill/status?job_id=missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestBackfillJobs_Pagination(t *testing.T) {
	svc := newMockService()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		svc.jobs[id] = testJob(id, ingest.JobStatusCompleted)
	}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/backfill/jobs?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	var jobs []map[string]interface{}
	if err := json.Unmarshal(env.Data, &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 2 || jobs[0]["job_id"] != "job-3" {
		t.Errorf("jobs = %v", jobs)
	}
	if env.Meta.Pagination == nil || !env.Meta.Pagination.HasMore || env.Meta.Pagination.Count != 2 {
		t.Errorf("pagination = %+v", env.Meta.Pagination)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/backfill/jobs?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestStopBackfill(t *testing.T) {
	svc := newMockService()
	running := testJob("job-1", ingest.JobStatusRunning)
	running.CancelRequested = true
	svc.jobs["job-1"] = running
	svc.jobs["job-0"] = testJob("job-0", ingest.JobStatusCompleted)
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/backfill/stop?job_id=job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stop StopResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &stop); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stop.JobID != "job-1" || stop.Status != "running" || !strings.Contains(stop.Message, "Stop requested") {
		t.Errorf("stop = %+v", stop)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/backfill/stop?job_id=job-0", nil)
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &stop); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stop.Message != "Job already finished" {
		t.Errorf("finished job message = %q", stop.Message)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/backfill/stop", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("no running job status = %d, want 404", rec.Code)
	}
	if svc.stopIDs[2] != "" {
		t.Errorf("stop id = %q, want empty for the running job", svc.stopIDs[2])
	}
}

func TestCoverage(t *testing.T) {
	svc := newMockService()
	svc.coverage = testCoverage()
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/coverage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report struct {
		Analysis struct {
			TotalMissingDays int `json:"total_missing_days"`
			Gaps             []struct {
				DayCount int `json:"day_count"`
			} `json:"gaps"`
		} `json:"analysis"`
		Quality struct {
			DistinctDates int `json:"distinct_dates"`
		} `json:"quality"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Analysis.TotalMissingDays != 2 || len(report.Analysis.Gaps) != 1 || report.Quality.DistinctDates != 3 {
		t.Errorf("report = %+v", report)
	}

	svc.coverageErr = errDBDown
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/coverage", nil)
	if rec.Code != http.StatusInternalServerError || decodeEnvelope(t, rec).Error.Code != ErrCodeDatabaseError {
		t.Errorf("db error status = %d", rec.Code)
	}
}

func TestImportAudit(t *testing.T) {
	svc := newMockService()
	for i := 0; i < 3; i++ {
		svc.audits = append(svc.audits, &models.ImportAudit{
			ID:     fmt.Sprintf("audit-%d", i),
			Date:   time.Date(2024, 1, 9-i, 0, 0, 0, 0, time.UTC),
			Status: models.ImportStatusCompleted,
		})
	}
	srv := newTestServer(t, svc, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/imports/audit?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var audits []map[string]interface{}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &audits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(audits) != 2 || env.Meta.Pagination.Limit != 2 {
		t.Errorf("audits = %d, pagination = %+v", len(audits), env.Meta.Pagination)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/imports/audit?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", rec.Code)
	}
}

func TestImportAudit_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, newMockService(), nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/imports/audit", nil)
	if got := string(decodeEnvelope(t, rec).Data); got != "[]" {
		t.Errorf("data = %s, want []", got)
	}
}

func TestRawPayload(t *testing.T) {
	svc := newMockService()
	svc.raw["2024-01-09/"+string(models.ReportKindTrafficSource)] = []byte("video_id,traffic_source_type,views\n")
	srv := newTestServer(t, svc, nil)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"alias kind", "/api/v1/raw/2024-01-09/traffic", http.StatusOK},
		{"full kind", "/api/v1/raw/2024-01-09/channel_traffic_source_a2", http.StatusOK},
		{"not stored", "/api/v1/raw/2024-01-08/traffic", http.StatusNotFound},
		{"bad date", "/api/v1/raw/20240109/traffic", http.StatusBadRequest},
		{"bad kind", "/api/v1/raw/2024-01-09/nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodGet, tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && !strings.HasPrefix(rec.Body.String(), "video_id,traffic_source_type") {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newMockService(), &mockPinger{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	down := newTestServer(t, newMockService(), &mockPinger{err: errDBDown})
	rec = doRequest(t, down, http.MethodGet, "/api/v1/health/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with db down = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newMockService(), nil)
	_ = doRequest(t, srv, http.MethodGet, "/api/v1/coverage", nil)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "api_requests_total") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestBackfillEvents_NoHub(t *testing.T) {
	srv := newTestServer(t, newMockService(), nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/backfill/events", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
