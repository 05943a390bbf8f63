// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/channelmetrics/internal/coverage"
	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// mockService is a mutex-guarded Service double.
type mockService struct {
	mu sync.Mutex

	kinds []models.ReportKind

	importSummary *ingest.ImportSummary
	importErr     error
	importReqs    []ingest.ImportRequest

	backfillJob  *ingest.BackfillJob
	backfillErr  error
	backfillReqs []ingest.BackfillRequest

	jobs       map[string]*ingest.BackfillJob
	statusIDs  []string
	stopIDs    []string
	jobsLimits []int

	coverage    *ingest.CoverageReport
	coverageErr error
	audits      []*models.ImportAudit

	raw map[string][]byte
}

func newMockService() *mockService {
	return &mockService{
		kinds: []models.ReportKind{models.ReportKindBasic, models.ReportKindCombined},
		jobs:  make(map[string]*ingest.BackfillJob),
		raw:   make(map[string][]byte),
	}
}

func (m *mockService) ImportDate(_ context.Context, req ingest.ImportRequest) (*ingest.ImportSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importReqs = append(m.importReqs, req)
	return m.importSummary, m.importErr
}

func (m *mockService) StartBackfill(_ context.Context, req ingest.BackfillRequest) (*ingest.BackfillJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfillReqs = append(m.backfillReqs, req)
	if m.backfillErr != nil {
		return nil, m.backfillErr
	}
	return m.backfillJob, nil
}

func (m *mockService) Status(_ context.Context, id string) (*ingest.BackfillJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusIDs = append(m.statusIDs, id)
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, ingest.ErrJobNotFound
}

func (m *mockService) Stop(_ context.Context, id string) (*ingest.BackfillJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopIDs = append(m.stopIDs, id)
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, ingest.ErrJobNotFound
}

func (m *mockService) Jobs(_ context.Context, limit int) ([]*ingest.BackfillJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsLimits = append(m.jobsLimits, limit)
	out := make([]*ingest.BackfillJob, 0, len(m.jobs))
	for _, id := range []string{"job-3", "job-2", "job-1"} {
		if j, ok := m.jobs[id]; ok {
			out = append(out, j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockService) Coverage(context.Context) (*ingest.CoverageReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coverage, m.coverageErr
}

func (m *mockService) AuditLog(_ context.Context, limit int) ([]*models.ImportAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audits) > limit {
		return m.audits[:limit], nil
	}
	return m.audits, nil
}

func (m *mockService) RawPayload(_ context.Context, date time.Time, kind models.ReportKind) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.raw[models.FormatDate(date)+"/"+string(kind)]
	if !ok {
		return nil, ingest.ErrRawPayloadNotFound
	}
	return data, nil
}

func (m *mockService) Kinds() []models.ReportKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kinds
}

type mockPinger struct{ err error }

func (p *mockPinger) Ping(context.Context) error { return p.err }

var errDBDown = errors.New("database is down")

// envelope decodes APIResponse with a raw payload.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func newTestServer(t *testing.T, svc Service, db Pinger) http.Handler {
	t.Helper()
	h := NewHandler(svc, db, nil, nil)
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitDisabled = true
	return NewRouter(h, nil, NewChiMiddleware(cfg)).Setup()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func testJob(id string, status ingest.JobStatus) *ingest.BackfillJob {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &ingest.BackfillJob{
		ID:             id,
		Status:         status,
		Running:        status == ingest.JobStatusRunning,
		DaysBack:       4,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 3),
		TotalDates:     4,
		DatesProcessed: 2,
		DatesSucceeded: 2,
		StartedAt:      time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
		Errors:         []string{},
	}
}

func testCoverage() *ingest.CoverageReport {
	first := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	return &ingest.CoverageReport{
		Analysis: &coverage.Analysis{
			Gaps:             []models.Gap{{Start: first, End: first.AddDate(0, 0, 1), DayCount: 2}},
			TotalMissingDays: 2,
			NextMissingDate:  &first,
		},
		Quality: &coverage.Quality{DistinctDates: 3},
	}
}
