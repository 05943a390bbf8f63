// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/database"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// testNow is the fixed clock used by orchestrator tests. Yesterday is 2024-01-09.
var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func noSleep(context.Context, time.Duration) error { return nil }

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.AnalyticsRecord
	audits  []*models.ImportAudit

	failVideo     string
	hideExistence bool
	inserts       int
	updates       int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.AnalyticsRecord)}
}

func storeKey(videoID string, date time.Time) string {
	return videoID + "|" + models.FormatDate(date)
}

func (s *memStore) RecordExists(_ context.Context, videoID string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideExistence {
		return false, nil
	}
	_, ok := s.records[storeKey(videoID, date)]
	return ok, nil
}

func (s *memStore) InsertRecord(_ context.Context, rec *models.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.VideoID == s.failVideo {
		return errors.New("disk full")
	}
	key := storeKey(rec.VideoID, rec.Date)
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("%w: %s", database.ErrDuplicateRecord, key)
	}
	c := *rec
	s.records[key] = &c
	s.inserts++
	return nil
}

func (s *memStore) UpdateRecord(_ context.Context, rec *models.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.VideoID == s.failVideo {
		return errors.New("disk full")
	}
	key := storeKey(rec.VideoID, rec.Date)
	if _, ok := s.records[key]; !ok {
		return database.ErrRecordNotFound
	}
	c := *rec
	s.records[key] = &c
	s.updates++
	return nil
}

func (s *memStore) ExistingDates(_ context.Context) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, r := range s.records {
		d := models.Day(r.Date)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (s *memStore) SaveImportAudit(_ context.Context, a *models.ImportAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = fmt.Sprintf("audit-%d", len(s.audits)+1)
	}
	c := *a
	s.audits = append(s.audits, &c)
	return nil
}

func (s *memStore) ListImportAudits(_ context.Context, limit int) ([]*models.ImportAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ImportAudit, 0, len(s.audits))
	for i := len(s.audits) - 1; i >= 0; i-- {
		out = append(out, s.audits[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) record(videoID, date string) *models.AnalyticsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := models.ParseDate(date)
	return s.records[storeKey(videoID, d)]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) auditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

type downloadCall struct {
	kind  models.ReportKind
	date  time.Time
	token string
}

// fakeDownloader answers Download from handler and records every call.
type fakeDownloader struct {
	mu      sync.Mutex
	calls   []downloadCall
	handler func(kind models.ReportKind, date time.Time, creds *reporting.Credentials) (*reporting.Result, error)
}

func (f *fakeDownloader) Download(_ context.Context, kind models.ReportKind, date time.Time, creds *reporting.Credentials) (*reporting.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, downloadCall{kind: kind, date: date, token: creds.AccessToken})
	f.mu.Unlock()
	return f.handler(kind, date, creds)
}

func (f *fakeDownloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDownloader) distinctDates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range f.calls {
		s := models.FormatDate(c.date)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func payload(kind models.ReportKind, date time.Time, csv string) *reporting.Result {
	return &reporting.Result{Kind: kind, Date: date, Data: []byte(csv), Attempts: 1, Requests: 3}
}

func unavailable(kind models.ReportKind, date time.Time) *reporting.Result {
	return &reporting.Result{Kind: kind, Date: date, Unavailable: true, Attempts: 1, Requests: 1}
}

func authFailure(kind models.ReportKind, date time.Time) error {
	return &reporting.DownloadError{
		Kind:     kind,
		Date:     date,
		Attempts: 3,
		Failure:  reporting.FailureAuthExpired,
		Err:      fmt.Errorf("%w: refresh failed", reporting.ErrAuthExpired),
	}
}

func transportFailure(kind models.ReportKind, date time.Time) error {
	return &reporting.DownloadError{
		Kind:     kind,
		Date:     date,
		Attempts: 1,
		Failure:  reporting.FailureTransport,
		Err:      errors.New("connection reset"),
	}
}

// basicOnly serves one basic-metrics row per date and nothing for other kinds.
func basicOnly(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
	if kind != models.ReportKindBasic {
		return unavailable(kind, date), nil
	}
	csv := "video_id,views,watch_time_minutes\nvid-" + models.FormatDate(date) + ",10,2.5\n"
	return payload(kind, date, csv), nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Backfill.InterDateDelay = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, dl ReportDownloader, store Store, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{WithClock(fixedClock), WithSleeper(noSleep)}
	o := NewOrchestrator(testConfig(), dl, store, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return o
}

func creds() *reporting.Credentials {
	return &reporting.Credentials{AccessToken: "token", RefreshToken: "refresh"}
}
