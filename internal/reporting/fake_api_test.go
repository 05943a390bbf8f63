// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package reporting

import (
	"context"
	"sync"
	"time"
)

// fakeAPI is a scripted API. Errors queued in listJobsErrs are returned by
// successive ListJobs calls before falling through to the normal response.
type fakeAPI struct {
	mu sync.Mutex

	jobs     []Job
	reports  map[string][]Report
	payloads map[string][]byte

	listJobsErrs []error
	// validToken, when set, makes every call with another token fail with 401.
	validToken string

	listJobsCalls int
	downloads     []string
	tokensSeen    []string
}

func (f *fakeAPI) ListJobs(_ context.Context, token string) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listJobsCalls++
	f.tokensSeen = append(f.tokensSeen, token)
	if len(f.listJobsErrs) > 0 {
		err := f.listJobsErrs[0]
		f.listJobsErrs = f.listJobsErrs[1:]
		return nil, err
	}
	if f.validToken != "" && token != f.validToken {
		return nil, &APIError{Op: "list_jobs", StatusCode: 401}
	}
	return f.jobs, nil
}

func (f *fakeAPI) ListReports(_ context.Context, _, jobID string) ([]Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[jobID], nil
}

func (f *fakeAPI) Download(_ context.Context, _, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, url)
	data, ok := f.payloads[url]
	if !ok {
		return nil, &APIError{Op: "download", StatusCode: 404}
	}
	return data, nil
}

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, w := range s.waits {
		sum += w
	}
	return sum
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// dailyReport builds a one-day report instance starting at Pacific midnight.
func dailyReport(id, date string, created time.Time) Report {
	loc := time.FixedZone("PST", -8*3600)
	d := day(date)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Report{
		ID:          id,
		JobID:       "job-basic",
		StartTime:   start,
		EndTime:     start.AddDate(0, 0, 1),
		CreateTime:  created,
		DownloadURL: "https://download.example/" + id,
	}
}
