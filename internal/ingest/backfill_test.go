// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/events"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := *ev
	p.events = append(p.events, &c)
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Topic
	}
	return out
}

func TestStartBackfill_DayBounds(t *testing.T) {
	dl := &fakeDownloader{handler: basicOnly}
	o := newTestOrchestrator(t, dl, newMemStore())

	for _, days := range []int{0, -1, 366} {
		t.Run(fmt.Sprintf("days_%d", days), func(t *testing.T) {
			_, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: days, Credentials: creds()})
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("StartBackfill(%d) error = %v, want ErrInvalidRequest", days, err)
			}
		})
	}

	if _, ok := o.Registry().Latest(); ok {
		t.Error("rejected requests must not register a job")
	}
	if dl.callCount() != 0 {
		t.Errorf("download calls = %d, want 0", dl.callCount())
	}
}

func TestStartBackfill_RequiresToken(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, newMemStore())
	_, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 3, Credentials: &reporting.Credentials{}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("StartBackfill() error = %v, want ErrInvalidRequest", err)
	}
}

func TestBackfill_CompletesInOrder(t *testing.T) {
	var mu sync.Mutex
	var sleeps []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return nil
	}

	store := newMemStore()
	dl := &fakeDownloader{handler: basicOnly}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, dl, store, WithSleeper(sleeper), WithPublisher(pub))

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 5, Credentials: creds()})
	if err != nil {
		t.Fatalf("StartBackfill() error = %v", err)
	}
	if job.Status != JobStatusRunning || job.TotalDates != 5 {
		t.Errorf("initial snapshot = %+v", job)
	}
	if models.FormatDate(job.StartDate) != "2024-01-05" || models.FormatDate(job.EndDate) != "2024-01-09" {
		t.Errorf("range = %s..%s", models.FormatDate(job.StartDate), models.FormatDate(job.EndDate))
	}

	o.Wait()

	final, err := o.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != JobStatusCompleted || final.Running {
		t.Errorf("Status = %s running=%v, want completed", final.Status, final.Running)
	}
	if final.DatesProcessed != 5 || final.DatesSucceeded != 5 || final.RecordsCreated != 5 {
		t.Errorf("counters = processed %d succeeded %d created %d", final.DatesProcessed, final.DatesSucceeded, final.RecordsCreated)
	}
	if !final.FullySucceeded() || final.ProgressPercent() != 100 {
		t.Errorf("FullySucceeded=%v progress=%v", final.FullySucceeded(), final.ProgressPercent())
	}
	if final.FinishedAt == nil || final.CurrentDate != nil {
		t.Errorf("FinishedAt=%v CurrentDate=%v", final.FinishedAt, final.CurrentDate)
	}
	if final.TotalViews != 50 || final.VideosAffected != 5 {
		t.Errorf("TotalViews=%d VideosAffected=%d", final.TotalViews, final.VideosAffected)
	}

	want := []string{"2024-01-05", "2024-01-06", "2024-01-07", "2024-01-08", "2024-01-09"}
	if got := dl.distinctDates(); !reflect.DeepEqual(got, want) {
		t.Errorf("dates = %v, want %v", got, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sleeps) != 4 {
		t.Errorf("sleeps = %d, want 4 (none after the last date)", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 5*time.Second {
			t.Errorf("sleep = %v, want 5s", d)
		}
	}

	topics := pub.topics()
	if len(topics) != 7 || topics[0] != events.TopicBackfillStarted || topics[6] != events.TopicBackfillFinished {
		t.Errorf("event topics = %v", topics)
	}
	if store.auditCount() != 5 {
		t.Errorf("audits = %d, want one per date", store.auditCount())
	}
}

func TestBackfill_StopAtDateBoundary(t *testing.T) {
	var o *Orchestrator
	var calls int
	sleeper := func(ctx context.Context, _ time.Duration) error {
		calls++
		if calls == 3 {
			if _, err := o.Stop(ctx, ""); err != nil {
				t.Errorf("Stop() error = %v", err)
			}
		}
		return nil
	}

	dl := &fakeDownloader{handler: basicOnly}
	o = newTestOrchestrator(t, dl, newMemStore(), WithSleeper(sleeper))

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 10, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	final, _ := o.Status(context.Background(), job.ID)
	if final.Status != JobStatusCancelled {
		t.Errorf("Status = %s, want cancelled", final.Status)
	}
	if final.DatesProcessed != 3 || !final.CancelRequested {
		t.Errorf("DatesProcessed = %d CancelRequested = %v, want 3 true", final.DatesProcessed, final.CancelRequested)
	}
	if got := len(dl.distinctDates()); got != 3 {
		t.Errorf("distinct dates downloaded = %d, want 3", got)
	}
	if _, ok := o.Registry().Active(); ok {
		t.Error("cancelled job still holds the running slot")
	}
}

func TestBackfill_RejectsConcurrentStart(t *testing.T) {
	release := make(chan struct{})
	sleeper := func(ctx context.Context, _ time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, newMemStore(), WithSleeper(sleeper))

	first, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 2, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 2, Credentials: creds()})
	if !errors.Is(err, ErrBackfillRunning) {
		t.Fatalf("second StartBackfill() error = %v, want ErrBackfillRunning", err)
	}

	close(release)
	o.Wait()

	if jobs, _ := o.Jobs(context.Background(), 0); len(jobs) != 1 || jobs[0].ID != first.ID {
		t.Errorf("jobs = %v, want only the first", jobs)
	}

	second, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 1, Credentials: creds()})
	if err != nil {
		t.Fatalf("start after completion error = %v", err)
	}
	o.Wait()
	if s, _ := o.Status(context.Background(), ""); s.ID != second.ID {
		t.Errorf("latest status = %s, want %s", s.ID, second.ID)
	}
}

func TestBackfill_AbortsOnAuthFailure(t *testing.T) {
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, c *reporting.Credentials) (*reporting.Result, error) {
		if models.FormatDate(date) == "2024-01-06" {
			return nil, authFailure(kind, date)
		}
		return basicOnly(kind, date, c)
	}}
	o := newTestOrchestrator(t, dl, newMemStore())

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 5, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	final, _ := o.Status(context.Background(), job.ID)
	if final.Status != JobStatusFailed {
		t.Errorf("Status = %s, want failed", final.Status)
	}
	if final.DatesProcessed != 2 || final.DatesSucceeded != 1 || final.DatesFailed != 1 {
		t.Errorf("processed=%d succeeded=%d failed=%d", final.DatesProcessed, final.DatesSucceeded, final.DatesFailed)
	}
	if !strings.Contains(final.FatalError, "authentication") {
		t.Errorf("FatalError = %q", final.FatalError)
	}
	if got := dl.distinctDates(); len(got) != 2 {
		t.Errorf("dates attempted = %v, want 2", got)
	}
}

func TestBackfill_ErrorListIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Backfill.MaxErrors = 3
	dl := &fakeDownloader{handler: func(kind models.ReportKind, date time.Time, _ *reporting.Credentials) (*reporting.Result, error) {
		return nil, transportFailure(kind, date)
	}}
	o := NewOrchestrator(cfg, dl, newMemStore(), WithClock(fixedClock), WithSleeper(noSleep), WithKinds(models.ReportKindBasic))
	defer func() { _ = o.Shutdown(context.Background()) }()

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 6, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	final, _ := o.Status(context.Background(), job.ID)
	if final.Status != JobStatusCompleted || final.DatesFailed != 6 {
		t.Errorf("Status = %s DatesFailed = %d", final.Status, final.DatesFailed)
	}
	if final.FullySucceeded() {
		t.Error("job with failed dates reported as fully succeeded")
	}
	if len(final.Errors) != 3 {
		t.Fatalf("errors = %d, want 3", len(final.Errors))
	}
	if !strings.HasPrefix(final.Errors[2], "2024-01-09") {
		t.Errorf("last error = %q, want the most recent date", final.Errors[2])
	}
}

func TestBackfill_HistoryPersisted(t *testing.T) {
	db, err := OpenBadger(&config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	history := NewBadgerStore(db)

	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, newMemStore(), WithJobHistory(history))
	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 2, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	stored, err := history.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.Status != JobStatusCompleted || stored.DatesProcessed != 2 {
		t.Errorf("stored job = %+v", stored)
	}

	// A fresh orchestrator sees the job through history only.
	fresh := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, newMemStore(), WithJobHistory(history))
	latest, err := fresh.Status(context.Background(), "")
	if err != nil || latest.ID != job.ID {
		t.Fatalf("Status(\"\") = %v, %v", latest, err)
	}
	stopped, err := fresh.Stop(context.Background(), job.ID)
	if err != nil || stopped.Status != JobStatusCompleted {
		t.Errorf("Stop() on finished job = %v, %v", stopped, err)
	}
	jobs, err := fresh.Jobs(context.Background(), 10)
	if err != nil || len(jobs) != 1 {
		t.Errorf("Jobs() = %v, %v", jobs, err)
	}
}

func TestStatus_NoJobs(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDownloader{handler: basicOnly}, newMemStore())
	if _, err := o.Status(context.Background(), ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Status(\"\") error = %v, want ErrJobNotFound", err)
	}
	if _, err := o.Status(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Status(missing) error = %v, want ErrJobNotFound", err)
	}
	if _, err := o.Stop(context.Background(), ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Stop(\"\") error = %v, want ErrJobNotFound", err)
	}
}

func TestShutdown_CancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	sleeper := func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	o := NewOrchestrator(testConfig(), &fakeDownloader{handler: basicOnly}, newMemStore(),
		WithClock(fixedClock), WithSleeper(sleeper))

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 4, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	final, _ := o.Status(context.Background(), job.ID)
	if final.Status != JobStatusCancelled || final.FatalError != "shutdown" {
		t.Errorf("Status = %s FatalError = %q, want cancelled by shutdown", final.Status, final.FatalError)
	}
}

// gatedDownloader blocks its first call until released and records whether
// the context it was given had been cancelled by then.
type gatedDownloader struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	ctxErrs []error
}

func (g *gatedDownloader) Download(ctx context.Context, kind models.ReportKind, date time.Time, c *reporting.Credentials) (*reporting.Result, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	g.mu.Lock()
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	return basicOnly(kind, date, c)
}

func TestShutdown_FinishesCurrentDate(t *testing.T) {
	dl := &gatedDownloader{entered: make(chan struct{}), release: make(chan struct{})}
	store := newMemStore()
	o := NewOrchestrator(testConfig(), dl, store,
		WithClock(fixedClock), WithSleeper(noSleep), WithKinds(models.ReportKindBasic))

	job, err := o.StartBackfill(context.Background(), BackfillRequest{DaysBack: 3, Credentials: creds()})
	if err != nil {
		t.Fatal(err)
	}
	<-dl.entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- o.Shutdown(ctx) }()

	for o.ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	close(dl.release)
	if err := <-errCh; err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	final, _ := o.Status(context.Background(), job.ID)
	if final.Status != JobStatusCancelled || final.FatalError != "shutdown" {
		t.Errorf("Status = %s FatalError = %q, want cancelled by shutdown", final.Status, final.FatalError)
	}
	if final.DatesProcessed != 1 || final.DatesSucceeded != 1 {
		t.Errorf("processed=%d succeeded=%d, want the in-flight date completed", final.DatesProcessed, final.DatesSucceeded)
	}
	if store.count() != 1 {
		t.Errorf("records stored = %d, want 1", store.count())
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	for i, e := range dl.ctxErrs {
		if e != nil {
			t.Errorf("download %d saw cancelled context: %v", i, e)
		}
	}
}
