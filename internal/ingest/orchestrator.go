// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/coverage"
	"github.com/tomtom215/channelmetrics/internal/events"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/merge"
	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultInterDateDelay = 5 * time.Second
	DefaultMaxDays        = 365
	DefaultMaxErrors      = 50
)

// Kind outcomes within one import.
const (
	KindDownloaded  = "downloaded"
	KindUnavailable = "unavailable"
	KindFailed      = "failed"
)

// ReportDownloader fetches one report kind for one date.
// *reporting.Downloader implements it.
type ReportDownloader interface {
	Download(ctx context.Context, kind models.ReportKind, date time.Time, creds *reporting.Credentials) (*reporting.Result, error)
}

// Store is the analytics store the orchestrator reads and writes.
// *database.DB implements it.
type Store interface {
	RecordStore
	ExistingDates(ctx context.Context) ([]time.Time, error)
	SaveImportAudit(ctx context.Context, audit *models.ImportAudit) error
	ListImportAudits(ctx context.Context, limit int) ([]*models.ImportAudit, error)
}

// EventPublisher receives lifecycle events. *events.Bus implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev *events.JobEvent) error
}

// ImportRequest asks for one date to be imported.
type ImportRequest struct {
	// Date is the target day. Zero means yesterday.
	Date        time.Time
	Credentials *reporting.Credentials

	// RawOnly downloads payloads without parsing or storing records.
	RawOnly bool

	// JobID links the import to a backfill. Empty for standalone imports.
	JobID string
}

// KindOutcome is the result of one report kind within an import.
type KindOutcome struct {
	Kind        models.ReportKind `json:"kind"`
	Status      string            `json:"status"`
	Approximate bool              `json:"approximate,omitempty"`
	Rows        int               `json:"rows"`
	Bytes       int               `json:"bytes"`
	Attempts    int               `json:"attempts"`
	Error       string            `json:"error,omitempty"`
}

// ImportSummary is the outcome of one single-date import.
type ImportSummary struct {
	Date   string `json:"date"`
	Status string `json:"status"`

	KindsSucceeded   []models.ReportKind `json:"kinds_succeeded"`
	KindsUnavailable []models.ReportKind `json:"kinds_unavailable,omitempty"`
	KindsFailed      []models.ReportKind `json:"kinds_failed,omitempty"`
	Kinds            []KindOutcome       `json:"kinds"`

	Approximate      bool                `json:"approximate"`
	ApproximateKinds []models.ReportKind `json:"approximate_kinds,omitempty"`

	RecordsProcessed int     `json:"records_processed"`
	RecordsCreated   int     `json:"records_created"`
	RecordsUpdated   int     `json:"records_updated"`
	RecordsFailed    int     `json:"records_failed"`
	VideosAffected   int     `json:"videos_affected"`
	TotalViews       int64   `json:"total_views"`
	TotalWatchTime   float64 `json:"total_watch_time_minutes"`

	BytesDownloaded int64 `json:"bytes_downloaded"`
	Requests        int   `json:"requests"`
	QuotaCost       int   `json:"quota_cost_estimate"`

	Errors     []string `json:"errors,omitempty"`
	AuditID    string   `json:"audit_id,omitempty"`
	DurationMs int64    `json:"duration_ms"`

	// Raw holds the downloaded payloads in raw-only mode.
	Raw map[models.ReportKind][]byte `json:"-"`

	videoIDs []string
}

// CoverageReport combines gap analysis and coverage quality.
type CoverageReport struct {
	Analysis *coverage.Analysis `json:"analysis"`
	Quality  *coverage.Quality  `json:"quality"`
}

// Orchestrator runs single-date imports and backfills.
type Orchestrator struct {
	downloader ReportDownloader
	store      Store
	upserter   *UpsertCoordinator
	analyzer   *coverage.Analyzer
	registry   *JobRegistry

	kinds          []models.ReportKind
	interDateDelay time.Duration
	maxDays        int
	maxErrors      int
	quotaCost      int

	raw       RawStore
	history   JobHistory
	publisher EventPublisher
	sleep     reporting.SleepFunc
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRawStore enables persistence of raw-only payloads.
func WithRawStore(s RawStore) Option {
	return func(o *Orchestrator) { o.raw = s }
}

// WithJobHistory enables persistence of terminal job snapshots.
func WithJobHistory(h JobHistory) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithPublisher enables lifecycle events.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithSleeper replaces the inter-date wait. Used by tests.
func WithSleeper(fn reporting.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithKinds overrides the configured report kinds.
func WithKinds(kinds ...models.ReportKind) Option {
	return func(o *Orchestrator) { o.kinds = kinds }
}

// WithIDGenerator replaces job ID generation. Used by tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// NewOrchestrator wires the pipeline from cfg.
func NewOrchestrator(cfg *config.Config, downloader ReportDownloader, store Store, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		downloader:     downloader,
		store:          store,
		upserter:       NewUpsertCoordinator(store),
		kinds:          cfg.Reporting.Kinds(),
		interDateDelay: cfg.Backfill.InterDateDelay,
		maxDays:        cfg.Backfill.MaxDays,
		maxErrors:      cfg.Backfill.MaxErrors,
		quotaCost:      cfg.Reporting.QuotaCostPerRequest,
		sleep:          reporting.Sleep,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
		ctx:            ctx,
		cancel:         cancel,
	}
	if o.interDateDelay < 0 {
		o.interDateDelay = DefaultInterDateDelay
	}
	if o.maxDays <= 0 || o.maxDays > DefaultMaxDays {
		o.maxDays = DefaultMaxDays
	}
	if o.maxErrors <= 0 {
		o.maxErrors = DefaultMaxErrors
	}
	if o.quotaCost <= 0 {
		o.quotaCost = 1
	}
	for _, opt := range opts {
		opt(o)
	}

	o.registry = NewJobRegistry(cfg.Backfill.JobHistory)
	o.analyzer = coverage.NewAnalyzer(
		coverage.WithPublicationDelay(cfg.Reporting.PublicationDelayDays),
		coverage.WithFreshWindow(cfg.Backfill.FreshWindowDays),
		coverage.WithClock(o.now),
	)
	return o
}

// Registry exposes the job registry.
func (o *Orchestrator) Registry() *JobRegistry {
	return o.registry
}

// Kinds returns the report kinds imported per date, in merge order.
func (o *Orchestrator) Kinds() []models.ReportKind {
	return append([]models.ReportKind(nil), o.kinds...)
}

// Yesterday returns the default target date.
func (o *Orchestrator) Yesterday() time.Time {
	return models.AddDays(o.now(), -1)
}

// ImportDate downloads, merges and stores every configured kind for one date.
//
// The summary is returned whenever the import ran, including on error. The
// error wraps ErrInvalidRequest for bad input, ErrAuthenticationFailed when
// the token was rejected and could not be refreshed, or ErrNoReportsImported
// when every kind failed. Partial imports return a nil error unless the
// credentials failed, in which case the kinds fetched before the failure are
// still merged and stored.
func (o *Orchestrator) ImportDate(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	if req.Credentials == nil || req.Credentials.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidRequest)
	}
	date := models.Day(req.Date)
	if req.Date.IsZero() {
		date = o.Yesterday()
	}
	if date.After(models.Day(o.now())) {
		return nil, fmt.Errorf("%w: date %s is in the future", ErrInvalidRequest, models.FormatDate(date))
	}

	started := o.now()
	log := logging.Ctx(ctx).With().Str("date", models.FormatDate(date)).Bool("raw_only", req.RawOnly).Logger()

	summary := &ImportSummary{
		Date:           models.FormatDate(date),
		KindsSucceeded: []models.ReportKind{},
	}
	if req.RawOnly {
		summary.Raw = make(map[models.ReportKind][]byte)
	}
	inputs := make(map[models.ReportKind]merge.Input)
	var fatal error

	for _, kind := range o.kinds {
		outcome := KindOutcome{Kind: kind}
		res, err := o.downloader.Download(ctx, kind, date, req.Credentials)

		switch {
		case err != nil:
			outcome.Status = KindFailed
			outcome.Error = err.Error()
			var dlErr *reporting.DownloadError
			if errors.As(err, &dlErr) {
				outcome.Attempts = dlErr.Attempts
			}
			if reporting.IsFatal(err) {
				fatal = err
			}

		case res.Unavailable:
			outcome.Status = KindUnavailable
			outcome.Attempts = res.Attempts
			summary.Requests += res.Requests

		default:
			outcome.Attempts = res.Attempts
			outcome.Bytes = len(res.Data)
			outcome.Approximate = res.Approximate
			summary.Requests += res.Requests
			summary.BytesDownloaded += int64(len(res.Data))
			o.handlePayload(ctx, req, date, res, &outcome, summary, inputs)
		}

		o.recordOutcome(summary, outcome)
		if fatal != nil || ctx.Err() != nil {
			break
		}
	}

	// Kinds that downloaded before a credential failure are still stored.
	if !req.RawOnly && len(inputs) > 0 {
		records := merge.Merge(date, inputs)
		up := o.upserter.Upsert(ctx, records)
		summary.RecordsProcessed = up.RecordsProcessed
		summary.RecordsCreated = up.RecordsCreated
		summary.RecordsUpdated = up.RecordsUpdated
		summary.RecordsFailed = up.RecordsFailed
		summary.VideosAffected = len(up.VideosAffected)
		summary.TotalViews = up.TotalViews
		summary.TotalWatchTime = up.TotalWatchTime
		summary.videoIDs = up.VideosAffected
		summary.Errors = append(summary.Errors, up.Errors...)
	}

	var result error
	switch {
	case fatal != nil:
		summary.Status = models.ImportStatusFailed
		if len(summary.KindsSucceeded) > 0 {
			summary.Status = models.ImportStatusPartial
		}
		result = fmt.Errorf("%w: %w", ErrAuthenticationFailed, fatal)
	case len(summary.KindsSucceeded) == 0 && len(summary.KindsFailed) == 0:
		summary.Status = models.ImportStatusSkipped
	case len(summary.KindsSucceeded) == 0:
		summary.Status = models.ImportStatusFailed
		result = fmt.Errorf("%w for %s", ErrNoReportsImported, summary.Date)
	case len(summary.KindsFailed) > 0 || summary.RecordsFailed > 0:
		summary.Status = models.ImportStatusPartial
	default:
		summary.Status = models.ImportStatusCompleted
	}

	summary.QuotaCost = summary.Requests * o.quotaCost
	finished := o.now()
	summary.DurationMs = finished.Sub(started).Milliseconds()

	if !req.RawOnly {
		o.saveAudit(ctx, req, date, summary, result, started, finished)
	}
	metrics.RecordDateImport(summary.Status, finished.Sub(started))

	event := log.Info()
	if result != nil {
		event = log.Warn().Err(result)
	}
	event.
		Str("status", summary.Status).
		Int("kinds_succeeded", len(summary.KindsSucceeded)).
		Int("kinds_failed", len(summary.KindsFailed)).
		Int("records_created", summary.RecordsCreated).
		Int("records_updated", summary.RecordsUpdated).
		Bool("approximate", summary.Approximate).
		Msg("Date import finished")

	if req.JobID == "" {
		o.publish(ctx, &events.JobEvent{
			Topic:   events.TopicImportCompleted,
			Date:    summary.Date,
			Status:  summary.Status,
			Created: summary.RecordsCreated,
			Updated: summary.RecordsUpdated,
		})
	}
	return summary, result
}

// handlePayload stores the raw payload in raw-only mode or parses it for merging.
func (o *Orchestrator) handlePayload(
	ctx context.Context,
	req ImportRequest,
	date time.Time,
	res *reporting.Result,
	outcome *KindOutcome,
	summary *ImportSummary,
	inputs map[models.ReportKind]merge.Input,
) {
	if req.RawOnly {
		summary.Raw[res.Kind] = res.Data
		outcome.Status = KindDownloaded
		if o.raw != nil {
			if err := o.raw.SaveRaw(ctx, date, res.Kind, res.Data); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("report_kind", res.Kind.String()).Msg("Failed to store raw payload")
			}
		}
		return
	}

	rows, err := reporting.Parse(res.Data, res.Kind)
	if err != nil {
		outcome.Status = KindFailed
		outcome.Error = err.Error()
		return
	}
	outcome.Status = KindDownloaded
	outcome.Rows = len(rows)
	inputs[res.Kind] = merge.Input{Rows: rows, Approximate: res.Approximate}
}

func (o *Orchestrator) recordOutcome(summary *ImportSummary, outcome KindOutcome) {
	summary.Kinds = append(summary.Kinds, outcome)
	switch outcome.Status {
	case KindDownloaded:
		summary.KindsSucceeded = append(summary.KindsSucceeded, outcome.Kind)
		if outcome.Approximate {
			summary.Approximate = true
			summary.ApproximateKinds = append(summary.ApproximateKinds, outcome.Kind)
		}
	case KindUnavailable:
		summary.KindsUnavailable = append(summary.KindsUnavailable, outcome.Kind)
	case KindFailed:
		summary.KindsFailed = append(summary.KindsFailed, outcome.Kind)
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", outcome.Kind, outcome.Error))
	}
}

func (o *Orchestrator) saveAudit(
	ctx context.Context,
	req ImportRequest,
	date time.Time,
	summary *ImportSummary,
	result error,
	started, finished time.Time,
) {
	audit := &models.ImportAudit{
		Date:            date,
		JobID:           req.JobID,
		KindsDownloaded: summary.KindsSucceeded,
		KindsFailed:     summary.KindsFailed,
		RecordsCreated:  summary.RecordsCreated,
		RecordsUpdated:  summary.RecordsUpdated,
		RecordsFailed:   summary.RecordsFailed,
		Approximate:     summary.Approximate,
		Status:          summary.Status,
		StartedAt:       started,
		FinishedAt:      finished,
	}
	switch {
	case result != nil:
		audit.ErrorText = result.Error()
	case len(summary.Errors) > 0:
		audit.ErrorText = summary.Errors[0]
	}

	if err := o.store.SaveImportAudit(context.WithoutCancel(ctx), audit); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("date", summary.Date).Msg("Failed to save import audit")
		return
	}
	summary.AuditID = audit.ID
}

func (o *Orchestrator) publish(ctx context.Context, ev *events.JobEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("topic", ev.Topic).Msg("Failed to publish event")
	}
}

// Coverage runs gap analysis and coverage quality over the stored dates.
func (o *Orchestrator) Coverage(ctx context.Context) (*CoverageReport, error) {
	dates, err := o.store.ExistingDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("read existing dates: %w", err)
	}
	return &CoverageReport{
		Analysis: o.analyzer.Analyze(dates),
		Quality:  o.analyzer.Quality(dates),
	}, nil
}

// AuditLog returns recent import audits, newest first.
func (o *Orchestrator) AuditLog(ctx context.Context, limit int) ([]*models.ImportAudit, error) {
	return o.store.ListImportAudits(ctx, limit)
}

// RawPayload returns a payload stored by a raw-only import.
func (o *Orchestrator) RawPayload(ctx context.Context, date time.Time, kind models.ReportKind) ([]byte, error) {
	if o.raw == nil {
		return nil, ErrRawPayloadNotFound
	}
	return o.raw.LoadRaw(ctx, date, kind)
}

// Wait blocks until every background backfill has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels running backfills and waits for them, bounded by ctx.
// Each job finishes the date in progress and is recorded as cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backfill shutdown: %w", ctx.Err())
	}
}
