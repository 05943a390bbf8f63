// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tomtom215/channelmetrics/internal/cache"
	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// Downloader defaults.
const (
	DefaultMaxRateLimitRetries = 3
	DefaultBackoffBase         = 2 * time.Second
	DefaultBackoffMax          = 30 * time.Second
	DefaultMaxAuthRefreshes    = 2
)

// Credentials carries the tokens for one import run. Download replaces
// AccessToken in place after a successful refresh so that later downloads in
// the same run reuse the new token.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Result is the outcome of one successful Download call.
type Result struct {
	Kind models.ReportKind
	Date time.Time

	// Data is the raw report payload. Nil when Unavailable.
	Data []byte

	// Unavailable is set when no job or no report instance exists for the
	// kind. It is not an error.
	Unavailable bool

	// Approximate is set when no report instance covers Date and the most
	// recently created instance was used instead.
	Approximate bool

	// Report is the instance that was downloaded.
	Report *Report

	// Attempts counts passes through the request loop.
	Attempts int

	// Requests counts HTTP calls made, for quota estimation.
	Requests int

	// Refreshes counts successful access-token refreshes.
	Refreshes int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Downloader fetches one report kind for one date, handling rate limiting,
// token expiry and missing reports.
//
// Per call the loop is:
//
//	Requesting -> Success
//	           -> RateLimited -> wait min(base*2^n, max), retry (at most maxRateLimitRetries times)
//	           -> AuthExpired -> refresh token, retry (at most maxAuthRefreshes times)
//	           -> NotFound    -> Unavailable
//
// Report selection prefers an instance for exactly the target day, then the
// narrowest instance whose window contains it, then the most recently created
// instance flagged as approximate.
type Downloader struct {
	api                 API
	refresher           TokenRefresher
	sleep               SleepFunc
	maxRateLimitRetries int
	backoffBase         time.Duration
	backoffMax          time.Duration
	maxAuthRefreshes    int
	jobs                *cache.Cache[[]Job]
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithRefresher enables token refresh on auth failures.
func WithRefresher(r TokenRefresher) DownloaderOption {
	return func(d *Downloader) { d.refresher = r }
}

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(fn SleepFunc) DownloaderOption {
	return func(d *Downloader) { d.sleep = fn }
}

// WithJobCache caches job listings per access token for ttl. Jobs change
// rarely, so a backfill lists them once instead of once per date and kind.
func WithJobCache(ttl time.Duration) DownloaderOption {
	return func(d *Downloader) { d.jobs = cache.New[[]Job](ttl) }
}

// WithBackoff sets the rate-limit backoff base and cap.
func WithBackoff(base, maxWait time.Duration) DownloaderOption {
	return func(d *Downloader) {
		if base > 0 {
			d.backoffBase = base
		}
		if maxWait > 0 {
			d.backoffMax = maxWait
		}
	}
}

// WithRetryLimits sets the rate-limit retry and token refresh limits.
// Negative values are ignored.
func WithRetryLimits(rateLimitRetries, authRefreshes int) DownloaderOption {
	return func(d *Downloader) {
		if rateLimitRetries >= 0 {
			d.maxRateLimitRetries = rateLimitRetries
		}
		if authRefreshes >= 0 {
			d.maxAuthRefreshes = authRefreshes
		}
	}
}

// NewDownloader creates a Downloader over api.
func NewDownloader(api API, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		api:                 api,
		sleep:               Sleep,
		maxRateLimitRetries: DefaultMaxRateLimitRetries,
		backoffBase:         DefaultBackoffBase,
		backoffMax:          DefaultBackoffMax,
		maxAuthRefreshes:    DefaultMaxAuthRefreshes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ConfigOptions returns the options matching the reporting configuration.
func ConfigOptions(cfg *config.ReportingConfig) []DownloaderOption {
	opts := []DownloaderOption{
		WithBackoff(cfg.BackoffBase, cfg.BackoffMax),
		WithRetryLimits(cfg.MaxRateLimitRetries, cfg.MaxAuthRefreshes),
	}
	if cfg.JobCacheTTL > 0 {
		opts = append(opts, WithJobCache(cfg.JobCacheTTL))
	}
	return opts
}

// Backoff returns the wait before rate-limit retry n (zero based).
func (d *Downloader) Backoff(n int) time.Duration {
	wait := float64(d.backoffBase) * math.Pow(2, float64(n))
	if wait > float64(d.backoffMax) {
		return d.backoffMax
	}
	return time.Duration(wait)
}

// Download fetches kind for date. It returns a Result with Unavailable set
// when the service has nothing for the kind. Errors are *DownloadError
// wrapping ErrRateLimited, ErrAuthExpired, or the transport error.
func (d *Downloader) Download(ctx context.Context, kind models.ReportKind, date time.Time, creds *Credentials) (*Result, error) {
	date = models.Day(date)
	log := logging.Ctx(ctx).With().
		Str("report_kind", kind.String()).
		Str("date", models.FormatDate(date)).
		Logger()

	res := &Result{Kind: kind, Date: date}
	rateLimited := 0
	refreshes := 0

	fail := func(failure FailureKind, err error) (*Result, error) {
		metrics.ReportDownloads.WithLabelValues(kind.String(), downloadResultLabel(failure)).Inc()
		return nil, &DownloadError{Kind: kind, Date: date, Attempts: res.Attempts, Failure: failure, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(FailureTransport, err)
		}
		res.Attempts++

		err := d.attempt(ctx, res, creds.AccessToken)
		failure := Classify(err)

		switch failure {
		case FailureNone:
			d.recordSuccess(res)
			return res, nil

		case FailureNotFound:
			log.Info().Err(err).Msg("No report available")
			res.Unavailable = true
			res.Data = nil
			res.Report = nil
			d.recordSuccess(res)
			return res, nil

		case FailureRateLimited:
			if rateLimited >= d.maxRateLimitRetries {
				log.Warn().Int("attempt", res.Attempts).Msg("Rate limit retries exhausted")
				return fail(failure, fmt.Errorf("%w: %v", ErrRateLimited, err))
			}
			wait := d.Backoff(rateLimited)
			rateLimited++
			log.Warn().Int("attempt", res.Attempts).Dur("wait", wait).Msg("Rate limited, backing off")
			metrics.RateLimitWaitSeconds.Add(wait.Seconds())
			if serr := d.sleep(ctx, wait); serr != nil {
				return fail(FailureTransport, serr)
			}

		case FailureAuthExpired:
			if d.refresher == nil || creds.RefreshToken == "" {
				log.Error().Msg("Access token rejected and no refresh token available")
				return fail(failure, fmt.Errorf("%w: %v", ErrAuthExpired, err))
			}
			if refreshes >= d.maxAuthRefreshes {
				log.Error().Int("refreshes", refreshes).Msg("Access token rejected after refresh limit")
				return fail(failure, fmt.Errorf("%w: refresh limit reached: %v", ErrAuthExpired, err))
			}
			refreshes++
			token, rerr := d.refresher.Refresh(ctx, creds.RefreshToken)
			if rerr != nil {
				log.Error().Err(rerr).Msg("Access token refresh failed")
				return fail(failure, fmt.Errorf("%w: %v", ErrAuthExpired, rerr))
			}
			creds.AccessToken = token
			res.Refreshes++
			log.Info().Int("attempt", res.Attempts).Msg("Access token refreshed, retrying")

		default:
			log.Warn().Err(err).Int("attempt", res.Attempts).Msg("Report download failed")
			return fail(failure, err)
		}
	}
}

func (d *Downloader) recordSuccess(res *Result) {
	label := "success"
	switch {
	case res.Unavailable:
		label = "unavailable"
	case res.Approximate:
		label = "approximate"
	}
	metrics.ReportDownloads.WithLabelValues(res.Kind.String(), label).Inc()
	if len(res.Data) > 0 {
		metrics.ReportDownloadBytes.WithLabelValues(res.Kind.String()).Add(float64(len(res.Data)))
	}
}

func downloadResultLabel(f FailureKind) string {
	switch f {
	case FailureRateLimited:
		return "rate_limited"
	case FailureAuthExpired:
		return "auth_failed"
	default:
		return "error"
	}
}

// errNoInstance is an internal not-found marker for "job exists but has no
// report instances".
var errNoInstance = &APIError{Op: "select_report", StatusCode: 404, Reason: "no report instances"}

// attempt runs one Requesting pass: find the job, list its reports, pick one,
// download it. Returns nil with res filled on success.
func (d *Downloader) attempt(ctx context.Context, res *Result, token string) error {
	jobs, err := d.listJobs(ctx, res, token)
	if err != nil {
		return err
	}

	job := findJob(jobs, res.Kind)
	if job == nil {
		return &APIError{Op: "find_job", StatusCode: 404, Reason: "no job for " + res.Kind.String()}
	}

	res.Requests++
	reports, err := d.api.ListReports(ctx, token, job.ID)
	if err != nil {
		return err
	}

	report, approximate := SelectReport(reports, res.Date)
	if report == nil {
		return errNoInstance
	}
	if approximate {
		logging.Ctx(ctx).Warn().
			Str("report_kind", res.Kind.String()).
			Str("date", models.FormatDate(res.Date)).
			Time("report_start", report.StartTime).
			Msg("No report covers date, using most recent instance")
	}

	res.Requests++
	data, err := d.api.Download(ctx, token, report.DownloadURL)
	if err != nil {
		return err
	}

	res.Data = data
	res.Report = report
	res.Approximate = approximate
	return nil
}

// listJobs returns the job listing for token, from the cache when enabled.
func (d *Downloader) listJobs(ctx context.Context, res *Result, token string) ([]Job, error) {
	var key string
	if d.jobs != nil {
		key = cache.HashKey("jobs", token)
		if jobs, ok := d.jobs.Get(key); ok {
			metrics.ReportJobCacheLookups.WithLabelValues("hit").Inc()
			return jobs, nil
		}
		metrics.ReportJobCacheLookups.WithLabelValues("miss").Inc()
	}

	res.Requests++
	jobs, err := d.api.ListJobs(ctx, token)
	if err != nil {
		return nil, err
	}
	if d.jobs != nil {
		d.jobs.Set(key, jobs)
	}
	return jobs, nil
}

// findJob returns the most recently created job producing kind.
func findJob(jobs []Job, kind models.ReportKind) *Job {
	var found *Job
	for i := range jobs {
		if jobs[i].ReportTypeID != string(kind) {
			continue
		}
		if found == nil || jobs[i].CreateTime.After(found.CreateTime) {
			found = &jobs[i]
		}
	}
	return found
}

// reportSpan returns the first calendar day of a report and how many days it
// covers (at least one).
func reportSpan(r *Report) (time.Time, int) {
	start := models.Day(r.StartTime)
	days := int(math.Round(r.EndTime.Sub(r.StartTime).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return start, days
}

// SelectReport picks the report instance for date. The second return value
// is true when no instance covers date and the most recently created one was
// chosen instead. Returns nil when reports is empty.
func SelectReport(reports []Report, date time.Time) (*Report, bool) {
	if len(reports) == 0 {
		return nil, false
	}
	date = models.Day(date)

	type candidate struct {
		r    *Report
		days int
	}
	var covering []candidate
	for i := range reports {
		start, days := reportSpan(&reports[i])
		end := start.AddDate(0, 0, days-1)
		if date.Before(start) || date.After(end) {
			continue
		}
		covering = append(covering, candidate{r: &reports[i], days: days})
	}

	if len(covering) > 0 {
		// Exact single-day windows first, then narrower windows, then newer.
		sort.SliceStable(covering, func(i, j int) bool {
			if covering[i].days != covering[j].days {
				return covering[i].days < covering[j].days
			}
			return covering[i].r.CreateTime.After(covering[j].r.CreateTime)
		})
		return covering[0].r, false
	}

	latest := &reports[0]
	for i := 1; i < len(reports); i++ {
		if reports[i].CreateTime.After(latest.CreateTime) {
			latest = &reports[i]
		}
	}
	return latest, true
}
