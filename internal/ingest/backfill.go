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
	"time"

	"github.com/tomtom215/channelmetrics/internal/events"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// BackfillRequest asks for the last DaysBack days ending yesterday.
type BackfillRequest struct {
	DaysBack    int
	Credentials *reporting.Credentials
	RawOnly     bool
}

// StartBackfill validates req, registers the job and starts it in the
// background. It returns the initial snapshot without waiting for any date.
func (o *Orchestrator) StartBackfill(ctx context.Context, req BackfillRequest) (*BackfillJob, error) {
	if req.DaysBack < 1 || req.DaysBack > o.maxDays {
		return nil, fmt.Errorf("%w: days_back must be between 1 and %d, got %d", ErrInvalidRequest, o.maxDays, req.DaysBack)
	}
	if req.Credentials == nil || req.Credentials.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidRequest)
	}

	end := o.Yesterday()
	start := models.AddDays(end, -(req.DaysBack - 1))
	dates := models.DateRange(start, end)

	job := &BackfillJob{
		ID:         o.newID(),
		DaysBack:   req.DaysBack,
		RawOnly:    req.RawOnly,
		StartDate:  start,
		EndDate:    end,
		TotalDates: len(dates),
		StartedAt:  o.now(),
		Errors:     []string{},
	}
	if err := o.registry.Register(job); err != nil {
		return nil, err
	}

	// The job owns its credentials so refreshed tokens carry across dates.
	creds := *req.Credentials

	o.wg.Add(1)
	go o.runBackfill(job.ID, dates, &creds, req.RawOnly)

	logging.Ctx(ctx).Info().
		Str("job_id", job.ID).
		Int("days_back", req.DaysBack).
		Str("start_date", models.FormatDate(start)).
		Str("end_date", models.FormatDate(end)).
		Bool("raw_only", req.RawOnly).
		Msg("Backfill started")
	metrics.RecordBackfillProgress(true, 0, len(dates))
	o.publish(ctx, &events.JobEvent{
		Topic:  events.TopicBackfillStarted,
		JobID:  job.ID,
		Status: string(JobStatusRunning),
		Total:  len(dates),
	})

	snap, _ := o.registry.Get(job.ID)
	return snap, nil
}

// runBackfill imports dates in order. It is the only writer of the job's state.
func (o *Orchestrator) runBackfill(id string, dates []time.Time, creds *reporting.Credentials, rawOnly bool) {
	defer o.wg.Done()

	ctx := logging.ContextWithJobID(o.ctx, id)
	log := logging.Ctx(ctx)
	videos := make(map[string]struct{})
	var elapsedTotal time.Duration

	for i, date := range dates {
		if o.registry.CancelRequested(id) {
			o.finish(ctx, id, JobStatusCancelled, "")
			return
		}
		if ctx.Err() != nil {
			o.finish(ctx, id, JobStatusCancelled, "shutdown")
			return
		}

		current := date
		if _, err := o.registry.Update(id, func(j *BackfillJob) { j.CurrentDate = &current }); err != nil {
			log.Error().Err(err).Msg("Backfill job vanished from registry")
			return
		}

		// Shutdown takes effect at the next date boundary; the current date
		// runs to completion.
		started := o.now()
		summary, err := o.ImportDate(context.WithoutCancel(ctx), ImportRequest{
			Date:        date,
			Credentials: creds,
			RawOnly:     rawOnly,
			JobID:       id,
		})
		elapsedTotal += o.now().Sub(started)
		if summary == nil {
			summary = &ImportSummary{Date: models.FormatDate(date), Status: models.ImportStatusFailed}
		}
		for _, v := range summary.videoIDs {
			videos[v] = struct{}{}
		}

		job, uerr := o.registry.Update(id, func(j *BackfillJob) {
			o.applyDate(j, summary, err, len(videos), elapsedTotal)
		})
		if uerr != nil {
			log.Error().Err(uerr).Msg("Backfill job vanished from registry")
			return
		}

		metrics.RecordBackfillProgress(true, job.DatesProcessed, job.TotalDates)
		o.publish(ctx, &events.JobEvent{
			Topic:     events.TopicBackfillDateCompleted,
			JobID:     id,
			Date:      summary.Date,
			Status:    summary.Status,
			Processed: job.DatesProcessed,
			Total:     job.TotalDates,
			Created:   summary.RecordsCreated,
			Updated:   summary.RecordsUpdated,
		})

		if errors.Is(err, ErrAuthenticationFailed) {
			log.Error().Err(err).Str("date", summary.Date).Msg("Backfill aborted: credentials rejected")
			o.finish(ctx, id, JobStatusFailed, err.Error())
			return
		}

		if i < len(dates)-1 && o.interDateDelay > 0 {
			if serr := o.sleep(ctx, o.interDateDelay); serr != nil {
				o.finish(ctx, id, JobStatusCancelled, "shutdown")
				return
			}
		}
	}

	o.finish(ctx, id, JobStatusCompleted, "")
}

// applyDate folds one date's outcome into the job snapshot.
func (o *Orchestrator) applyDate(j *BackfillJob, s *ImportSummary, err error, videos int, elapsed time.Duration) {
	j.DatesProcessed++
	switch s.Status {
	case models.ImportStatusCompleted:
		j.DatesSucceeded++
	case models.ImportStatusPartial:
		j.DatesPartial++
	case models.ImportStatusSkipped:
		j.DatesSkipped++
	default:
		j.DatesFailed++
	}

	j.RecordsCreated += s.RecordsCreated
	j.RecordsUpdated += s.RecordsUpdated
	j.RecordsFailed += s.RecordsFailed
	j.VideosAffected = videos
	j.TotalViews += s.TotalViews
	j.TotalWatchTime += s.TotalWatchTime
	j.BytesDownloaded += s.BytesDownloaded
	j.QuotaUsed += s.QuotaCost
	if s.Approximate {
		j.ApproximateDays++
	}

	if err != nil {
		j.appendError(fmt.Sprintf("%s: %v", s.Date, err), o.maxErrors)
	} else {
		for _, msg := range s.Errors {
			j.appendError(fmt.Sprintf("%s: %s", s.Date, msg), o.maxErrors)
		}
	}

	j.AvgSecondsPerDate = elapsed.Seconds() / float64(j.DatesProcessed)
	remaining := j.TotalDates - j.DatesProcessed
	j.EstimatedSecondsRemaining = float64(remaining) * (j.AvgSecondsPerDate + o.interDateDelay.Seconds())
}

// finish marks the job terminal, persists it and announces it.
func (o *Orchestrator) finish(ctx context.Context, id string, status JobStatus, reason string) {
	now := o.now()
	job, err := o.registry.Update(id, func(j *BackfillJob) {
		j.Status = status
		j.FinishedAt = &now
		j.CurrentDate = nil
		j.EstimatedSecondsRemaining = 0
		if reason != "" {
			j.FatalError = reason
		}
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to finish backfill job")
		return
	}

	persistCtx := context.WithoutCancel(ctx)
	if o.history != nil {
		if err := o.history.SaveJob(persistCtx, job); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to persist backfill job")
		}
	}

	metrics.BackfillJobs.WithLabelValues(string(status)).Inc()
	metrics.RecordBackfillProgress(false, job.DatesProcessed, job.TotalDates)

	logging.Ctx(ctx).Info().
		Str("status", string(status)).
		Int("dates_processed", job.DatesProcessed).
		Int("dates_succeeded", job.DatesSucceeded).
		Int("dates_partial", job.DatesPartial).
		Int("dates_failed", job.DatesFailed).
		Int("dates_skipped", job.DatesSkipped).
		Int("records_created", job.RecordsCreated).
		Int("records_updated", job.RecordsUpdated).
		Msg("Backfill finished")

	o.publish(persistCtx, &events.JobEvent{
		Topic:     events.TopicBackfillFinished,
		JobID:     id,
		Status:    string(status),
		Processed: job.DatesProcessed,
		Total:     job.TotalDates,
		Created:   job.RecordsCreated,
		Updated:   job.RecordsUpdated,
		Message:   reason,
	})
}

// Status returns the job with the given ID, or the latest job when id is empty.
func (o *Orchestrator) Status(ctx context.Context, id string) (*BackfillJob, error) {
	if id == "" {
		if job, ok := o.registry.Latest(); ok {
			return job, nil
		}
		if o.history != nil {
			jobs, err := o.history.ListJobs(ctx, 1)
			if err != nil {
				return nil, err
			}
			if len(jobs) > 0 {
				return jobs[0], nil
			}
		}
		return nil, ErrJobNotFound
	}

	if job, ok := o.registry.Get(id); ok {
		return job, nil
	}
	if o.history != nil {
		return o.history.GetJob(ctx, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Stop requests cancellation of the given job, or of the running job when id
// is empty. The job stops at its next date boundary. Stopping a finished job
// returns its snapshot unchanged.
func (o *Orchestrator) Stop(ctx context.Context, id string) (*BackfillJob, error) {
	if id == "" {
		active, ok := o.registry.Active()
		if !ok {
			return nil, fmt.Errorf("%w: no backfill is running", ErrJobNotFound)
		}
		id = active.ID
	}

	job, err := o.registry.RequestCancel(id)
	if errors.Is(err, ErrJobNotFound) && o.history != nil {
		return o.history.GetJob(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		logging.Ctx(ctx).Info().Str("job_id", id).Msg("Backfill stop requested")
	}
	return job, nil
}

// Jobs returns live and persisted jobs, newest first, at most limit (0 = all).
func (o *Orchestrator) Jobs(ctx context.Context, limit int) ([]*BackfillJob, error) {
	seen := make(map[string]bool)
	var jobs []*BackfillJob
	for _, j := range o.registry.List() {
		seen[j.ID] = true
		jobs = append(jobs, j)
	}
	if o.history != nil {
		stored, err := o.history.ListJobs(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, j := range stored {
			if !seen[j.ID] {
				jobs = append(jobs, j)
			}
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
