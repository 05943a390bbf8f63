// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"time"
)

// JobStatus is the lifecycle state of a backfill job.
type JobStatus string

// Job statuses. Running is the only non-terminal state.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled || s == JobStatusFailed
}

// BackfillJob is a point-in-time snapshot of a backfill. Snapshots returned
// by the registry are copies; mutating one has no effect on the job.
type BackfillJob struct {
	ID       string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Running  bool      `json:"running"`
	DaysBack int       `json:"days_back"`
	RawOnly  bool      `json:"download_raw_only"`

	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	CurrentDate *time.Time `json:"current_date,omitempty"`

	TotalDates     int `json:"total_dates"`
	DatesProcessed int `json:"dates_processed"`
	DatesSucceeded int `json:"dates_succeeded"`
	DatesPartial   int `json:"dates_partial"`
	DatesFailed    int `json:"dates_failed"`
	DatesSkipped   int `json:"dates_skipped"`

	RecordsCreated  int     `json:"records_created"`
	RecordsUpdated  int     `json:"records_updated"`
	RecordsFailed   int     `json:"records_failed"`
	VideosAffected  int     `json:"videos_affected"`
	TotalViews      int64   `json:"total_views"`
	TotalWatchTime  float64 `json:"total_watch_time_minutes"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	QuotaUsed       int     `json:"quota_used"`
	ApproximateDays int     `json:"approximate_days"`

	StartedAt                 time.Time  `json:"started_at"`
	FinishedAt                *time.Time `json:"finished_at,omitempty"`
	AvgSecondsPerDate         float64    `json:"avg_seconds_per_date"`
	EstimatedSecondsRemaining float64    `json:"estimated_seconds_remaining"`

	CancelRequested bool `json:"cancel_requested"`

	// Errors holds the most recent per-date errors, oldest first.
	Errors     []string `json:"errors"`
	FatalError string   `json:"fatal_error,omitempty"`
}

// Clone returns a deep copy of j.
func (j *BackfillJob) Clone() *BackfillJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.CurrentDate != nil {
		d := *j.CurrentDate
		c.CurrentDate = &d
	}
	if j.FinishedAt != nil {
		f := *j.FinishedAt
		c.FinishedAt = &f
	}
	c.Errors = append([]string(nil), j.Errors...)
	return &c
}

// ProgressPercent returns processed dates over total dates as a percentage.
func (j *BackfillJob) ProgressPercent() float64 {
	if j.TotalDates == 0 {
		return 0
	}
	return float64(j.DatesProcessed) / float64(j.TotalDates) * 100
}

// FullySucceeded reports whether the job completed with every date imported
// without error. A completed job is not necessarily fully successful.
func (j *BackfillJob) FullySucceeded() bool {
	return j.Status == JobStatusCompleted &&
		j.DatesFailed == 0 && j.DatesPartial == 0 && j.RecordsFailed == 0
}

// appendError adds msg keeping at most limit entries.
func (j *BackfillJob) appendError(msg string, limit int) {
	if limit <= 0 {
		return
	}
	j.Errors = append(j.Errors, msg)
	if over := len(j.Errors) - limit; over > 0 {
		j.Errors = append([]string(nil), j.Errors[over:]...)
	}
}
