// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package models

import (
	"time"
)

// AnalyticsRecord holds the merged daily performance metrics for one video.
// Identity is (VideoID, Date); at most one record exists per identity and
// re-imports overwrite it.
type AnalyticsRecord struct {
	VideoID string    `json:"video_id"`
	Date    time.Time `json:"date"`

	// Core metrics. nil means "not reported", which is distinct from zero.
	Views               *int64   `json:"views"`
	WatchTimeMinutes    *float64 `json:"watch_time_minutes"`
	AverageViewDuration *float64 `json:"average_view_duration_seconds"`
	Impressions         *int64   `json:"impressions"`
	ClickThroughRate    *float64 `json:"click_through_rate"`
	SubscribersGained   *int64   `json:"subscribers_gained"`
	SubscribersLost     *int64   `json:"subscribers_lost"`

	// Breakdowns. nil means the contributing report kind was not available.
	TrafficSources map[string]int64   `json:"traffic_source_breakdown,omitempty"`
	Devices        map[string]int64   `json:"device_breakdown,omitempty"`
	Demographics   map[string]float64 `json:"demographic_breakdown,omitempty"`

	// ReportKinds lists the kinds that contributed to this record, in merge order.
	ReportKinds []ReportKind `json:"report_kinds"`

	// Approximate is set when any contributing kind was served from a report
	// instance that did not cover this exact date.
	Approximate      bool         `json:"approximate"`
	ApproximateKinds []ReportKind `json:"approximate_kinds,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Key returns the natural identity of the record.
func (r *AnalyticsRecord) Key() RecordKey {
	return RecordKey{VideoID: r.VideoID, Date: Day(r.Date)}
}

// ViewsOrZero returns the view count, treating "not reported" as zero.
func (r *AnalyticsRecord) ViewsOrZero() int64 {
	if r.Views == nil {
		return 0
	}
	return *r.Views
}

// WatchTimeOrZero returns watch time in minutes, treating "not reported" as zero.
func (r *AnalyticsRecord) WatchTimeOrZero() float64 {
	if r.WatchTimeMinutes == nil {
		return 0
	}
	return *r.WatchTimeMinutes
}

// HasKind reports whether kind contributed to the record.
func (r *AnalyticsRecord) HasKind(kind ReportKind) bool {
	for _, k := range r.ReportKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RecordKey is the (video_id, date) identity of an AnalyticsRecord.
type RecordKey struct {
	VideoID string
	Date    time.Time
}

// Gap is a contiguous inclusive range of dates with no stored analytics records.
type Gap struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	DayCount int       `json:"day_count"`
}

// NewGap builds a gap from start to end inclusive.
func NewGap(start, end time.Time) Gap {
	start, end = Day(start), Day(end)
	return Gap{Start: start, End: end, DayCount: DaysBetween(start, end) + 1}
}

// Dates expands the gap into its calendar days, oldest first.
func (g Gap) Dates() []time.Time {
	return DateRange(g.Start, g.End)
}

// Import audit statuses.
const (
	ImportStatusCompleted = "completed"
	ImportStatusPartial   = "partial"
	ImportStatusFailed    = "failed"
	ImportStatusSkipped   = "skipped"
)

// ImportAudit is the durable record of one single-date import.
type ImportAudit struct {
	ID              string       `json:"id"`
	Date            time.Time    `json:"date"`
	JobID           string       `json:"job_id,omitempty"`
	KindsDownloaded []ReportKind `json:"kinds_downloaded"`
	KindsFailed     []ReportKind `json:"kinds_failed,omitempty"`
	RecordsCreated  int          `json:"records_created"`
	RecordsUpdated  int          `json:"records_updated"`
	RecordsFailed   int          `json:"records_failed"`
	Approximate     bool         `json:"approximate"`
	Status          string       `json:"status"`
	ErrorText       string       `json:"error_text,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}
