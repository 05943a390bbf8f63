// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"time"

	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/models"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// ImportRequest is the body of POST /import.
type ImportRequest struct {
	AccessToken     string `json:"access_token" validate:"required"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	Date            string `json:"date,omitempty" validate:"omitempty,isodate"`
	DownloadRawOnly bool   `json:"download_raw_only,omitempty"`
}

// toIngest converts the body. Date has already been validated.
func (req *ImportRequest) toIngest() ingest.ImportRequest {
	var date time.Time
	if req.Date != "" {
		date, _ = models.ParseDate(req.Date)
	}
	return ingest.ImportRequest{
		Date: date,
		Credentials: &reporting.Credentials{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
		RawOnly: req.DownloadRawOnly,
	}
}

// BackfillRequest is the body of POST /backfill.
type BackfillRequest struct {
	DaysBack        int    `json:"days_back" validate:"required,min=1,max=365"`
	AccessToken     string `json:"access_token" validate:"required"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	DownloadRawOnly bool   `json:"download_raw_only,omitempty"`
}

func (req *BackfillRequest) toIngest() ingest.BackfillRequest {
	return ingest.BackfillRequest{
		DaysBack: req.DaysBack,
		Credentials: &reporting.Credentials{
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
		},
		RawOnly: req.DownloadRawOnly,
	}
}

// BackfillStarted is the 202 body of POST /backfill.
type BackfillStarted struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	TotalDates int       `json:"total_dates"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	StartedAt  time.Time `json:"started_at"`
	StatusURL  string    `json:"status_url"`
}

// JobView is a job snapshot with derived progress fields.
type JobView struct {
	*ingest.BackfillJob
	ProgressPercent float64 `json:"progress_percent"`
	FullySucceeded  bool    `json:"fully_succeeded"`
}

func newJobView(j *ingest.BackfillJob) *JobView {
	return &JobView{
		BackfillJob:     j,
		ProgressPercent: j.ProgressPercent(),
		FullySucceeded:  j.FullySucceeded(),
	}
}

// StopResponse acknowledges a cancellation request.
type StopResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
