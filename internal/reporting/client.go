// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package reporting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/metrics"
)

// maxErrorBodySize bounds how much of an error response is kept for diagnostics.
const maxErrorBodySize = 64 * 1024

// maxReportPages bounds report list pagination.
const maxReportPages = 50

// Job is a reporting job. Each job produces one report kind daily.
type Job struct {
	ID           string    `json:"id"`
	ReportTypeID string    `json:"reportTypeId"`
	Name         string    `json:"name"`
	CreateTime   time.Time `json:"createTime"`
}

// Report is one generated report instance for a job.
type Report struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	CreateTime  time.Time `json:"createTime"`
	DownloadURL string    `json:"downloadUrl"`
}

type listJobsResponse struct {
	Jobs []Job `json:"jobs"`
}

type listReportsResponse struct {
	Reports       []Report `json:"reports"`
	NextPageToken string   `json:"nextPageToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// API is the subset of the reporting service the downloader needs.
// Implemented by Client and CircuitBreakerClient.
type API interface {
	ListJobs(ctx context.Context, accessToken string) ([]Job, error)
	ListReports(ctx context.Context, accessToken, jobID string) ([]Report, error)
	Download(ctx context.Context, accessToken, downloadURL string) ([]byte, error)
}

// Client talks to the reporting API over HTTP with bearer authentication.
// A token bucket limits the request rate; 429 handling lives in Downloader.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a reporting API client.
func NewClient(cfg *config.ReportingConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.RequestBurst
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// ListJobs returns every reporting job visible to the token.
func (c *Client) ListJobs(ctx context.Context, accessToken string) ([]Job, error) {
	var resp listJobsResponse
	if err := c.getJSON(ctx, "list_jobs", c.baseURL+"/v1/jobs", accessToken, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// ListReports returns every report instance for a job, following pagination.
func (c *Client) ListReports(ctx context.Context, accessToken, jobID string) ([]Report, error) {
	endpoint := fmt.Sprintf("%s/v1/jobs/%s/reports", c.baseURL, url.PathEscape(jobID))

	var all []Report
	pageToken := ""
	for page := 0; page < maxReportPages; page++ {
		u := endpoint
		if pageToken != "" {
			u += "?pageToken=" + url.QueryEscape(pageToken)
		}
		var resp listReportsResponse
		if err := c.getJSON(ctx, "list_reports", u, accessToken, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Reports...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return all, nil
}

// Download fetches a report payload.
func (c *Client) Download(ctx context.Context, accessToken, downloadURL string) ([]byte, error) {
	resp, err := c.do(ctx, "download", downloadURL, accessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ReportRequests.WithLabelValues("download", "error").Inc()
		return nil, fmt.Errorf("read report body: %w", err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, u, accessToken string, out interface{}) error {
	resp, err := c.do(ctx, op, u, accessToken)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// do performs an authenticated GET. Non-2xx responses come back as *APIError
// with the body already consumed.
func (c *Client) do(ctx context.Context, op, u, accessToken string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json, text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ReportRequests.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.ReportRequests.WithLabelValues(op, "ok").Inc()
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()

	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil && len(parsed.Error.Errors) > 0 {
		apiErr.Reason = parsed.Error.Errors[0].Reason
	}
	metrics.ReportRequests.WithLabelValues(op, apiErr.Kind().String()).Inc()
	return nil, apiErr
}
