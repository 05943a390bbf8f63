// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package metrics holds the Prometheus instrumentation for Channelmetrics.
//
// Collectors are registered on the default registry through promauto and
// exposed at /metrics by the API router.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of requests rejected by the API rate limiter",
		},
		[]string{"endpoint"},
	)

	// Reporting API Metrics
	ReportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_requests_total",
			Help: "Requests sent to the reporting API by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok, auth_expired, rate_limited, not_found, error
	)

	ReportDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_downloads_total",
			Help: "Report downloads by kind and result",
		},
		[]string{"kind", "result"}, // result: success, approximate, unavailable, rate_limited, auth_failed, error
	)

	ReportJobCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_job_cache_lookups_total",
			Help: "Report job listing cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss
	)

	ReportDownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_download_bytes_total",
			Help: "Bytes of report payload downloaded",
		},
		[]string{"kind"},
	)

	RateLimitWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reporting_rate_limit_wait_seconds_total",
			Help: "Total time spent backing off after rate-limit responses",
		},
	)

	AuthRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporting_auth_refreshes_total",
			Help: "Access-token refresh attempts by result",
		},
		[]string{"result"}, // success, failure
	)

	// Ingest Metrics
	UpsertRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_upsert_records_total",
			Help: "Analytics records persisted by outcome",
		},
		[]string{"outcome"}, // created, updated, failed
	)

	DateImports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_date_imports_total",
			Help: "Single-date imports by final status",
		},
		[]string{"status"}, // completed, partial, failed, skipped
	)

	DateImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_date_import_duration_seconds",
			Help:    "Wall time of one single-date import",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	BackfillRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_running",
			Help: "1 while a backfill job is running",
		},
	)

	BackfillDatesProcessed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_dates_processed",
			Help: "Dates processed by the current or most recent backfill",
		},
	)

	BackfillDatesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backfill_dates_total",
			Help: "Dates requested by the current or most recent backfill",
		},
	)

	BackfillJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_jobs_total",
			Help: "Backfill jobs by terminal status",
		},
		[]string{"status"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Job lifecycle events published by topic",
		},
		[]string{"topic"},
	)

	// Application Info
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordUpsert adds one batch's outcome counts.
func RecordUpsert(created, updated, failed int) {
	UpsertRecords.WithLabelValues("created").Add(float64(created))
	UpsertRecords.WithLabelValues("updated").Add(float64(updated))
	UpsertRecords.WithLabelValues("failed").Add(float64(failed))
}

// RecordDateImport records the status and duration of a single-date import.
func RecordDateImport(status string, duration time.Duration) {
	DateImports.WithLabelValues(status).Inc()
	DateImportDuration.Observe(duration.Seconds())
}

// RecordBackfillProgress updates the backfill progress gauges.
func RecordBackfillProgress(running bool, processed, total int) {
	if running {
		BackfillRunning.Set(1)
	} else {
		BackfillRunning.Set(0)
	}
	BackfillDatesProcessed.Set(float64(processed))
	BackfillDatesTotal.Set(float64(total))
}
