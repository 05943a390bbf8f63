// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

/*
Package models defines data structures for the Channelmetrics application.

This package contains the data models shared by the ingestion pipeline, the
DuckDB store and the HTTP API. It serves as the single source of truth for
data structure definitions.

Key Components:

  - AnalyticsRecord: Per-video, per-day performance metrics (identity: video_id + date)
  - RawRow: One decoded line of a downloaded report, keyed by video_id
  - ReportKind: The fixed categories of exported report streams
  - Gap: A contiguous inclusive range of dates with no stored records
  - ImportAudit: Durable audit record written once per single-date import

Optional Metrics:

Metric fields on AnalyticsRecord are pointers. A nil pointer means the metric
was not reported by any downloaded report kind, which is distinct from a
reported value of zero.

Dates:

All dates are calendar days represented as time.Time values at midnight UTC.
Use Day, ParseDate and FormatDate to move between wire strings and values.
*/
package models
