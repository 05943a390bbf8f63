// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package coverage analyzes which calendar days already have stored analytics
// and recommends what to import next.
//
// The analyzer works on the distinct set of dates that have at least one
// AnalyticsRecord. It reports:
//
//   - Gaps: contiguous missing ranges between the oldest and newest stored date
//   - NextMissingDate: the day after the newest stored date
//   - RecommendedRange: the largest gap, or the catch-up window ending at
//     "today minus the publication delay" when there are no gaps
//
// The publication delay is the number of days the reporting service lags
// behind real time. Asking for dates inside that window only yields
// "no report available" responses, so recommendations never extend into it.
//
// # Coverage Quality
//
// Quality reports the share of days covered between the oldest and newest
// stored date and a tiered backfill depth keyed on the age of the oldest
// stored date. Young datasets get an aggressive window; datasets that already
// reach back a year only get a small top-up window.
package coverage
