// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import "errors"

var (
	// ErrInvalidRequest is returned for missing or out-of-range input. Nothing
	// is registered or downloaded when it is returned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBackfillRunning is returned when a backfill is requested while another is running.
	ErrBackfillRunning = errors.New("backfill already running")

	// ErrJobNotFound is returned when no live or persisted job matches.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoReportsImported is returned when every report kind failed for a date.
	ErrNoReportsImported = errors.New("no report kinds imported")

	// ErrAuthenticationFailed is returned when the access token was rejected
	// and could not be refreshed. It ends a running backfill.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRawPayloadNotFound is returned when no raw payload is stored for a date and kind.
	ErrRawPayloadNotFound = errors.New("raw payload not found")
)
