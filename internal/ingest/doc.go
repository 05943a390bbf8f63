// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

/*
Package ingest drives report downloads into the analytics store.

A single-date import downloads every configured report kind for one date,
parses and merges whatever succeeded into per-video records, and upserts
them. Kinds fail independently: a date with at least one imported kind is
completed or partial, a date where every kind failed is failed, and a date
where the service had nothing for any kind is skipped. Each import leaves
one audit row.

A backfill walks a range of dates ending yesterday, oldest first, running
the single-date import for each with a fixed delay between dates. Only one
backfill runs per process. Its state lives in a JobRegistry that replaces
job snapshots wholesale, so status readers never observe a half-applied
update. Stop sets a flag that the backfill checks before each date; the date
in progress always finishes. An access token that is rejected and cannot be
refreshed ends the backfill as failed, since no later date can succeed.

Terminal job snapshots are written to Badger so finished jobs remain
visible after a restart. Running jobs are not resumed: upserts are
idempotent, so the caller can simply start a new backfill.
*/
package ingest
