// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package database

import (
	"context"
	"fmt"
)

// Breakdown maps and kind lists are stored as JSON text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS video_analytics (
		video_id              VARCHAR NOT NULL,
		date                  DATE NOT NULL,
		views                 BIGINT,
		watch_time_minutes    DOUBLE,
		average_view_duration DOUBLE,
		impressions           BIGINT,
		click_through_rate    DOUBLE,
		subscribers_gained    BIGINT,
		subscribers_lost      BIGINT,
		traffic_sources       VARCHAR,
		devices               VARCHAR,
		demographics          VARCHAR,
		report_kinds          VARCHAR,
		approximate           BOOLEAN NOT NULL DEFAULT false,
		approximate_kinds     VARCHAR,
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL,
		PRIMARY KEY (video_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_video_analytics_date ON video_analytics (date)`,
	`CREATE TABLE IF NOT EXISTS import_audit (
		id               VARCHAR PRIMARY KEY,
		date             DATE NOT NULL,
		job_id           VARCHAR,
		kinds_downloaded VARCHAR,
		kinds_failed     VARCHAR,
		records_created  INTEGER NOT NULL DEFAULT 0,
		records_updated  INTEGER NOT NULL DEFAULT 0,
		records_failed   INTEGER NOT NULL DEFAULT 0,
		approximate      BOOLEAN NOT NULL DEFAULT false,
		status           VARCHAR NOT NULL,
		error_text       VARCHAR,
		started_at       TIMESTAMP NOT NULL,
		finished_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_audit_started ON import_audit (started_at)`,
}

func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
