// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
)

const tableImportAudit = "import_audit"

// DefaultAuditLimit bounds ListImportAudits when no limit is given.
const DefaultAuditLimit = 50

// SaveImportAudit persists one single-date import outcome. An empty ID is
// assigned a new UUID.
func (db *DB) SaveImportAudit(ctx context.Context, audit *models.ImportAudit) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", tableImportAudit, time.Since(start), err) }()

	if audit == nil {
		return fmt.Errorf("audit is nil")
	}
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.FinishedAt.IsZero() {
		audit.FinishedAt = time.Now().UTC()
	}
	if audit.StartedAt.IsZero() {
		audit.StartedAt = audit.FinishedAt
	}

	downloaded, err := jsonColumn(audit.KindsDownloaded, audit.KindsDownloaded == nil)
	if err != nil {
		return err
	}
	failed, err := jsonColumn(audit.KindsFailed, audit.KindsFailed == nil)
	if err != nil {
		return err
	}
	errText := sql.NullString{String: audit.ErrorText, Valid: audit.ErrorText != ""}
	jobID := sql.NullString{String: audit.JobID, Valid: audit.JobID != ""}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO import_audit (
			id, date, job_id, kinds_downloaded, kinds_failed,
			records_created, records_updated, records_failed,
			approximate, status, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.ID, models.Day(audit.Date), jobID, downloaded, failed,
		audit.RecordsCreated, audit.RecordsUpdated, audit.RecordsFailed,
		audit.Approximate, audit.Status, errText, audit.StartedAt.UTC(), audit.FinishedAt.UTC(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: audit %s", ErrDuplicateRecord, audit.ID)
		}
		return fmt.Errorf("failed to save import audit: %w", err)
	}
	return nil
}

// ListImportAudits returns the most recent audits, newest first.
func (db *DB) ListImportAudits(ctx context.Context, limit int) (audits []*models.ImportAudit, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list", tableImportAudit, time.Since(start), err) }()

	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, date, job_id, kinds_downloaded, kinds_failed,
			records_created, records_updated, records_failed,
			approximate, status, error_text, started_at, finished_at
		FROM import_audit
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import audits: %w", err)
	}
	defer closeWithLog(rows, "import audit rows")

	for rows.Next() {
		var (
			a                 models.ImportAudit
			jobID, errText    sql.NullString
			downloaded, kfail sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.Date, &jobID, &downloaded, &kfail,
			&a.RecordsCreated, &a.RecordsUpdated, &a.RecordsFailed,
			&a.Approximate, &a.Status, &errText, &a.StartedAt, &a.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import audit: %w", err)
		}
		a.Date = models.Day(a.Date)
		a.JobID = jobID.String
		a.ErrorText = errText.String
		if err := decodeColumn(downloaded, &a.KindsDownloaded); err != nil {
			return nil, err
		}
		if err := decodeColumn(kfail, &a.KindsFailed); err != nil {
			return nil, err
		}
		audits = append(audits, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import audits: %w", err)
	}
	return audits, nil
}
