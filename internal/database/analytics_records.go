// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
)

const tableVideoAnalytics = "video_analytics"

const analyticsColumns = `video_id, date, views, watch_time_minutes, average_view_duration,
	impressions, click_through_rate, subscribers_gained, subscribers_lost,
	traffic_sources, devices, demographics, report_kinds, approximate, approximate_kinds,
	created_at, updated_at`

// RecordExists reports whether a row exists for (videoID, date).
func (db *DB) RecordExists(ctx context.Context, videoID string, date time.Time) (exists bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("exists", tableVideoAnalytics, time.Since(start), err) }()

	var n int
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM video_analytics WHERE video_id = ? AND date = ?`,
		videoID, models.Day(date),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check record %s/%s: %w", videoID, models.FormatDate(date), err)
	}
	return n > 0, nil
}

// GetRecord loads the record for (videoID, date).
func (db *DB) GetRecord(ctx context.Context, videoID string, date time.Time) (*models.AnalyticsRecord, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+analyticsColumns+` FROM video_analytics WHERE video_id = ? AND date = ?`,
		videoID, models.Day(date),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery("get", tableVideoAnalytics, time.Since(start), nil)
		return nil, ErrRecordNotFound
	}
	metrics.RecordDBQuery("get", tableVideoAnalytics, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// InsertRecord creates a new row. A key collision returns ErrDuplicateRecord.
func (db *DB) InsertRecord(ctx context.Context, rec *models.AnalyticsRecord) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", tableVideoAnalytics, time.Since(start), err) }()

	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO video_analytics (`+analyticsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VideoID, models.Day(rec.Date),
		nullInt64(rec.Views), nullFloat64(rec.WatchTimeMinutes), nullFloat64(rec.AverageViewDuration),
		nullInt64(rec.Impressions), nullFloat64(rec.ClickThroughRate),
		nullInt64(rec.SubscribersGained), nullInt64(rec.SubscribersLost),
		enc.trafficSources, enc.devices, enc.demographics, enc.reportKinds,
		rec.Approximate, enc.approximateKinds,
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateRecord, rec.VideoID, models.FormatDate(rec.Date))
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

// UpdateRecord overwrites every attribute of an existing row.
// Returns ErrRecordNotFound when no row matches.
func (db *DB) UpdateRecord(ctx context.Context, rec *models.AnalyticsRecord) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update", tableVideoAnalytics, time.Since(start), err) }()

	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := db.conn.ExecContext(ctx, `
		UPDATE video_analytics SET
			views = ?, watch_time_minutes = ?, average_view_duration = ?,
			impressions = ?, click_through_rate = ?,
			subscribers_gained = ?, subscribers_lost = ?,
			traffic_sources = ?, devices = ?, demographics = ?,
			report_kinds = ?, approximate = ?, approximate_kinds = ?,
			updated_at = ?
		WHERE video_id = ? AND date = ?`,
		nullInt64(rec.Views), nullFloat64(rec.WatchTimeMinutes), nullFloat64(rec.AverageViewDuration),
		nullInt64(rec.Impressions), nullFloat64(rec.ClickThroughRate),
		nullInt64(rec.SubscribersGained), nullInt64(rec.SubscribersLost),
		enc.trafficSources, enc.devices, enc.demographics,
		enc.reportKinds, rec.Approximate, enc.approximateKinds,
		now,
		rec.VideoID, models.Day(rec.Date),
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	rec.UpdatedAt = now
	return nil
}

// ExistingDates returns every distinct date that has at least one record, oldest first.
func (db *DB) ExistingDates(ctx context.Context) (dates []time.Time, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("existing_dates", tableVideoAnalytics, time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT date FROM video_analytics ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing dates: %w", err)
	}
	defer closeWithLog(rows, "existing dates rows")

	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, models.Day(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dates: %w", err)
	}
	return dates, nil
}

// RecordsForDate returns every record stored for one date ordered by video ID.
func (db *DB) RecordsForDate(ctx context.Context, date time.Time) (records []*models.AnalyticsRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("records_for_date", tableVideoAnalytics, time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+analyticsColumns+` FROM video_analytics WHERE date = ? ORDER BY video_id`,
		models.Day(date),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer closeWithLog(rows, "records rows")

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// CountRecords returns the total number of stored records.
func (db *DB) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM video_analytics`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

type encodedRecord struct {
	trafficSources   sql.NullString
	devices          sql.NullString
	demographics     sql.NullString
	reportKinds      sql.NullString
	approximateKinds sql.NullString
}

func encodeRecord(rec *models.AnalyticsRecord) (*encodedRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("record is nil")
	}
	if rec.VideoID == "" {
		return nil, fmt.Errorf("record has empty video_id")
	}
	var enc encodedRecord
	var err error
	if enc.trafficSources, err = jsonColumn(rec.TrafficSources, rec.TrafficSources == nil); err != nil {
		return nil, err
	}
	if enc.devices, err = jsonColumn(rec.Devices, rec.Devices == nil); err != nil {
		return nil, err
	}
	if enc.demographics, err = jsonColumn(rec.Demographics, rec.Demographics == nil); err != nil {
		return nil, err
	}
	if enc.reportKinds, err = jsonColumn(rec.ReportKinds, rec.ReportKinds == nil); err != nil {
		return nil, err
	}
	if enc.approximateKinds, err = jsonColumn(rec.ApproximateKinds, rec.ApproximateKinds == nil); err != nil {
		return nil, err
	}
	return &enc, nil
}

func jsonColumn(v interface{}, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.AnalyticsRecord, error) {
	var (
		rec                                                models.AnalyticsRecord
		views, impressions, subsGained, subsLost           sql.NullInt64
		watchTime, avgDuration, ctr                        sql.NullFloat64
		traffic, devices, demographics, kinds, approxKinds sql.NullString
	)
	err := row.Scan(
		&rec.VideoID, &rec.Date,
		&views, &watchTime, &avgDuration, &impressions, &ctr, &subsGained, &subsLost,
		&traffic, &devices, &demographics, &kinds, &rec.Approximate, &approxKinds,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Date = models.Day(rec.Date)
	rec.Views = int64FromNull(views)
	rec.WatchTimeMinutes = float64FromNull(watchTime)
	rec.AverageViewDuration = float64FromNull(avgDuration)
	rec.Impressions = int64FromNull(impressions)
	rec.ClickThroughRate = float64FromNull(ctr)
	rec.SubscribersGained = int64FromNull(subsGained)
	rec.SubscribersLost = int64FromNull(subsLost)

	if err := decodeColumn(traffic, &rec.TrafficSources); err != nil {
		return nil, err
	}
	if err := decodeColumn(devices, &rec.Devices); err != nil {
		return nil, err
	}
	if err := decodeColumn(demographics, &rec.Demographics); err != nil {
		return nil, err
	}
	if err := decodeColumn(kinds, &rec.ReportKinds); err != nil {
		return nil, err
	}
	if err := decodeColumn(approxKinds, &rec.ApproximateKinds); err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodeColumn(col sql.NullString, dst interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func int64FromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func float64FromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
