// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/channelmetrics/internal/database"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/metrics"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// RecordStore is the persistence the upsert needs. *database.DB implements it.
type RecordStore interface {
	RecordExists(ctx context.Context, videoID string, date time.Time) (bool, error)
	InsertRecord(ctx context.Context, rec *models.AnalyticsRecord) error
	UpdateRecord(ctx context.Context, rec *models.AnalyticsRecord) error
}

// UpsertResult tallies one Upsert call.
type UpsertResult struct {
	RecordsProcessed int      `json:"records_processed"`
	RecordsCreated   int      `json:"records_created"`
	RecordsUpdated   int      `json:"records_updated"`
	RecordsFailed    int      `json:"records_failed"`
	VideosAffected   []string `json:"videos_affected"`
	TotalViews       int64    `json:"total_views"`
	TotalWatchTime   float64  `json:"total_watch_time_minutes"`
	Errors           []string `json:"errors,omitempty"`
}

// UpsertCoordinator writes merged records as creates or updates keyed by
// (video_id, date). A failing record is reported and the rest continue.
type UpsertCoordinator struct {
	store RecordStore
}

// NewUpsertCoordinator creates a coordinator over store.
func NewUpsertCoordinator(store RecordStore) *UpsertCoordinator {
	return &UpsertCoordinator{store: store}
}

// Upsert persists records. It never returns an error; per-record failures are
// in the result.
func (u *UpsertCoordinator) Upsert(ctx context.Context, records []*models.AnalyticsRecord) *UpsertResult {
	res := &UpsertResult{}
	videos := make(map[string]struct{})

	for _, rec := range records {
		if rec == nil {
			continue
		}
		res.RecordsProcessed++

		created, err := u.upsertOne(ctx, rec)
		if err != nil {
			res.RecordsFailed++
			msg := fmt.Sprintf("%s/%s: %v", rec.VideoID, models.FormatDate(rec.Date), err)
			res.Errors = append(res.Errors, msg)
			logging.Ctx(ctx).Warn().Err(err).
				Str("video_id", rec.VideoID).
				Str("date", models.FormatDate(rec.Date)).
				Msg("Failed to upsert analytics record")
			continue
		}

		if created {
			res.RecordsCreated++
		} else {
			res.RecordsUpdated++
		}
		videos[rec.VideoID] = struct{}{}
		res.TotalViews += rec.ViewsOrZero()
		res.TotalWatchTime += rec.WatchTimeOrZero()
	}

	res.VideosAffected = make([]string, 0, len(videos))
	for v := range videos {
		res.VideosAffected = append(res.VideosAffected, v)
	}
	sort.Strings(res.VideosAffected)

	metrics.RecordUpsert(res.RecordsCreated, res.RecordsUpdated, res.RecordsFailed)
	return res
}

// upsertOne returns true when the record was created. Lost races between the
// existence check and the write fall over to the other operation once.
func (u *UpsertCoordinator) upsertOne(ctx context.Context, rec *models.AnalyticsRecord) (bool, error) {
	exists, err := u.store.RecordExists(ctx, rec.VideoID, rec.Date)
	if err != nil {
		return false, err
	}

	if exists {
		err = u.store.UpdateRecord(ctx, rec)
		if errors.Is(err, database.ErrRecordNotFound) {
			return true, u.store.InsertRecord(ctx, rec)
		}
		return false, err
	}

	err = u.store.InsertRecord(ctx, rec)
	if errors.Is(err, database.ErrDuplicateRecord) {
		return false, u.store.UpdateRecord(ctx, rec)
	}
	return true, err
}
