// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/channelmetrics/internal/ingest"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/reporting"
)

// DateImporter runs a single-date import. *ingest.Orchestrator implements it.
type DateImporter interface {
	ImportDate(ctx context.Context, req ingest.ImportRequest) (*ingest.ImportSummary, error)
}

// TokenRefresher exchanges a refresh token for an access token.
// *reporting.OAuthRefresher implements it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// DailyImportService imports yesterday once per interval using an access
// token minted from the configured refresh token. The first import runs one
// interval after start so supervisor restarts do not spend quota.
type DailyImportService struct {
	importer     DateImporter
	refresher    TokenRefresher
	refreshToken string
	interval     time.Duration
	name         string
}

// NewDailyImportService creates the service. A non-positive interval means 24h.
func NewDailyImportService(importer DateImporter, refresher TokenRefresher, refreshToken string, interval time.Duration) *DailyImportService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &DailyImportService{
		importer:     importer,
		refresher:    refresher,
		refreshToken: refreshToken,
		interval:     interval,
		name:         "daily-import",
	}
}

// Serve implements suture.Service. Failed imports are logged and retried at
// the next interval; they do not restart the service.
func (s *DailyImportService) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Scheduled daily import started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Msg("Scheduled daily import failed")
			}
		}
	}
}

// RunOnce refreshes the access token and imports yesterday.
func (s *DailyImportService) RunOnce(ctx context.Context) error {
	ctx = logging.ContextWithNewCorrelationID(ctx)

	accessToken, err := s.refresher.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}

	summary, err := s.importer.ImportDate(ctx, ingest.ImportRequest{
		Credentials: &reporting.Credentials{
			AccessToken:  accessToken,
			RefreshToken: s.refreshToken,
		},
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Info().
		Str("date", summary.Date).
		Str("status", summary.Status).
		Int("records_created", summary.RecordsCreated).
		Int("records_updated", summary.RecordsUpdated).
		Bool("approximate", summary.Approximate).
		Msg("Scheduled daily import finished")
	return nil
}

// String names the service in supervisor logs.
func (s *DailyImportService) String() string {
	return s.name
}
