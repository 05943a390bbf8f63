// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package config loads Channelmetrics configuration from defaults, an
// optional YAML file and environment variables (in increasing priority) via
// Koanf, then validates it.
package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/channelmetrics/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Reporting ReportingConfig `koanf:"reporting"`
	Backfill  BackfillConfig  `koanf:"backfill"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Database  DatabaseConfig  `koanf:"database"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ReportingConfig holds settings for the external reporting service.
//
// Environment Variables:
//   - REPORTING_BASE_URL, REPORTING_TOKEN_URL
//   - REPORTING_CLIENT_ID, REPORTING_CLIENT_SECRET, REPORTING_REFRESH_TOKEN
//   - PUBLICATION_DELAY_DAYS: days the service lags behind today (default: 4)
//   - REPORT_KINDS: comma-separated report kinds to import (default: all)
type ReportingConfig struct {
	BaseURL              string        `koanf:"base_url"`
	TokenURL             string        `koanf:"token_url"`
	ClientID             string        `koanf:"client_id"`
	ClientSecret         string        `koanf:"client_secret"`
	RefreshToken         string        `koanf:"refresh_token"` // used by the scheduled daily import
	PublicationDelayDays int           `koanf:"publication_delay_days"`
	ReportKinds          []string      `koanf:"report_kinds"`
	RequestTimeout       time.Duration `koanf:"request_timeout"`
	MaxRateLimitRetries  int           `koanf:"max_rate_limit_retries"`
	BackoffBase          time.Duration `koanf:"backoff_base"`
	BackoffMax           time.Duration `koanf:"backoff_max"`
	MaxAuthRefreshes     int           `koanf:"max_auth_refreshes"`
	RequestsPerSecond    float64       `koanf:"requests_per_second"`
	RequestBurst         int           `koanf:"request_burst"`
	QuotaCostPerRequest  int           `koanf:"quota_cost_per_request"`
	JobCacheTTL          time.Duration `koanf:"job_cache_ttl"` // 0 disables the job listing cache
}

// Kinds returns the configured report kinds in merge order.
// Validate guarantees every entry parses.
func (r *ReportingConfig) Kinds() []models.ReportKind {
	if len(r.ReportKinds) == 0 {
		return models.AllReportKinds()
	}
	selected := make(map[models.ReportKind]bool, len(r.ReportKinds))
	for _, s := range r.ReportKinds {
		if kind, err := models.ParseReportKind(s); err == nil {
			selected[kind] = true
		}
	}
	kinds := make([]models.ReportKind, 0, len(selected))
	for _, kind := range models.MergePriority {
		if selected[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// BackfillConfig holds multi-day import settings.
type BackfillConfig struct {
	InterDateDelay  time.Duration `koanf:"inter_date_delay"`
	MaxDays         int           `koanf:"max_days"`
	MaxErrors       int           `koanf:"max_errors"`  // most recent errors kept per job
	JobHistory      int           `koanf:"job_history"` // finished jobs kept in memory
	FreshWindowDays int           `koanf:"fresh_window_days"`
}

// ScheduleConfig holds the scheduled daily import settings.
type ScheduleConfig struct {
	DailyImportEnabled  bool          `koanf:"daily_import_enabled"`
	DailyImportInterval time.Duration `koanf:"daily_import_interval"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
}

// StoreConfig holds the Badger store for raw payloads and job history.
type StoreConfig struct {
	BadgerPath string `koanf:"badger_path"`
	InMemory   bool   `koanf:"in_memory"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds API authentication and rate limiting settings.
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	EncryptionKey     string        `koanf:"encryption_key"` // decrypts enc: values; falls back to JWTSecret
	SessionTimeout    time.Duration `koanf:"session_timeout"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}
