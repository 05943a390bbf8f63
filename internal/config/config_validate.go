// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// Validation bounds.
const (
	maxPublicationDelayDays = 30
	maxBackfillDays         = 365
	minJWTSecretLength      = 32

	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateReporting,
		c.validateBackfill,
		c.validateSchedule,
		c.validateDatabase,
		c.validateServer,
		c.validateSecurity,
		c.validateLogging,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateReporting validates the reporting service settings
func (c *Config) validateReporting() error {
	r := &c.Reporting
	if err := validateHTTPURL(r.BaseURL, "REPORTING_BASE_URL"); err != nil {
		return err
	}
	if err := validateEndpointURL(r.TokenURL, "REPORTING_TOKEN_URL"); err != nil {
		return err
	}
	if r.PublicationDelayDays < 0 || r.PublicationDelayDays > maxPublicationDelayDays {
		return fmt.Errorf("PUBLICATION_DELAY_DAYS must be between 0 and %d", maxPublicationDelayDays)
	}
	if len(r.ReportKinds) == 0 {
		return fmt.Errorf("REPORT_KINDS must list at least one report kind")
	}
	for _, kind := range r.ReportKinds {
		if _, err := models.ParseReportKind(kind); err != nil {
			return fmt.Errorf("REPORT_KINDS: %w", err)
		}
	}
	if r.RequestTimeout <= 0 {
		return fmt.Errorf("REPORTING_REQUEST_TIMEOUT must be positive")
	}
	if r.MaxRateLimitRetries < 0 || r.MaxAuthRefreshes < 0 {
		return fmt.Errorf("reporting retry limits must not be negative")
	}
	if r.BackoffBase <= 0 || r.BackoffMax < r.BackoffBase {
		return fmt.Errorf("REPORTING_BACKOFF_BASE must be positive and not exceed REPORTING_BACKOFF_MAX")
	}
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("REPORTING_REQUESTS_PER_SECOND must not be negative")
	}
	if r.QuotaCostPerRequest < 0 {
		return fmt.Errorf("REPORTING_QUOTA_COST_PER_REQUEST must not be negative")
	}
	if r.JobCacheTTL < 0 {
		return fmt.Errorf("REPORTING_JOB_CACHE_TTL must not be negative")
	}
	return nil
}

// validateBackfill validates backfill settings
func (c *Config) validateBackfill() error {
	b := &c.Backfill
	if b.InterDateDelay < 0 {
		return fmt.Errorf("BACKFILL_INTER_DATE_DELAY must not be negative")
	}
	if b.MaxDays < 1 || b.MaxDays > maxBackfillDays {
		return fmt.Errorf("BACKFILL_MAX_DAYS must be between 1 and %d", maxBackfillDays)
	}
	if b.MaxErrors < 1 {
		return fmt.Errorf("BACKFILL_MAX_ERRORS must be at least 1")
	}
	if b.JobHistory < 1 {
		return fmt.Errorf("BACKFILL_JOB_HISTORY must be at least 1")
	}
	if b.FreshWindowDays < 1 || b.FreshWindowDays > maxBackfillDays {
		return fmt.Errorf("BACKFILL_FRESH_WINDOW_DAYS must be between 1 and %d", maxBackfillDays)
	}
	return nil
}

// validateSchedule validates the scheduled daily import
func (c *Config) validateSchedule() error {
	if !c.Schedule.DailyImportEnabled {
		return nil
	}
	if c.Schedule.DailyImportInterval < time.Minute {
		return fmt.Errorf("DAILY_IMPORT_INTERVAL must be at least 1m")
	}
	if c.Reporting.RefreshToken == "" {
		return fmt.Errorf("REPORTING_REFRESH_TOKEN is required when DAILY_IMPORT_ENABLED=true")
	}
	return nil
}

// validateDatabase validates database settings
func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative")
	}
	if !c.Store.InMemory && c.Store.BadgerPath == "" {
		return fmt.Errorf("BADGER_PATH is required unless STORE_IN_MEMORY=true")
	}
	return nil
}

// validateServer validates server settings
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// validAuthModes defines the allowed authentication modes
var validAuthModes = map[string]bool{
	"none": true,
	"jwt":  true,
}

// validateSecurity validates security configuration
func (c *Config) validateSecurity() error {
	if !validAuthModes[c.Security.AuthMode] {
		return fmt.Errorf("AUTH_MODE must be one of: none, jwt")
	}
	if c.Security.AuthMode == "jwt" && len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters when AUTH_MODE=jwt", minJWTSecretLength)
	}
	if c.Security.AuthMode == "jwt" && c.Security.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive when AUTH_MODE=jwt")
	}
	return c.validateRateLimits()
}

// validateRateLimits validates rate limiting configuration bounds.
func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

// ShouldWarnAboutCORS returns true if wildcard CORS is combined with authentication.
func (c *Config) ShouldWarnAboutCORS() bool {
	if c.Security.AuthMode == "none" {
		return false
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, disabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}
