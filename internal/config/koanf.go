// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/channelmetrics/config.yaml",
	"/etc/channelmetrics/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Defaults returns a Config populated with default values only.
func Defaults() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Reporting: ReportingConfig{
			BaseURL:              "https://youtubereporting.googleapis.com",
			TokenURL:             "https://oauth2.googleapis.com/token",
			PublicationDelayDays: 4,
			ReportKinds: []string{
				"channel_basic_a2",
				"channel_combined_a2",
				"channel_demographics_a1",
				"channel_traffic_source_a2",
			},
			RequestTimeout:      30 * time.Second,
			MaxRateLimitRetries: 3,
			BackoffBase:         2 * time.Second,
			BackoffMax:          30 * time.Second,
			MaxAuthRefreshes:    2,
			RequestsPerSecond:   5,
			RequestBurst:        5,
			QuotaCostPerRequest: 1,
		},
		Backfill: BackfillConfig{
			InterDateDelay:  5 * time.Second,
			MaxDays:         365,
			MaxErrors:       50,
			JobHistory:      20,
			FreshWindowDays: 30,
		},
		Schedule: ScheduleConfig{
			DailyImportEnabled:  false,
			DailyImportInterval: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:      "/data/channelmetrics.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Store: StoreConfig{
			BadgerPath: "/data/badger",
			InMemory:   false,
		},
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AuthMode:          "none",
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Reporting secrets given as EncryptedPrefix values are decrypted last.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Only mapped variables are loaded; envTransformFunc returns "" for the rest.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"reporting.report_kinds",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Reporting service
	"reporting_base_url":               "reporting.base_url",
	"reporting_token_url":              "reporting.token_url",
	"reporting_client_id":              "reporting.client_id",
	"reporting_client_secret":          "reporting.client_secret",
	"reporting_refresh_token":          "reporting.refresh_token",
	"publication_delay_days":           "reporting.publication_delay_days",
	"report_kinds":                     "reporting.report_kinds",
	"reporting_request_timeout":        "reporting.request_timeout",
	"reporting_max_rate_limit_retries": "reporting.max_rate_limit_retries",
	"reporting_backoff_base":           "reporting.backoff_base",
	"reporting_backoff_max":            "reporting.backoff_max",
	"reporting_max_auth_refreshes":     "reporting.max_auth_refreshes",
	"reporting_requests_per_second":    "reporting.requests_per_second",
	"reporting_request_burst":          "reporting.request_burst",
	"reporting_quota_cost_per_request": "reporting.quota_cost_per_request",
	"reporting_job_cache_ttl":          "reporting.job_cache_ttl",

	// Backfill
	"backfill_inter_date_delay":  "backfill.inter_date_delay",
	"backfill_max_days":          "backfill.max_days",
	"backfill_max_errors":        "backfill.max_errors",
	"backfill_job_history":       "backfill.job_history",
	"backfill_fresh_window_days": "backfill.fresh_window_days",

	// Schedule
	"daily_import_enabled":  "schedule.daily_import_enabled",
	"daily_import_interval": "schedule.daily_import_interval",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Store
	"badger_path":     "store.badger_path",
	"store_in_memory": "store.in_memory",

	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Security
	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"encryption_key":      "security.encryption_key",
	"session_timeout":     "security.session_timeout",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables return "" and are ignored.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - BACKFILL_INTER_DATE_DELAY -> backfill.inter_date_delay
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
