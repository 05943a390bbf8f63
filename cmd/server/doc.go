// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

/*
Package main is the entry point for the Channelmetrics server.

Channelmetrics imports per-video daily performance reports from an external
reporting service, merges the report kinds for each date into one record per
video, and stores them in DuckDB. It backfills missing history on request and
imports yesterday on a schedule.

# Application Architecture

Long-running components run under a Suture v4 supervisor tree:

	RootSupervisor ("channelmetrics")
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── Event router (job lifecycle events to consumers)
	│   └── Daily import (optional, DAILY_IMPORT_ENABLED)
	├── StreamSupervisor ("stream-layer")
	│   └── WebSocket hub (live backfill progress)
	└── APISupervisor ("api-layer")
	    └── HTTP server

Backfill jobs are not supervised services. The orchestrator owns their
goroutines and cancels them on shutdown after the tree has stopped.

# Configuration

Configuration is loaded via Koanf v2 (highest priority wins):
  - Environment variables
  - Config file (config.yaml, or CONFIG_PATH)
  - Built-in defaults

Frequently used variables:
  - REPORTING_BASE_URL, REPORTING_TOKEN_URL: reporting service endpoints
  - REPORTING_CLIENT_ID, REPORTING_CLIENT_SECRET: OAuth client for token refresh
  - REPORTING_REFRESH_TOKEN: credential for the scheduled daily import
  - DUCKDB_PATH: analytics database file
  - BADGER_PATH: raw payload and job history store
  - AUTH_MODE: none or jwt; JWT_SECRET is required for jwt
  - ENCRYPTION_KEY: decrypts enc: values of the reporting secrets (JWT_SECRET if unset)

# Encrypted Secrets

The client secret and refresh token may be stored encrypted:

	echo "$REFRESH_TOKEN" | ENCRYPTION_KEY=... ./channelmetrics encrypt-secret
	export REPORTING_REFRESH_TOKEN=enc:...

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests, running backfills finish the date in progress and are recorded
as cancelled, then the stores are closed.

# Example Usage

	export AUTH_MODE=none
	export REPORTING_BASE_URL=https://reports.example.com/v2
	./channelmetrics

	curl -X POST localhost:8080/api/v1/backfill \
	  -d '{"days_back": 30, "access_token": "..."}'
*/
package main
