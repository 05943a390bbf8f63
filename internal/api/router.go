// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/channelmetrics/internal/auth"
	"github.com/tomtom215/channelmetrics/internal/middleware"
)

// Router wires handlers and middleware into a chi router.
type Router struct {
	handler       *Handler
	middleware    *auth.Middleware
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. authMw may be nil to serve without authentication.
func NewRouter(handler *Handler, authMw *auth.Middleware, chiMw *ChiMiddleware) *Router {
	if authMw == nil {
		authMw = auth.NewMiddleware(nil, auth.ModeNone)
	}
	if chiMw == nil {
		chiMw = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		middleware:    authMw,
		chiMiddleware: chiMw,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes in order
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.AccessLog)
		r.Use(router.middleware.Authenticate)

		// Read-only
		r.Get("/coverage", router.handler.Coverage)
		r.Get("/imports/audit", router.handler.ImportAudit)
		r.Get("/raw/{date}/{kind}", router.handler.RawPayload)
		r.Get("/backfill/status", router.handler.BackfillStatus)
		r.Get("/backfill/jobs", router.handler.BackfillJobs)
		r.Get("/backfill/events", router.handler.BackfillEvents)

		// Mutations call the reporting API or change job state.
		r.Group(func(r chi.Router) {
			r.Use(router.middleware.RequireRole(auth.RoleOperator))
			r.With(router.chiMiddleware.RateLimitIngest()).Post("/import", router.handler.Import)
			r.With(router.chiMiddleware.RateLimitIngest()).Post("/backfill", router.handler.StartBackfill)
			r.Post("/backfill/stop", router.handler.StopBackfill)
		})
	})

	return r
}
