// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the admin router's rate limiting.
type RouterConfig struct {
	// RateLimitReqs is the request budget per window per client IP.
	// Default: 100
	RateLimitReqs int

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration
}

// NewRouter builds the admin HTTP handler.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Health and metrics stay outside the operator rate limit so probes
	// and scrapers are never throttled by admin activity.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(RequestLogger())

		r.Get("/services", h.ListServices)
		r.Route("/services/{name}", func(r chi.Router) {
			r.Get("/", h.GetService)
			r.Patch("/config", h.UpdateServiceConfig)
			r.Post("/circuit-breaker/reset", h.ResetCircuitBreaker)
		})

		r.Get("/audit", h.ListAuditEvents)
	})

	return r
}
