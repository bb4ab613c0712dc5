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
	"github.com/google/uuid"

	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
)

// RequestIDHeader is set on every response for log correlation.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request ID to the response and the request log
// line. An inbound ID is honored so upstream proxies can correlate.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request with method, path, status, and duration,
// and records the Prometheus request metrics. The endpoint label uses the
// chi route pattern, not the raw path, to keep cardinality bounded.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = r.URL.Path
			}
			metrics.ObserveAPIRequest(r.Method, pattern, ww.Status(), duration)

			logging.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", duration).
				Str("request_id", ww.Header().Get(RequestIDHeader)).
				Msg("Admin API request")
		})
	}
}
