// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the supervision runtime:
// - per-service tick outcomes and operation latency
// - circuit breaker state and transitions
// - interval config cache efficiency
// - configuration store health
// - admin API latency and throughput

var (
	// Service scheduler metrics
	ServiceTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_ticks_total",
			Help: "Total scheduler ticks per service by outcome",
		},
		[]string{"service", "outcome"}, // success, failure, skipped
	)

	ServiceOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_operation_duration_seconds",
			Help:    "Duration of service operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	ServiceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_state",
			Help: "Service lifecycle state (0=stopped 1=initializing 2=running 3=stopping 4=error)",
		},
		[]string{"service"},
	)

	RegisteredServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_services",
			Help: "Number of registered services",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
		},
		[]string{"service"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	CircuitBreakerFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current consecutive failure count per service",
		},
		[]string{"service"},
	)

	// Interval config cache metrics
	IntervalCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interval_cache_hits_total",
			Help: "Total interval config cache hits",
		},
	)

	IntervalCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interval_cache_misses_total",
			Help: "Total interval config cache misses",
		},
	)

	IntervalCacheFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interval_cache_fallbacks_total",
			Help: "Total reads served from stale cache or defaults during store outages",
		},
	)

	// Configuration store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "config_store_operation_duration_seconds",
			Help:    "Duration of configuration store operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_store_errors_total",
			Help: "Total configuration store errors",
		},
		[]string{"operation"},
	)

	// Audit metrics
	AuditEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Total audit events recorded by action",
		},
		[]string{"action", "outcome"},
	)

	// Admin API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveOperation records one service operation outcome and duration.
func ObserveOperation(service string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ServiceTicks.WithLabelValues(service, outcome).Inc()
	ServiceOperationDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveSkippedTick records a tick suppressed by an open circuit breaker.
func ObserveSkippedTick(service string) {
	ServiceTicks.WithLabelValues(service, "skipped").Inc()
}

// ObserveAPIRequest records one admin API request.
func ObserveAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
