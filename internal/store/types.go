// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package store persists per-service operational state in BadgerDB:
// operator-tunable service configuration, circuit breaker state, and
// aggregate stats snapshots. Records are keyed by service name and encoded
// as JSON; the rest of the system treats this as an opaque key-value store.
package store

import "time"

// BreakerSettings is the operator-tunable circuit breaker configuration
// embedded in a service's persisted configuration record.
type BreakerSettings struct {
	FailureThreshold   int   `json:"failure_threshold"`
	ResetTimeoutMs     int64 `json:"reset_timeout_ms"`
	MinHealthyPeriodMs int64 `json:"min_healthy_period_ms"`
}

// ConfigRecord is the persisted configuration for one service.
// Writes are last-write-wins; UpdatedAt is set server-side on save.
type ConfigRecord struct {
	ServiceName     string          `json:"service_name"`
	CheckIntervalMs int64           `json:"check_interval_ms"`
	Enabled         bool            `json:"enabled"`
	CircuitBreaker  BreakerSettings `json:"circuit_breaker"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BreakerStateRecord is the persisted runtime state of a service's circuit
// breaker. It survives process restarts so an open breaker stays open.
type BreakerStateRecord struct {
	ServiceName      string     `json:"service_name"`
	IsOpen           bool       `json:"is_open"`
	Failures         int        `json:"failures"`
	LastFailure      *time.Time `json:"last_failure,omitempty"`
	LastSuccess      *time.Time `json:"last_success,omitempty"`
	RecoveryAttempts int        `json:"recovery_attempts"`
	ResetTimeoutMs   int64      `json:"reset_timeout_ms"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
