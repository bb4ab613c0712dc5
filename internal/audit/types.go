// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package audit records operator actions against the supervision runtime:
// who changed which service's configuration, who reset a circuit breaker,
// and what the state looked like before and after.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Action categorizes audit events.
type Action string

const (
	ActionConfigUpdate Action = "config.update"
	ActionBreakerReset Action = "circuit_breaker.reset"
	ActionServiceStart Action = "service.start"
	ActionServiceStop  Action = "service.stop"
)

// Outcome indicates whether the action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one recorded operator action.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the action occurred.
	Timestamp time.Time `json:"timestamp"`

	// Action categorizes what was done.
	Action Action `json:"action"`

	// Outcome indicates success or failure.
	Outcome Outcome `json:"outcome"`

	// Actor is who performed the action (operator name or "system").
	Actor string `json:"actor"`

	// Service is the supervised service the action targeted.
	Service string `json:"service"`

	// Before and After hold JSON snapshots of the mutated state.
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	// Reason is the operator-supplied justification (required for resets).
	Reason string `json:"reason,omitempty"`

	// Description provides human-readable detail.
	Description string `json:"description,omitempty"`
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// DeleteOlderThan removes events older than the cutoff, returning the
	// number deleted. Used by the retention worker.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	Actions   []Action   `json:"actions,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Service   string     `json:"service,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}
