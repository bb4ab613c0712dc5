// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package registry owns the set of supervised services: registration with
// dependency declarations, dependency-ordered start, reverse-ordered stop
// with a force-mark timeout, per-service scheduling with circuit breaker
// gating, and the operator actions that retune a running service.
//
// The registry never imports concrete service implementations; workers
// implement the Service interface and are handed in at registration time.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/BranchManager69/warden/internal/breaker"
	"github.com/BranchManager69/warden/internal/store"
)

// Service is the contract every supervised worker implements. The framework
// owns all scheduling; implementers must not self-schedule ticks.
type Service interface {
	// Initialize performs one-time setup (connections, warm caches). It is
	// called once before the first tick and must be safe to call again
	// after a Stop.
	Initialize(ctx context.Context) error

	// PerformOperation is the unit of recurring work. The scheduler calls
	// it on a timer, at most once in flight per service. Errors are
	// absorbed into circuit breaker failure counting, never re-thrown.
	PerformOperation(ctx context.Context) error

	// Stop releases resources. It must be safe to call even if Initialize
	// partially failed.
	Stop() error
}

// ServiceConfig is the mutable per-service tuning carried on a descriptor.
type ServiceConfig struct {
	// CheckInterval is the tick cadence. Subject to the registry's minimum
	// interval floor.
	CheckInterval time.Duration

	// Enabled gates scheduling. A disabled service stays registered and
	// running but idle, distinct from stopped.
	Enabled bool

	// Breaker holds circuit breaker tuning. Zero values take the breaker
	// package defaults.
	Breaker breaker.Config
}

// Descriptor is the identity and wiring for one supervised service.
type Descriptor struct {
	// Name is the unique registry key.
	Name string

	// Dependencies lists services that must initialize successfully before
	// this one starts.
	Dependencies []string

	// Config is the initial tuning. It seeds the persisted configuration
	// record on first start and may be changed at runtime by an operator.
	Config ServiceConfig
}

// State is the lifecycle state of a supervised service. A circuit breaker
// being open is not a state; the service stays running and skips ticks.
type State int

const (
	StateStopped State = iota
	StateInitializing
	StateRunning
	StateStopping
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string name produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "stopped":
		*s = StateStopped
	case "initializing":
		*s = StateInitializing
	case "running":
		*s = StateRunning
	case "stopping":
		*s = StateStopping
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown service state %q", name)
	}
	return nil
}

// Health is the computed status reported to admin tooling.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthFailed   Health = "failed"
)

// BreakerStatus is the circuit breaker slice of a status response.
type BreakerStatus struct {
	IsOpen           bool       `json:"isOpen"`
	State            string     `json:"state"`
	Failures         int        `json:"failures"`
	LastFailure      *time.Time `json:"lastFailure"`
	LastSuccess      *time.Time `json:"lastSuccess"`
	RecoveryAttempts int        `json:"recoveryAttempts"`
}

// Status is the read-only snapshot returned for one service.
type Status struct {
	Service        string             `json:"service"`
	State          State              `json:"state"`
	Status         Health             `json:"status"`
	CircuitBreaker BreakerStatus      `json:"circuitBreaker"`
	Operations     OperationStats     `json:"operations"`
	Performance    PerformanceStats   `json:"performance"`
	History        HistoryStats       `json:"history"`
	Config         store.ConfigRecord `json:"config"`
}
