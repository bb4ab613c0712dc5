// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package breaker implements the per-service circuit breaker that gates the
// scheduler's ticks. It is a consecutive-failure breaker with an exponential
// probe backoff: after FailureThreshold consecutive failures the breaker
// opens and ticks are suppressed until ResetTimeout elapses, then a single
// half-open probe decides between full recovery and a longer cooldown.
//
// Unlike a request-rate breaker (sony/gobreaker, used elsewhere in this
// codebase to guard store reads), this breaker counts consecutive failures,
// supports seeding from persisted state across restarts, and exposes the
// min-healthy-period rule used by status reporting.
package breaker

import (
	"math"
	"sync"
	"time"

	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the lowercase state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning for one service.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5
	FailureThreshold int

	// ResetTimeout is the base cooldown before a half-open probe is allowed.
	// Default: 30s
	ResetTimeout time.Duration

	// BackoffMultiplier grows the cooldown after each failed probe.
	// Default: 2.0
	BackoffMultiplier float64

	// MonitoringWindow caps the backed-off cooldown. Default: 10m
	MonitoringWindow time.Duration

	// MinHealthyPeriod is how long after the last failure a closed breaker
	// is still reported degraded rather than healthy. Default: 2m
	MinHealthyPeriod time.Duration
}

// withDefaults fills zero values with production defaults.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 2.0
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = 10 * time.Minute
	}
	if c.MinHealthyPeriod <= 0 {
		c.MinHealthyPeriod = 2 * time.Minute
	}
	return c
}

// Snapshot is a read-only copy of breaker state, also used for persistence.
type Snapshot struct {
	State            State
	IsOpen           bool
	Failures         int
	LastFailure      *time.Time
	LastSuccess      *time.Time
	RecoveryAttempts int
	ResetTimeout     time.Duration
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock injects a time source. Tests use this to drive transitions
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a single-service circuit breaker. It is safe for concurrent
// use, though the scheduler guarantees at most one writer (the service's
// own tick loop); status readers take snapshots.
type Breaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	failures         int
	recoveryAttempts int
	lastFailure      time.Time
	lastSuccess      time.Time
	resetTimeout     time.Duration

	now func() time.Time
}

// New creates a breaker for the named service.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	b.resetTimeout = b.cfg.ResetTimeout
	for _, opt := range opts {
		opt(b)
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(StateClosed))
	metrics.CircuitBreakerFailures.WithLabelValues(name).Set(0)
	return b
}

// Allow reports whether the next tick may run. An open breaker whose
// cooldown has elapsed transitions to half-open and allows one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.resetTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess notes a successful operation. Any success resets the
// consecutive failure count; a half-open probe success fully closes the
// breaker and clears the backoff.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	b.failures = 0
	metrics.CircuitBreakerFailures.WithLabelValues(b.name).Set(0)

	if b.state != StateClosed {
		b.recoveryAttempts = 0
		b.resetTimeout = b.cfg.ResetTimeout
		b.transition(StateClosed)
	}
}

// RecordFailure notes a failed operation. A half-open probe failure reopens
// the breaker with an exponentially backed-off cooldown, capped at the
// monitoring window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.failures++
	metrics.CircuitBreakerFailures.WithLabelValues(b.name).Set(float64(b.failures))

	switch b.state {
	case StateHalfOpen:
		b.recoveryAttempts++
		b.resetTimeout = b.backoff()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateOpen:
		// Failures while open (e.g. a forced operation) keep it open.
	}
}

// backoff computes the current cooldown: base * multiplier^attempts, capped
// at the monitoring window. Must be called with mu held.
func (b *Breaker) backoff() time.Duration {
	scaled := float64(b.cfg.ResetTimeout) * math.Pow(b.cfg.BackoffMultiplier, float64(b.recoveryAttempts))
	if scaled > float64(b.cfg.MonitoringWindow) {
		return b.cfg.MonitoringWindow
	}
	return time.Duration(scaled)
}

// Reset forcibly closes the breaker and zeroes all counters. Reason
// validation and auditing happen at the registry boundary.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.recoveryAttempts = 0
	b.resetTimeout = b.cfg.ResetTimeout
	metrics.CircuitBreakerFailures.WithLabelValues(b.name).Set(0)
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Healthy reports whether the breaker is closed and the service has been
// failure-free for at least MinHealthyPeriod. A closed breaker with a
// recent failure reports false (degraded, not failed).
func (b *Breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		return false
	}
	if b.lastFailure.IsZero() {
		return true
	}
	return b.now().Sub(b.lastFailure) >= b.cfg.MinHealthyPeriod
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the current state for status reporting and
// persistence.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		State:            b.state,
		IsOpen:           b.state == StateOpen,
		Failures:         b.failures,
		RecoveryAttempts: b.recoveryAttempts,
		ResetTimeout:     b.resetTimeout,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		snap.LastFailure = &t
	}
	if !b.lastSuccess.IsZero() {
		t := b.lastSuccess
		snap.LastSuccess = &t
	}
	return snap
}

// Seed restores breaker state from a persisted snapshot. Called once at
// service start so an open breaker survives a process restart.
func (b *Breaker) Seed(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = snap.Failures
	b.recoveryAttempts = snap.RecoveryAttempts
	if snap.LastFailure != nil {
		b.lastFailure = *snap.LastFailure
	}
	if snap.LastSuccess != nil {
		b.lastSuccess = *snap.LastSuccess
	}
	if snap.ResetTimeout > 0 {
		b.resetTimeout = snap.ResetTimeout
	}
	if snap.IsOpen {
		b.transition(StateOpen)
	}
	metrics.CircuitBreakerFailures.WithLabelValues(b.name).Set(float64(b.failures))
}

// transition moves to a new state, logging and updating metrics.
// Must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	logging.Info().
		Str("service", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state transition")
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(stateToFloat(to))
	metrics.CircuitBreakerTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
}

// stateToFloat converts a state to its metric gauge value.
func stateToFloat(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}
