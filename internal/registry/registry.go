// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/BranchManager69/warden/internal/audit"
	"github.com/BranchManager69/warden/internal/breaker"
	"github.com/BranchManager69/warden/internal/intervalcache"
	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
	"github.com/BranchManager69/warden/internal/store"
)

// DefaultMinCheckInterval is the hard floor on tick cadence. Any configured
// interval below it is rejected with ValidationError.
const DefaultMinCheckInterval = 1000 * time.Millisecond

// DefaultStopTimeout bounds how long StopAll waits for one service before
// force-marking it stopped.
const DefaultStopTimeout = 10 * time.Second

// SystemActor is recorded on audit events for registry-initiated actions.
const SystemActor = "system"

// StateStore is the persistence the registry depends on. *store.Store
// satisfies it; tests substitute fakes.
type StateStore interface {
	SaveServiceConfig(ctx context.Context, rec *store.ConfigRecord) error
	GetServiceConfig(ctx context.Context, name string) (*store.ConfigRecord, error)
	SaveBreakerState(ctx context.Context, rec *store.BreakerStateRecord) error
	GetBreakerState(ctx context.Context, name string) (*store.BreakerStateRecord, error)
	SaveStatsSnapshot(ctx context.Context, name string, snapshot interface{}) error
}

// Supervisor is the slice of *suture.Supervisor the registry uses to run
// per-service schedulers.
type Supervisor interface {
	Add(svc suture.Service) suture.ServiceToken
	RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error
}

// Options configures a Registry.
type Options struct {
	Store      StateStore
	Intervals  *intervalcache.Cache
	Audit      *audit.Recorder
	Supervisor Supervisor

	// StopTimeout bounds each service's stop during StopAll.
	// Default: DefaultStopTimeout
	StopTimeout time.Duration

	// MinCheckInterval is the validation floor for check intervals.
	// Default: DefaultMinCheckInterval
	MinCheckInterval time.Duration
}

// serviceEntry is the registry's record of one supervised service.
type serviceEntry struct {
	descriptor Descriptor
	svc        Service
	breaker    *breaker.Breaker
	stats      *statsTracker

	state    State
	token    suture.ServiceToken
	hasToken bool
}

// Registry owns the set of supervised services. It is safe for concurrent
// use; status reads take snapshots while ticks continue.
type Registry struct {
	store      StateStore
	intervals  *intervalcache.Cache
	audit      *audit.Recorder
	supervisor Supervisor

	stopTimeout time.Duration
	minInterval time.Duration

	mu      sync.RWMutex
	entries map[string]*serviceEntry
	order   []string
	started bool
}

// New creates a Registry. Audit may be nil-backed; everything else is
// required.
func New(opts Options) *Registry {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.MinCheckInterval <= 0 {
		opts.MinCheckInterval = DefaultMinCheckInterval
	}
	return &Registry{
		store:       opts.Store,
		intervals:   opts.Intervals,
		audit:       opts.Audit,
		supervisor:  opts.Supervisor,
		stopTimeout: opts.StopTimeout,
		minInterval: opts.MinCheckInterval,
		entries:     make(map[string]*serviceEntry),
	}
}

// Register adds a service under its descriptor. Returns
// DuplicateServiceError if the name is taken and ValidationError if the
// descriptor is malformed. Must be called before StartAll.
func (r *Registry) Register(desc Descriptor, svc Service) error {
	if strings.TrimSpace(desc.Name) == "" {
		return &ValidationError{Field: "name", Message: "service name must not be empty"}
	}
	if svc == nil {
		return &ValidationError{Field: "service", Message: "service implementation must not be nil"}
	}
	if desc.Config.CheckInterval < r.minInterval {
		return &ValidationError{
			Field:   "check_interval_ms",
			Message: fmt.Sprintf("interval %v is below the %v floor", desc.Config.CheckInterval, r.minInterval),
		}
	}
	for _, dep := range desc.Dependencies {
		if dep == desc.Name {
			return &ValidationError{Field: "dependencies", Message: "service cannot depend on itself"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		return &DuplicateServiceError{Name: desc.Name}
	}

	r.entries[desc.Name] = &serviceEntry{
		descriptor: desc,
		svc:        svc,
		breaker:    breaker.New(desc.Name, desc.Config.Breaker),
		stats:      newStatsTracker(nil),
		state:      StateStopped,
	}
	metrics.RegisteredServices.Set(float64(len(r.entries)))

	logging.Info().
		Str("service", desc.Name).
		Strs("dependencies", desc.Dependencies).
		Dur("check_interval", desc.Config.CheckInterval).
		Msg("Service registered")
	return nil
}

// StartAll starts every registered service in dependency order. A cycle in
// the dependency graph is fatal and nothing starts. An initialization
// failure puts that service in the error state and skips its dependents,
// but sibling branches keep starting; those failures are joined into the
// returned error.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	deps := make(map[string][]string, len(r.entries))
	for name, entry := range r.entries {
		deps[name] = entry.descriptor.Dependencies
	}
	order, err := topoSort(deps)
	if err != nil {
		return err
	}
	r.order = order

	var initErrs []error
	failed := make(map[string]bool)

	for _, name := range order {
		entry := r.entries[name]

		if blocked := failedDependency(entry.descriptor.Dependencies, failed); blocked != "" {
			failed[name] = true
			logging.Warn().
				Str("service", name).
				Str("dependency", blocked).
				Msg("Service not started, dependency failed to initialize")
			continue
		}

		if err := r.startLocked(ctx, entry); err != nil {
			failed[name] = true
			initErrs = append(initErrs, fmt.Errorf("initialize %s: %w", name, err))
		}
	}

	r.started = true
	return errors.Join(initErrs...)
}

// startLocked initializes one service and hands its scheduler to the
// supervisor. Must be called with mu held.
func (r *Registry) startLocked(ctx context.Context, entry *serviceEntry) error {
	name := entry.descriptor.Name

	if err := r.ensureConfig(ctx, entry); err != nil {
		logging.Err(err).Str("service", name).Msg("Failed to seed persisted config")
	}
	r.seedBreaker(ctx, entry)

	entry.state = StateInitializing
	metrics.ServiceState.WithLabelValues(name).Set(float64(StateInitializing))

	if err := entry.svc.Initialize(ctx); err != nil {
		entry.state = StateError
		metrics.ServiceState.WithLabelValues(name).Set(float64(StateError))
		entry.stats.markError(err)
		logging.Err(err).Str("service", name).Msg("Service initialization failed")
		return err
	}

	run := &runner{
		name:            name,
		svc:             entry.svc,
		breaker:         entry.breaker,
		stats:           entry.stats,
		intervals:       r.intervals,
		states:          r.store,
		defaultInterval: entry.descriptor.Config.CheckInterval,
	}
	entry.token = r.supervisor.Add(run)
	entry.hasToken = true
	entry.state = StateRunning
	entry.stats.markStarted()
	metrics.ServiceState.WithLabelValues(name).Set(float64(StateRunning))

	r.recordAudit(ctx, &audit.Event{
		Action:      audit.ActionServiceStart,
		Actor:       SystemActor,
		Service:     name,
		Description: "Service initialized and scheduled",
	})
	logging.Info().Str("service", name).Msg("Service started")
	return nil
}

// ensureConfig seeds the persisted configuration record from the descriptor
// on first start so interval reads and admin listings see every service.
// An existing record wins; it may carry operator changes from a prior run.
func (r *Registry) ensureConfig(ctx context.Context, entry *serviceEntry) error {
	name := entry.descriptor.Name
	existing, err := r.store.GetServiceConfig(ctx, name)
	if err == nil {
		entry.descriptor.Config = applyRecord(entry.descriptor.Config, existing)
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	rec := configRecord(entry.descriptor)
	rec.UpdatedBy = SystemActor
	return r.store.SaveServiceConfig(ctx, rec)
}

// seedBreaker restores persisted breaker state so an open breaker stays
// open across a restart. Missing state is normal on first start.
func (r *Registry) seedBreaker(ctx context.Context, entry *serviceEntry) {
	name := entry.descriptor.Name
	rec, err := r.store.GetBreakerState(ctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Err(err).Str("service", name).Msg("Failed to read persisted breaker state")
		}
		return
	}
	entry.breaker.Seed(breakerSnapshot(rec))
	if rec.IsOpen {
		logging.Warn().
			Str("service", name).
			Int("failures", rec.Failures).
			Msg("Circuit breaker restored open from persisted state")
	}
}

// StopAll stops services in reverse start order. Each stop is bounded by
// the stop timeout; a service that does not stop in time is force-marked
// stopped and logged, never blocking the rest of shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		entry := r.entries[name]
		if entry.state != StateRunning && entry.state != StateError {
			continue
		}
		r.stopLocked(ctx, entry)
	}
}

// stopLocked stops one service. Must be called with mu held.
func (r *Registry) stopLocked(ctx context.Context, entry *serviceEntry) {
	name := entry.descriptor.Name
	entry.state = StateStopping
	metrics.ServiceState.WithLabelValues(name).Set(float64(StateStopping))

	if entry.hasToken {
		if err := r.supervisor.RemoveAndWait(entry.token, r.stopTimeout); err != nil {
			logging.Err(err).Str("service", name).Msg("Scheduler did not stop within timeout, force-marking stopped")
		}
		entry.hasToken = false
	}

	done := make(chan error, 1)
	go func() { done <- entry.svc.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			logging.Err(err).Str("service", name).Msg("Service stop returned error")
		}
	case <-time.After(r.stopTimeout):
		logging.Warn().
			Str("service", name).
			Dur("timeout", r.stopTimeout).
			Msg("Service did not stop within timeout, force-marking stopped")
	}

	entry.state = StateStopped
	entry.stats.markStopped()
	metrics.ServiceState.WithLabelValues(name).Set(float64(StateStopped))

	r.recordAudit(ctx, &audit.Event{
		Action:      audit.ActionServiceStop,
		Actor:       SystemActor,
		Service:     name,
		Description: "Service stopped",
	})
	logging.Info().Str("service", name).Msg("Service stopped")
}

// Status returns a snapshot for one service, or UnknownServiceError.
func (r *Registry) Status(name string) (*Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, &UnknownServiceError{Name: name}
	}
	status := r.statusLocked(entry)
	return &status, nil
}

// AllStatuses returns snapshots for every registered service, sorted by
// name. It never fails; unhealthy services are reported, not hidden.
func (r *Registry) AllStatuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.entries))
	for _, entry := range r.entries {
		statuses = append(statuses, r.statusLocked(entry))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Service < statuses[j].Service })
	return statuses
}

// statusLocked builds one status snapshot. Must be called with mu held.
func (r *Registry) statusLocked(entry *serviceEntry) Status {
	snap := entry.breaker.Snapshot()
	stats := entry.stats.snapshot()
	return Status{
		Service: entry.descriptor.Name,
		State:   entry.state,
		Status:  health(entry.state, entry.breaker),
		CircuitBreaker: BreakerStatus{
			IsOpen:           snap.IsOpen,
			State:            snap.State.String(),
			Failures:         snap.Failures,
			LastFailure:      snap.LastFailure,
			LastSuccess:      snap.LastSuccess,
			RecoveryAttempts: snap.RecoveryAttempts,
		},
		Operations:  stats.Operations,
		Performance: stats.Performance,
		History:     stats.History,
		Config:      *configRecord(entry.descriptor),
	}
}

// health derives the reported status. A recently failed but closed breaker
// reports degraded until the minimum healthy period has elapsed.
func health(state State, b *breaker.Breaker) Health {
	switch state {
	case StateError:
		return HealthFailed
	case StateRunning:
	default:
		return HealthDegraded
	}
	snap := b.Snapshot()
	if snap.IsOpen {
		return HealthFailed
	}
	if !b.Healthy() {
		return HealthDegraded
	}
	return HealthHealthy
}

// ConfigPatch is a partial config update. Nil fields are left unchanged.
type ConfigPatch struct {
	CheckIntervalMs *int64         `json:"check_interval_ms,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	CircuitBreaker  *BreakerPatch  `json:"circuit_breaker,omitempty"`
}

// BreakerPatch is the circuit breaker slice of a config patch.
type BreakerPatch struct {
	FailureThreshold   *int   `json:"failure_threshold,omitempty"`
	ResetTimeoutMs     *int64 `json:"reset_timeout_ms,omitempty"`
	MinHealthyPeriodMs *int64 `json:"min_healthy_period_ms,omitempty"`
}

// UpdateConfig merges a partial config into a service's persisted record,
// invalidates its interval cache entry, and emits an audit event. Interval
// and enabled changes take effect within one tick cycle; breaker threshold
// changes apply when the service next starts.
func (r *Registry) UpdateConfig(ctx context.Context, name string, patch ConfigPatch, actor string) (*store.ConfigRecord, error) {
	if patch.CheckIntervalMs != nil && time.Duration(*patch.CheckIntervalMs)*time.Millisecond < r.minInterval {
		return nil, &ValidationError{
			Field:   "check_interval_ms",
			Message: fmt.Sprintf("interval %dms is below the %v floor", *patch.CheckIntervalMs, r.minInterval),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, &UnknownServiceError{Name: name}
	}

	before, err := r.store.GetServiceConfig(ctx, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load config for %s: %w", name, err)
		}
		before = configRecord(entry.descriptor)
	}

	after := *before
	if patch.CheckIntervalMs != nil {
		after.CheckIntervalMs = *patch.CheckIntervalMs
	}
	if patch.Enabled != nil {
		after.Enabled = *patch.Enabled
	}
	if patch.CircuitBreaker != nil {
		if patch.CircuitBreaker.FailureThreshold != nil {
			after.CircuitBreaker.FailureThreshold = *patch.CircuitBreaker.FailureThreshold
		}
		if patch.CircuitBreaker.ResetTimeoutMs != nil {
			after.CircuitBreaker.ResetTimeoutMs = *patch.CircuitBreaker.ResetTimeoutMs
		}
		if patch.CircuitBreaker.MinHealthyPeriodMs != nil {
			after.CircuitBreaker.MinHealthyPeriodMs = *patch.CircuitBreaker.MinHealthyPeriodMs
		}
	}
	after.UpdatedBy = actor

	if err := r.store.SaveServiceConfig(ctx, &after); err != nil {
		return nil, fmt.Errorf("save config for %s: %w", name, err)
	}

	entry.descriptor.Config = applyRecord(entry.descriptor.Config, &after)
	r.intervals.Invalidate(name)

	r.recordAudit(ctx, audit.ConfigChange(actor, name, before, &after))
	logging.Info().
		Str("service", name).
		Str("actor", actor).
		Int64("check_interval_ms", after.CheckIntervalMs).
		Bool("enabled", after.Enabled).
		Msg("Service configuration updated")
	return &after, nil
}

// ResetBreaker forcibly closes a service's circuit breaker. The reason is
// mandatory for the audit trail; an empty reason is rejected with
// ValidationError and no state changes.
func (r *Registry) ResetBreaker(ctx context.Context, name, actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Message: "reset reason must not be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return &UnknownServiceError{Name: name}
	}

	before := entry.breaker.Snapshot()
	entry.breaker.Reset()
	after := entry.breaker.Snapshot()

	if err := r.store.SaveBreakerState(ctx, breakerRecord(name, after)); err != nil {
		logging.Err(err).Str("service", name).Msg("Failed to persist breaker state after reset")
	}

	r.recordAudit(ctx, audit.BreakerReset(actor, name, reason, before, after))
	logging.Info().
		Str("service", name).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Circuit breaker reset by operator")
	return nil
}

// FlushStats persists a stats snapshot for every service. Called on an
// interval by the stats flush worker.
func (r *Registry) FlushStats(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, entry := range r.entries {
		if err := r.store.SaveStatsSnapshot(ctx, name, entry.stats.snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("flush stats for %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// recordAudit emits an audit event, logging delivery failures.
func (r *Registry) recordAudit(ctx context.Context, event *audit.Event) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, event); err != nil {
		logging.Err(err).
			Str("service", event.Service).
			Str("action", string(event.Action)).
			Msg("Failed to record audit event")
	}
}

// failedDependency returns the first dependency present in the failed set.
func failedDependency(deps []string, failed map[string]bool) string {
	for _, dep := range deps {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// configRecord renders a descriptor's config as its persisted shape.
func configRecord(desc Descriptor) *store.ConfigRecord {
	return &store.ConfigRecord{
		ServiceName:     desc.Name,
		CheckIntervalMs: desc.Config.CheckInterval.Milliseconds(),
		Enabled:         desc.Config.Enabled,
		CircuitBreaker: store.BreakerSettings{
			FailureThreshold:   desc.Config.Breaker.FailureThreshold,
			ResetTimeoutMs:     desc.Config.Breaker.ResetTimeout.Milliseconds(),
			MinHealthyPeriodMs: desc.Config.Breaker.MinHealthyPeriod.Milliseconds(),
		},
	}
}

// applyRecord overlays a persisted record onto an in-memory config.
func applyRecord(cfg ServiceConfig, rec *store.ConfigRecord) ServiceConfig {
	cfg.CheckInterval = time.Duration(rec.CheckIntervalMs) * time.Millisecond
	cfg.Enabled = rec.Enabled
	if rec.CircuitBreaker.FailureThreshold > 0 {
		cfg.Breaker.FailureThreshold = rec.CircuitBreaker.FailureThreshold
	}
	if rec.CircuitBreaker.ResetTimeoutMs > 0 {
		cfg.Breaker.ResetTimeout = time.Duration(rec.CircuitBreaker.ResetTimeoutMs) * time.Millisecond
	}
	if rec.CircuitBreaker.MinHealthyPeriodMs > 0 {
		cfg.Breaker.MinHealthyPeriod = time.Duration(rec.CircuitBreaker.MinHealthyPeriodMs) * time.Millisecond
	}
	return cfg
}
