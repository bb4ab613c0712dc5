// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BranchManager69/warden/internal/breaker"
	"github.com/BranchManager69/warden/internal/intervalcache"
	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
	"github.com/BranchManager69/warden/internal/store"
)

// breakerStateWriter is the slice of the store the runner needs to persist
// breaker state after each tick outcome.
type breakerStateWriter interface {
	SaveBreakerState(ctx context.Context, rec *store.BreakerStateRecord) error
}

// runner is the per-service scheduling loop. It implements suture.Service:
// the supervisor restarts it if it ever returns unexpectedly, and cancels
// its context on removal.
//
// Ticks are strictly sequential. The next tick is scheduled from completion
// time, not tick start, so a slow operation never overlaps itself.
type runner struct {
	name            string
	svc             Service
	breaker         *breaker.Breaker
	stats           *statsTracker
	intervals       *intervalcache.Cache
	states          breakerStateWriter
	defaultInterval time.Duration
}

// Serve runs the tick loop until the context is canceled.
func (r *runner) Serve(ctx context.Context) error {
	timer := time.NewTimer(r.wait(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		interval, err := r.intervals.Interval(ctx, r.name, r.defaultInterval, false)
		switch {
		case errors.Is(err, intervalcache.ErrServiceDisabled):
			// Present but idle. Re-check on the default cadence so an
			// operator re-enable takes effect without a restart.
			timer.Reset(r.defaultInterval)
			continue
		case !r.breaker.Allow():
			metrics.ObserveSkippedTick(r.name)
			timer.Reset(interval)
			continue
		}

		r.tick(ctx)
		timer.Reset(interval)
	}
}

// wait computes the initial delay before the first tick.
func (r *runner) wait(ctx context.Context) time.Duration {
	interval, err := r.intervals.Interval(ctx, r.name, r.defaultInterval, false)
	if errors.Is(err, intervalcache.ErrServiceDisabled) {
		return r.defaultInterval
	}
	return interval
}

// tick runs one operation and records its outcome.
func (r *runner) tick(ctx context.Context) {
	start := time.Now()
	err := r.perform(ctx)
	duration := time.Since(start)

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown interrupted the operation. Not a service failure.
		return
	}

	if err != nil {
		r.stats.recordFailure(duration, err)
		r.breaker.RecordFailure()
		metrics.ObserveOperation(r.name, duration, false)
		logging.Err(err).
			Str("service", r.name).
			Dur("duration", duration).
			Msg("Service operation failed")
	} else {
		r.stats.recordSuccess(duration)
		r.breaker.RecordSuccess()
		metrics.ObserveOperation(r.name, duration, true)
		logging.Debug().
			Str("service", r.name).
			Dur("duration", duration).
			Msg("Service operation completed")
	}

	r.persistBreakerState(ctx)
}

// perform invokes the operation, converting a panic into an error so one
// misbehaving service cannot take down the process.
func (r *runner) perform(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation panic: %v", rec)
		}
	}()
	return r.svc.PerformOperation(ctx)
}

// persistBreakerState writes the breaker snapshot so an open breaker
// survives a process restart. Failures are logged, never fatal.
func (r *runner) persistBreakerState(ctx context.Context) {
	if r.states == nil {
		return
	}
	rec := breakerRecord(r.name, r.breaker.Snapshot())
	if err := r.states.SaveBreakerState(ctx, rec); err != nil {
		logging.Err(err).
			Str("service", r.name).
			Msg("Failed to persist circuit breaker state")
	}
}

// breakerRecord converts an in-memory breaker snapshot to its persisted
// representation.
func breakerRecord(name string, snap breaker.Snapshot) *store.BreakerStateRecord {
	return &store.BreakerStateRecord{
		ServiceName:      name,
		IsOpen:           snap.IsOpen,
		Failures:         snap.Failures,
		LastFailure:      snap.LastFailure,
		LastSuccess:      snap.LastSuccess,
		RecoveryAttempts: snap.RecoveryAttempts,
		ResetTimeoutMs:   snap.ResetTimeout.Milliseconds(),
	}
}

// breakerSnapshot converts a persisted record back to a seedable snapshot.
func breakerSnapshot(rec *store.BreakerStateRecord) breaker.Snapshot {
	return breaker.Snapshot{
		IsOpen:           rec.IsOpen,
		Failures:         rec.Failures,
		LastFailure:      rec.LastFailure,
		LastSuccess:      rec.LastSuccess,
		RecoveryAttempts: rec.RecoveryAttempts,
		ResetTimeout:     time.Duration(rec.ResetTimeoutMs) * time.Millisecond,
	}
}
