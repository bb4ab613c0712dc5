// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BranchManager69/warden/internal/breaker"
	"github.com/BranchManager69/warden/internal/intervalcache"
	"github.com/BranchManager69/warden/internal/store"
)

// newRunner wires a runner directly against a fake store, bypassing the
// registry, so tick behavior can be observed with fast real intervals.
func newRunner(fs *fakeStore, name string, svc Service, cfg breaker.Config, interval time.Duration) *runner {
	return &runner{
		name:            name,
		svc:             svc,
		breaker:         breaker.New(name, cfg),
		stats:           newStatsTracker(nil),
		intervals:       intervalcache.New(fs, 5*time.Millisecond),
		states:          fs,
		defaultInterval: interval,
	}
}

// serve runs the runner until the returned cancel is called.
func serve(t *testing.T, r *runner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Runner did not stop after context cancel")
		}
	})
	return cancel
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunner_CountersMatchExecutedTicks(t *testing.T) {
	fs := newFakeStore()
	svc := &mockService{}
	r := newRunner(fs, "counter", svc, breaker.Config{}, 10*time.Millisecond)
	cancel := serve(t, r)

	waitFor(t, 2*time.Second, func() bool { return svc.opCalls.Load() >= 5 },
		"Expected at least 5 ticks")
	cancel()

	// Allow an in-flight tick to finish recording.
	time.Sleep(50 * time.Millisecond)

	stats := r.stats.snapshot()
	executed := uint64(svc.opCalls.Load())
	if stats.Operations.Total > executed {
		t.Errorf("Total %d exceeds executed ticks %d", stats.Operations.Total, executed)
	}
	if stats.Operations.Successful+stats.Operations.Failed != stats.Operations.Total {
		t.Errorf("successful+failed (%d+%d) must equal total (%d)",
			stats.Operations.Successful, stats.Operations.Failed, stats.Operations.Total)
	}
	if stats.Operations.Failed != 0 {
		t.Errorf("Expected no failures, got %d", stats.Operations.Failed)
	}
	if stats.Performance.LastOperationTimeMs < 0 || stats.Performance.AverageOperationTimeMs < 0 {
		t.Errorf("Durations must be non-negative: %+v", stats.Performance)
	}
}

func TestRunner_BreakerSuppressesTicks(t *testing.T) {
	fs := newFakeStore()
	svc := &mockService{opErr: errors.New("upstream down")}
	cfg := breaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}
	r := newRunner(fs, "failing", svc, cfg, 10*time.Millisecond)
	serve(t, r)

	waitFor(t, 2*time.Second, func() bool { return r.breaker.Snapshot().IsOpen },
		"Breaker should open after threshold failures")

	executed := svc.opCalls.Load()
	if executed < 2 {
		t.Fatalf("Expected at least threshold executions, got %d", executed)
	}

	// No recovery probe for an hour: tick attempts must all be skipped.
	time.Sleep(100 * time.Millisecond)
	if after := svc.opCalls.Load(); after != executed {
		t.Errorf("Expected no executions while open, got %d more", after-executed)
	}

	stats := r.stats.snapshot()
	if stats.Operations.Total != uint64(executed) {
		t.Errorf("Skipped ticks must not count: total=%d executed=%d", stats.Operations.Total, executed)
	}
	if stats.History.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestRunner_RecoveryProbeCloses(t *testing.T) {
	fs := newFakeStore()

	var failing atomic.Bool
	failing.Store(true)
	svc := &flakyService{failing: &failing}

	cfg := breaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	}
	r := newRunner(fs, "flaky", svc, cfg, 10*time.Millisecond)
	serve(t, r)

	waitFor(t, 2*time.Second, func() bool { return r.breaker.Snapshot().IsOpen },
		"Breaker should open after threshold failures")

	// Upstream recovers; the next half-open probe should close the breaker.
	failing.Store(false)
	waitFor(t, 2*time.Second, func() bool {
		snap := r.breaker.Snapshot()
		return !snap.IsOpen && snap.Failures == 0
	}, "Breaker should close after a successful probe")
}

func TestRunner_DisabledServiceIdles(t *testing.T) {
	fs := newFakeStore()
	fs.configs["idle"] = &store.ConfigRecord{
		ServiceName:     "idle",
		CheckIntervalMs: 10,
		Enabled:         false,
	}
	svc := &mockService{}
	r := newRunner(fs, "idle", svc, breaker.Config{}, 10*time.Millisecond)
	serve(t, r)

	time.Sleep(100 * time.Millisecond)
	if calls := svc.opCalls.Load(); calls != 0 {
		t.Errorf("Disabled service must not tick, got %d operations", calls)
	}
}

func TestRunner_PanicIsAFailure(t *testing.T) {
	fs := newFakeStore()
	svc := &panicService{}
	r := newRunner(fs, "panicky", svc, breaker.Config{FailureThreshold: 100}, 10*time.Millisecond)
	serve(t, r)

	waitFor(t, 2*time.Second, func() bool { return svc.calls.Load() >= 3 },
		"Runner must survive panicking operations and keep ticking")

	stats := r.stats.snapshot()
	if stats.Operations.Failed == 0 {
		t.Error("Expected panics to be counted as failures")
	}
	if stats.History.LastError == "" {
		t.Error("Expected panic message in last error")
	}
}

func TestRunner_PersistsBreakerState(t *testing.T) {
	fs := newFakeStore()
	svc := &mockService{opErr: errors.New("boom")}
	cfg := breaker.Config{FailureThreshold: 2, ResetTimeout: time.Hour}
	r := newRunner(fs, "persisted", svc, cfg, 10*time.Millisecond)
	serve(t, r)

	waitFor(t, 2*time.Second, func() bool {
		rec, err := fs.GetBreakerState(context.Background(), "persisted")
		return err == nil && rec.IsOpen
	}, "Open breaker state should be persisted after the tick that opened it")

	rec, err := fs.GetBreakerState(context.Background(), "persisted")
	if err != nil {
		t.Fatalf("GetBreakerState failed: %v", err)
	}
	if rec.Failures < 2 {
		t.Errorf("Expected persisted failure count >= 2, got %d", rec.Failures)
	}
	if rec.LastFailure == nil {
		t.Error("Expected persisted last failure timestamp")
	}
}

// flakyService fails while the flag is set.
type flakyService struct {
	failing *atomic.Bool
}

func (s *flakyService) Initialize(_ context.Context) error { return nil }

func (s *flakyService) PerformOperation(_ context.Context) error {
	if s.failing.Load() {
		return errors.New("upstream down")
	}
	return nil
}

func (s *flakyService) Stop() error { return nil }

// panicService panics on every operation.
type panicService struct {
	calls atomic.Int64
}

func (s *panicService) Initialize(_ context.Context) error { return nil }

func (s *panicService) PerformOperation(_ context.Context) error {
	s.calls.Add(1)
	panic("unexpected nil dereference")
}

func (s *panicService) Stop() error { return nil }
