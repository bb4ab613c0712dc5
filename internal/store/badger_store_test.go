// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestServiceConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &ConfigRecord{
		ServiceName:     "market-data",
		CheckIntervalMs: 5000,
		Enabled:         true,
		CircuitBreaker: BreakerSettings{
			FailureThreshold:   3,
			ResetTimeoutMs:     30000,
			MinHealthyPeriodMs: 120000,
		},
		UpdatedBy: "alice",
	}

	if err := s.SaveServiceConfig(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on save")
	}

	got, err := s.GetServiceConfig(ctx, "market-data")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CheckIntervalMs != 5000 || !got.Enabled || got.UpdatedBy != "alice" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("breaker settings not preserved: %+v", got.CircuitBreaker)
	}
}

func TestGetServiceConfigNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetServiceConfig(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &ConfigRecord{ServiceName: "x", CheckIntervalMs: 1000, Enabled: true, UpdatedBy: "alice"}
	if err := s.SaveServiceConfig(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &ConfigRecord{ServiceName: "x", CheckIntervalMs: 2000, Enabled: false, UpdatedBy: "bob"}
	if err := s.SaveServiceConfig(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetServiceConfig(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.CheckIntervalMs != 2000 || got.Enabled || got.UpdatedBy != "bob" {
		t.Errorf("expected second write to win, got %+v", got)
	}
	if got.UpdatedAt.Before(first.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v vs %v", got.UpdatedAt, first.UpdatedAt)
	}
}

func TestListServiceConfigs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		rec := &ConfigRecord{ServiceName: name, CheckIntervalMs: 1000, Enabled: true}
		if err := s.SaveServiceConfig(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	// A breaker state record must not leak into the config listing.
	if err := s.SaveBreakerState(ctx, &BreakerStateRecord{ServiceName: "a"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListServiceConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 configs, got %d", len(got))
	}
}

func TestBreakerStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	failedAt := time.Now().UTC().Truncate(time.Millisecond)
	rec := &BreakerStateRecord{
		ServiceName:      "wallet-rake",
		IsOpen:           true,
		Failures:         4,
		LastFailure:      &failedAt,
		RecoveryAttempts: 2,
		ResetTimeoutMs:   60000,
	}
	if err := s.SaveBreakerState(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetBreakerState(ctx, "wallet-rake")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOpen || got.Failures != 4 || got.RecoveryAttempts != 2 {
		t.Errorf("unexpected state: %+v", got)
	}
	if got.LastFailure == nil || !got.LastFailure.Equal(failedAt) {
		t.Errorf("LastFailure not preserved: %v", got.LastFailure)
	}

	if _, err := s.GetBreakerState(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown service, got %v", err)
	}
}

func TestStatsSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	type snap struct {
		Total   uint64 `json:"total"`
		Failed  uint64 `json:"failed"`
		Flushed string `json:"flushed"`
	}

	in := snap{Total: 42, Failed: 3, Flushed: "shutdown"}
	if err := s.SaveStatsSnapshot(ctx, "token-enrichment", in); err != nil {
		t.Fatal(err)
	}

	var out snap
	if err := s.GetStatsSnapshot(ctx, "token-enrichment", &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("snapshot mismatch: got %+v want %+v", out, in)
	}
}
