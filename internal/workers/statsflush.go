// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package workers

import (
	"context"
	"time"
)

// statsFlusher is the slice of the registry the flush service needs.
type statsFlusher interface {
	FlushStats(ctx context.Context) error
}

// StatsFlush persists every service's aggregate stats on each tick, so
// admin tooling can see counters from before the last restart. A final
// flush runs on Stop.
type StatsFlush struct {
	registry statsFlusher
}

// NewStatsFlush creates the flush service.
func NewStatsFlush(registry statsFlusher) *StatsFlush {
	return &StatsFlush{registry: registry}
}

// Initialize implements the service contract.
func (s *StatsFlush) Initialize(_ context.Context) error {
	return nil
}

// PerformOperation flushes all stats snapshots.
func (s *StatsFlush) PerformOperation(ctx context.Context) error {
	return s.registry.FlushStats(ctx)
}

// Stop flushes once more so the last pre-shutdown stats are not lost.
func (s *StatsFlush) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.registry.FlushStats(ctx)
}
