// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package registry

import (
	"sync"
	"time"
)

// OperationStats are monotonically increasing tick counters. Skipped ticks
// do not count.
type OperationStats struct {
	Total      uint64 `json:"total"`
	Successful uint64 `json:"successful"`
	Failed     uint64 `json:"failed"`
}

// PerformanceStats track operation wall-clock durations.
type PerformanceStats struct {
	LastOperationTimeMs    float64 `json:"lastOperationTimeMs"`
	AverageOperationTimeMs float64 `json:"averageOperationTimeMs"`
}

// HistoryStats record lifecycle and error timestamps.
type HistoryStats struct {
	LastStarted   *time.Time `json:"lastStarted"`
	LastStopped   *time.Time `json:"lastStopped"`
	LastError     string     `json:"lastError,omitempty"`
	LastErrorTime *time.Time `json:"lastErrorTime"`
}

// Stats is the aggregate runtime record for one service.
type Stats struct {
	Operations  OperationStats   `json:"operations"`
	Performance PerformanceStats `json:"performance"`
	History     HistoryStats     `json:"history"`
}

// statsTracker accumulates stats for one service. The service's own tick
// loop is the only writer; status readers take copies under the lock.
type statsTracker struct {
	mu    sync.Mutex
	stats Stats
	now   func() time.Time
}

func newStatsTracker(now func() time.Time) *statsTracker {
	if now == nil {
		now = time.Now
	}
	return &statsTracker{now: now}
}

func (t *statsTracker) recordSuccess(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Operations.Total++
	t.stats.Operations.Successful++
	t.recordDuration(duration)
}

func (t *statsTracker) recordFailure(duration time.Duration, opErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Operations.Total++
	t.stats.Operations.Failed++
	t.recordDuration(duration)

	now := t.now()
	t.stats.History.LastError = opErr.Error()
	t.stats.History.LastErrorTime = &now
}

// recordDuration updates last and running average. Must be called with mu
// held, after the total counter has been incremented.
func (t *statsTracker) recordDuration(duration time.Duration) {
	ms := float64(duration) / float64(time.Millisecond)
	t.stats.Performance.LastOperationTimeMs = ms

	n := float64(t.stats.Operations.Total)
	avg := t.stats.Performance.AverageOperationTimeMs
	t.stats.Performance.AverageOperationTimeMs = avg + (ms-avg)/n
}

func (t *statsTracker) markStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.stats.History.LastStarted = &now
}

func (t *statsTracker) markStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.stats.History.LastStopped = &now
}

func (t *statsTracker) markError(initErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.stats.History.LastError = initErr.Error()
	t.stats.History.LastErrorTime = &now
}

// snapshot returns a copy safe to read while ticks continue.
func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
