// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/BranchManager69/warden/internal/logging"
)

// auditPruner is the slice of the audit store the retention service needs.
type auditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetention deletes audit events older than the retention window on
// each tick.
type AuditRetention struct {
	store     auditPruner
	retention time.Duration
}

// NewAuditRetention creates the retention service. A zero retention takes
// 90 days.
func NewAuditRetention(store auditPruner, retention time.Duration) *AuditRetention {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &AuditRetention{
		store:     store,
		retention: retention,
	}
}

// Initialize implements the service contract.
func (r *AuditRetention) Initialize(_ context.Context) error {
	return nil
}

// PerformOperation sweeps expired events.
func (r *AuditRetention) PerformOperation(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.retention)
	deleted, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit retention sweep: %w", err)
	}
	if deleted > 0 {
		logging.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Audit retention sweep deleted expired events")
	}
	return nil
}

// Stop implements the service contract.
func (r *AuditRetention) Stop() error {
	return nil
}
