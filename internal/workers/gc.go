// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package workers holds the built-in supervised services that ship with
// the daemon: Badger value log GC, audit trail retention, and periodic
// stats persistence. Each implements the same contract as any operator
// worker, so they get a status row, a circuit breaker, and a live-tunable
// interval like everything else in the registry.
package workers

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/BranchManager69/warden/internal/logging"
)

// valueLogGC is the slice of the state store the GC service needs.
type valueLogGC interface {
	RunValueLogGC(discardRatio float64) error
}

// BadgerGC reclaims space in the state store's value log on each tick.
// Badger does not run value log GC on its own; without this service the
// store grows without bound.
type BadgerGC struct {
	store        valueLogGC
	discardRatio float64
}

// NewBadgerGC creates the GC service. A ratio outside (0,1) takes 0.5.
func NewBadgerGC(store valueLogGC, discardRatio float64) *BadgerGC {
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = 0.5
	}
	return &BadgerGC{
		store:        store,
		discardRatio: discardRatio,
	}
}

// Initialize implements the service contract. The store is already open.
func (g *BadgerGC) Initialize(_ context.Context) error {
	return nil
}

// PerformOperation runs GC until no log file can be rewritten. Badger
// rewrites at most one file per call, so looping drains a backlog.
// ErrNoRewrite is the normal "nothing to collect" result, not a failure.
func (g *BadgerGC) PerformOperation(_ context.Context) error {
	rewrites := 0
	for {
		err := g.store.RunValueLogGC(g.discardRatio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			return fmt.Errorf("value log gc: %w", err)
		}
		break
	}
	if rewrites > 0 {
		logging.Debug().Int("rewrites", rewrites).Msg("Badger value log GC reclaimed space")
	}
	return nil
}

// Stop implements the service contract.
func (g *BadgerGC) Stop() error {
	return nil
}
