// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package main is the entry point for the Warden daemon.
//
// Warden supervises a registry of background services: each gets a
// circuit-breaker-gated scheduler, a live-tunable poll interval, persisted
// breaker state, and a status row on the admin API. The daemon ships three
// built-in services that use the same contract as operator workers:
// badger-gc, audit-retention, and stats-flush.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, YAML file, WARDEN_ env)
//  2. Logging (zerolog)
//  3. State store (BadgerDB) and audit trail (DuckDB)
//  4. Supervision tree (suture) and service registry
//  5. Built-in service registration and dependency-ordered start
//  6. Admin HTTP server
//
// Shutdown on SIGINT/SIGTERM stops services in reverse dependency order
// with a bounded per-service grace, then tears down the tree and stores.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/BranchManager69/warden/internal/api"
	"github.com/BranchManager69/warden/internal/audit"
	"github.com/BranchManager69/warden/internal/breaker"
	"github.com/BranchManager69/warden/internal/config"
	"github.com/BranchManager69/warden/internal/intervalcache"
	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/registry"
	"github.com/BranchManager69/warden/internal/store"
	"github.com/BranchManager69/warden/internal/supervisor"
	"github.com/BranchManager69/warden/internal/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("state_dir", cfg.Database.StateDir).
		Str("audit_path", cfg.Database.AuditPath).
		Msg("Warden starting")

	stateStore, err := store.Open(cfg.Database.StateDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer stateStore.Close()

	auditDB, err := sql.Open("duckdb", cfg.Database.AuditPath)
	if err != nil {
		return fmt.Errorf("open audit database: %w", err)
	}
	defer auditDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditStore := audit.NewDuckDBStore(auditDB)
	if err := auditStore.CreateTable(ctx); err != nil {
		return fmt.Errorf("initialize audit trail: %w", err)
	}
	recorder := audit.NewRecorder(auditStore)

	intervals := intervalcache.New(stateStore, cfg.Registry.CacheTTL)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Registry.StopTimeout,
	})

	reg := registry.New(registry.Options{
		Store:            stateStore,
		Intervals:        intervals,
		Audit:            recorder,
		Supervisor:       tree.Workers(),
		StopTimeout:      cfg.Registry.StopTimeout,
		MinCheckInterval: cfg.Registry.MinCheckInterval,
	})

	if err := registerBuiltins(reg, cfg, stateStore, auditStore); err != nil {
		return fmt.Errorf("register built-in services: %w", err)
	}

	handler := api.NewRouter(
		api.NewHandlers(reg, auditStore),
		api.RouterConfig{
			RateLimitReqs:   cfg.Server.RateLimitReqs,
			RateLimitWindow: cfg.Server.RateLimitWindow,
		},
	)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	treeErr := tree.ServeBackground(ctx)

	if err := reg.StartAll(ctx); err != nil {
		// Branch failures are isolated; the daemon keeps running so the
		// admin API can report them. A dependency cycle is fatal.
		var cycle *registry.CyclicDependencyError
		if errors.As(err, &cycle) {
			return err
		}
		logging.Err(err).Msg("Some services failed to initialize")
	}

	logging.Info().
		Str("addr", httpServer.Addr).
		Msg("Warden running")

	<-ctx.Done()
	logging.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reg.StopAll(shutdownCtx)

	if err := <-treeErr; err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervision tree: %w", err)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop cleanly")
		}
	}

	logging.Info().Msg("Warden stopped")
	return nil
}

// registerBuiltins registers the daemon's own maintenance services. They
// run under the same contract as operator workers: breaker-gated, live
// tunable, visible on the status API.
func registerBuiltins(reg *registry.Registry, cfg *config.Config, stateStore *store.Store, auditStore *audit.DuckDBStore) error {
	builtins := []struct {
		desc registry.Descriptor
		svc  registry.Service
	}{
		{
			desc: registry.Descriptor{
				Name: "badger-gc",
				Config: registry.ServiceConfig{
					CheckInterval: cfg.Database.GCInterval,
					Enabled:       true,
					Breaker:       breaker.Config{FailureThreshold: 5},
				},
			},
			svc: workers.NewBadgerGC(stateStore, cfg.Database.GCDiscardRatio),
		},
		{
			desc: registry.Descriptor{
				Name: "audit-retention",
				Config: registry.ServiceConfig{
					CheckInterval: cfg.Audit.SweepInterval,
					Enabled:       true,
					Breaker:       breaker.Config{FailureThreshold: 5},
				},
			},
			svc: workers.NewAuditRetention(auditStore, cfg.Audit.Retention),
		},
		{
			desc: registry.Descriptor{
				Name: "stats-flush",
				Config: registry.ServiceConfig{
					CheckInterval: cfg.Registry.StatsFlushInterval,
					Enabled:       true,
					Breaker:       breaker.Config{FailureThreshold: 10},
				},
			},
			svc: workers.NewStatsFlush(reg),
		},
	}

	for _, b := range builtins {
		if err := reg.Register(b.desc, b.svc); err != nil {
			return err
		}
	}
	return nil
}
