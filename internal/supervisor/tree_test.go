// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// tickService counts Serve invocations and blocks until canceled.
type tickService struct {
	serves atomic.Int64
}

func (s *tickService) Serve(ctx context.Context) error {
	s.serves.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestTree(t *testing.T) {
	t.Run("defaults applied for zero config", func(t *testing.T) {
		tree := NewTree(slog.Default(), TreeConfig{})
		if tree.config.FailureThreshold != 5.0 {
			t.Errorf("Expected threshold 5.0, got %f", tree.config.FailureThreshold)
		}
		if tree.config.ShutdownTimeout != 10*time.Second {
			t.Errorf("Expected 10s shutdown timeout, got %v", tree.config.ShutdownTimeout)
		}
	})

	t.Run("worker services run and stop with the tree", func(t *testing.T) {
		tree := NewTree(slog.Default(), DefaultTreeConfig())
		worker := &tickService{}
		apiSvc := &tickService{}
		tree.AddWorker(worker)
		tree.AddAPIService(apiSvc)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := tree.ServeBackground(ctx)

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if worker.serves.Load() > 0 && apiSvc.serves.Load() > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if worker.serves.Load() == 0 || apiSvc.serves.Load() == 0 {
			t.Fatal("Expected both layers to start their services")
		}

		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Fatal("Tree did not stop after cancel")
		}
	})

	t.Run("workers accessor exposes layer supervisor", func(t *testing.T) {
		tree := NewTree(slog.Default(), DefaultTreeConfig())
		if tree.Workers() == nil {
			t.Fatal("Expected workers supervisor")
		}
	})
}
