// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
)

// Recorder stamps and persists audit events. A nil *Recorder is a no-op,
// so callers don't have to branch when auditing is disabled.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record assigns the event an ID and timestamp (when unset) and persists
// it. Persistence failures are returned to the caller but the action that
// triggered the event is never rolled back over an audit write.
func (r *Recorder) Record(ctx context.Context, event *Event) error {
	if r == nil || r.store == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}

	if err := r.store.Save(ctx, event); err != nil {
		metrics.AuditEventsRecorded.WithLabelValues(string(event.Action), "error").Inc()
		logging.Error().Err(err).
			Str("action", string(event.Action)).
			Str("service", event.Service).
			Msg("Failed to persist audit event")
		return fmt.Errorf("record audit event: %w", err)
	}

	metrics.AuditEventsRecorded.WithLabelValues(string(event.Action), string(event.Outcome)).Inc()
	return nil
}

// ConfigChange builds a config.update event with before/after snapshots.
// Marshal failures degrade to omitting the snapshot, never to losing the
// event itself.
func ConfigChange(actor, service string, before, after interface{}) *Event {
	return &Event{
		Action:      ActionConfigUpdate,
		Actor:       actor,
		Service:     service,
		Before:      marshalSnapshot(service, "before", before),
		After:       marshalSnapshot(service, "after", after),
		Description: fmt.Sprintf("configuration updated for %s", service),
	}
}

// BreakerReset builds a circuit_breaker.reset event.
func BreakerReset(actor, service, reason string, before, after interface{}) *Event {
	return &Event{
		Action:      ActionBreakerReset,
		Actor:       actor,
		Service:     service,
		Reason:      reason,
		Before:      marshalSnapshot(service, "before", before),
		After:       marshalSnapshot(service, "after", after),
		Description: fmt.Sprintf("circuit breaker reset for %s", service),
	}
}

func marshalSnapshot(service, which string, v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.Warn().Err(err).Str("service", service).Str("snapshot", which).Msg("Failed to marshal audit snapshot")
		return nil
	}
	return data
}
