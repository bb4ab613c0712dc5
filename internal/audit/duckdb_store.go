// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/BranchManager69/warden/internal/logging"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a new DuckDB-backed audit store. Callers should
// run CreateTable once during initialization.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			actor TEXT NOT NULL,
			service TEXT NOT NULL,
			before_state JSON,
			after_state JSON,
			reason TEXT,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_service ON audit_events(service);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute audit schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit events table created/verified")
	return nil
}

// Save persists an audit event.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO audit_events
			(id, timestamp, action, outcome, actor, service, before_state, after_state, reason, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Action),
		string(event.Outcome),
		event.Actor,
		event.Service,
		rawOrNil(event.Before),
		rawOrNil(event.After),
		nullableString(event.Reason),
		nullableString(event.Description),
	)
	if err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// Query retrieves events matching the filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	where, args := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, timestamp, action, outcome, actor, service,
		       before_state, after_state, reason, description
		FROM audit_events
		%s
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev                  Event
			action, outcome     string
			before, after       sql.NullString
			reason, description sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &action, &outcome, &ev.Actor, &ev.Service,
			&before, &after, &reason, &description); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Action = Action(action)
		ev.Outcome = Outcome(outcome)
		if before.Valid {
			ev.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			ev.After = json.RawMessage(after.String)
		}
		ev.Reason = reason.String
		ev.Description = description.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	where, args := buildWhere(filter)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes events older than the cutoff.
func (s *DuckDBStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// buildWhere renders the filter as a WHERE clause with positional args.
func buildWhere(filter QueryFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conds = append(conds, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Service != "" {
		conds = append(conds, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.StartTime != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
