// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
)

// Key prefixes for BadgerDB storage
const (
	configKeyPrefix = "svccfg:"
	stateKeyPrefix  = "cbstate:"
	statsKeyPrefix  = "svcstats:"
)

// ErrNotFound is returned when no record exists for a service name.
var ErrNotFound = errors.New("store: record not found")

// Store is a BadgerDB-backed store for service configuration, circuit
// breaker state, and stats snapshots.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the given directory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open BadgerDB. The caller retains ownership of db.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC runs one round of value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Store) RunValueLogGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// SaveServiceConfig persists a configuration record, stamping UpdatedAt
// server-side (last-write-wins).
func (s *Store) SaveServiceConfig(ctx context.Context, rec *ConfigRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.put(ctx, "save_config", configKeyPrefix+rec.ServiceName, rec)
}

// GetServiceConfig retrieves the configuration record for a service.
// Returns ErrNotFound when the service has no persisted configuration.
func (s *Store) GetServiceConfig(ctx context.Context, name string) (*ConfigRecord, error) {
	var rec ConfigRecord
	if err := s.get(ctx, "get_config", configKeyPrefix+name, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListServiceConfigs returns all persisted configuration records.
func (s *Store) ListServiceConfigs(ctx context.Context) ([]ConfigRecord, error) {
	timer := time.Now()
	var out []ConfigRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(configKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec ConfigRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				name := strings.TrimPrefix(string(it.Item().Key()), configKeyPrefix)
				logging.Warn().Err(err).Str("service", name).Msg("Skipping undecodable config record")
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	metrics.StoreOperationDuration.WithLabelValues("list_configs").Observe(time.Since(timer).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_configs").Inc()
		return nil, fmt.Errorf("list service configs: %w", err)
	}
	return out, nil
}

// SaveBreakerState persists circuit breaker runtime state for a service.
func (s *Store) SaveBreakerState(ctx context.Context, rec *BreakerStateRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return s.put(ctx, "save_breaker_state", stateKeyPrefix+rec.ServiceName, rec)
}

// GetBreakerState retrieves persisted circuit breaker state for a service.
// Returns ErrNotFound when no state has been persisted yet.
func (s *Store) GetBreakerState(ctx context.Context, name string) (*BreakerStateRecord, error) {
	var rec BreakerStateRecord
	if err := s.get(ctx, "get_breaker_state", stateKeyPrefix+name, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveStatsSnapshot persists an aggregate stats snapshot for a service.
// The snapshot type is owned by the registry; the store treats it as opaque.
func (s *Store) SaveStatsSnapshot(ctx context.Context, name string, snapshot interface{}) error {
	return s.put(ctx, "save_stats", statsKeyPrefix+name, snapshot)
}

// GetStatsSnapshot loads a previously persisted stats snapshot into out.
func (s *Store) GetStatsSnapshot(ctx context.Context, name string, out interface{}) error {
	return s.get(ctx, "get_stats", statsKeyPrefix+name, out)
}

// put marshals v and writes it under key.
func (s *Store) put(_ context.Context, op, key string, v interface{}) error {
	timer := time.Now()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(timer).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// get reads key and unmarshals it into out.
func (s *Store) get(_ context.Context, op, key string, out interface{}) error {
	timer := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(timer).Seconds())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.StoreErrors.WithLabelValues(op).Inc()
			return fmt.Errorf("read %s: %w", key, err)
		}
		return err
	}
	return nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}
