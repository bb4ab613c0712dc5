// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package intervalcache is a short-TTL read-through cache in front of the
// persisted per-service configuration. Scheduler ticks read their interval
// through it every cycle, so operators can retune a running service without
// a redeploy while the store sees at most one read per service per TTL.
//
// Store reads are guarded by a sony/gobreaker circuit breaker: during a
// persistence outage the cache serves the last known value (or the caller's
// default) instead of hammering the store, and the scheduler never stops.
package intervalcache

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/BranchManager69/warden/internal/logging"
	"github.com/BranchManager69/warden/internal/metrics"
	"github.com/BranchManager69/warden/internal/store"
)

// ErrServiceDisabled signals that the service is administratively disabled:
// present but idle, distinct from stopped. The scheduler must not run ticks
// while this is returned.
var ErrServiceDisabled = errors.New("service disabled in configuration")

// DefaultTTL is the cache entry lifetime when none is configured.
const DefaultTTL = 15 * time.Second

// cacheSize bounds the LRU; far above any realistic service count.
const cacheSize = 1024

// ConfigReader is the slice of the store the cache needs.
type ConfigReader interface {
	GetServiceConfig(ctx context.Context, name string) (*store.ConfigRecord, error)
}

// entry is one cached interval lookup. Expired entries are kept in the LRU
// so they can serve as stale fallbacks during store outages.
type entry struct {
	interval time.Duration
	enabled  bool
	cachedAt time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the interval config cache. Safe for concurrent use.
type Cache struct {
	reader  ConfigReader
	ttl     time.Duration
	entries *lru.Cache[string, entry]
	guard   *gobreaker.CircuitBreaker[*store.ConfigRecord]
	now     func() time.Time
}

// New creates a cache over the given config reader.
func New(reader ConfigReader, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entries, err := lru.New[string, entry](cacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}

	guard := gobreaker.NewCircuitBreaker[*store.ConfigRecord](gobreaker.Settings{
		Name:        "config-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Config store guard state transition")
		},
		IsSuccessful: func(err error) bool {
			// A missing record is an answer, not a store failure.
			return err == nil || errors.Is(err, store.ErrNotFound)
		},
	})

	c := &Cache{
		reader:  reader,
		ttl:     ttl,
		entries: entries,
		guard:   guard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the current poll interval for a service, reading through
// to the store when the cached value is missing or older than the TTL.
//
// The only error ever returned is ErrServiceDisabled. Store failures degrade
// to the last cached value if any, else defaultInterval: a persistence
// outage freezes intervals, it never stops a scheduler.
func (c *Cache) Interval(ctx context.Context, name string, defaultInterval time.Duration, forceRefresh bool) (time.Duration, error) {
	if !forceRefresh {
		if e, ok := c.entries.Get(name); ok && c.now().Sub(e.cachedAt) < c.ttl {
			metrics.IntervalCacheHits.Inc()
			return e.result()
		}
	}
	metrics.IntervalCacheMisses.Inc()

	rec, err := c.guard.Execute(func() (*store.ConfigRecord, error) {
		return c.reader.GetServiceConfig(ctx, name)
	})
	switch {
	case err == nil:
		e := entry{
			interval: time.Duration(rec.CheckIntervalMs) * time.Millisecond,
			enabled:  rec.Enabled,
			cachedAt: c.now(),
		}
		c.entries.Add(name, e)
		return e.result()

	case errors.Is(err, store.ErrNotFound):
		// Never persisted: run at the caller's default and cache that
		// answer so the store is not re-read every tick.
		e := entry{interval: defaultInterval, enabled: true, cachedAt: c.now()}
		c.entries.Add(name, e)
		return e.result()

	default:
		metrics.IntervalCacheFallbacks.Inc()
		logging.Warn().Err(err).Str("service", name).Msg("Config store read failed, serving cached interval")
		if e, ok := c.entries.Get(name); ok {
			return e.result()
		}
		return defaultInterval, nil
	}
}

// result maps an entry to the Interval return contract.
func (e entry) result() (time.Duration, error) {
	if !e.enabled {
		return 0, ErrServiceDisabled
	}
	return e.interval, nil
}

// Invalidate evicts one service's entry. Called after a config update so
// the change takes effect within one scheduling cycle.
func (c *Cache) Invalidate(name string) {
	c.entries.Remove(name)
}

// InvalidateAll evicts every entry.
func (c *Cache) InvalidateAll() {
	c.entries.Purge()
}
