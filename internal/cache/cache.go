// Package cache provides the short-TTL in-process store backing rate-limit
// counters and metric snapshots. Counter mutation is atomic: read-modify-write
// happens under one lock, never in the caller.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// counter is one windowed counter cell.
type counter struct {
	count          int64
	limited        bool
	limitReachedAt time.Time
}

// Counters is a TTL counter store for one window granularity. Entries expire
// TTL after creation, so a window's counters vanish shortly after the window
// closes.
type Counters struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *counter]
}

// NewCounters creates a counter store whose entries live for ttl. Size bounds
// memory under counter-key churn.
func NewCounters(ttl time.Duration, size int) *Counters {
	if size <= 0 {
		size = 100_000
	}
	return &Counters{
		lru: expirable.NewLRU[string, *counter](size, nil, ttl),
	}
}

// Incr applies the admission counter protocol for one key: when the stored
// count is already at or above limit the counter is NOT incremented; instead
// the cell is marked limited (recording the first limit-reached time) and the
// attempted count (stored+1) is returned with limited=true. Otherwise the
// counter increments and the new count is returned.
func (c *Counters) Incr(key string, limit int64, now time.Time) (count int64, limited bool, limitReachedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cell, ok := c.lru.Get(key)
	if !ok {
		cell = &counter{}
		c.lru.Add(key, cell)
	}
	if limit > 0 && cell.count >= limit {
		if !cell.limited {
			cell.limited = true
			cell.limitReachedAt = now
		}
		return cell.count + 1, true, cell.limitReachedAt
	}
	cell.count++
	return cell.count, false, time.Time{}
}

// Get returns the stored count for key (zero when absent).
func (c *Counters) Get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.lru.Get(key); ok {
		return cell.count
	}
	return 0
}

// Limited reports whether key has tripped its limit.
func (c *Counters) Limited(key string) (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.lru.Get(key); ok {
		return cell.limited, cell.limitReachedAt
	}
	return false, time.Time{}
}

// Purge drops all counters. Used by /system/cache/clear.
func (c *Counters) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Snapshots is a generic TTL key/value cache for metric samples and other
// short-lived values.
type Snapshots[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewSnapshots creates a snapshot cache with the given TTL.
func NewSnapshots[V any](ttl time.Duration, size int) *Snapshots[V] {
	if size <= 0 {
		size = 1024
	}
	return &Snapshots[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Set stores a value.
func (s *Snapshots[V]) Set(key string, v V) { s.lru.Add(key, v) }

// Get returns the value and whether it was present and fresh.
func (s *Snapshots[V]) Get(key string) (V, bool) { return s.lru.Get(key) }

// Purge drops all snapshots.
func (s *Snapshots[V]) Purge() { s.lru.Purge() }

// Store bundles the window-granular counter caches the gateway consumes plus
// a snapshot cache for the host probe.
type Store struct {
	Minute *Counters
	Hour   *Counters
	Day    *Counters
}

// NewStore builds the three windowed counter stores with TTL equal to window
// size plus margin.
func NewStore() *Store {
	return &Store{
		Minute: NewCounters(time.Minute+30*time.Second, 0),
		Hour:   NewCounters(time.Hour+5*time.Minute, 0),
		Day:    NewCounters(24*time.Hour+time.Hour, 0),
	}
}

// Ping reports cache health. The store is in-process, so this only fails when
// the store was never built; it keeps the health-score wiring uniform with the
// database ping.
func (s *Store) Ping() error {
	if s == nil || s.Minute == nil {
		return errNotInitialized
	}
	return nil
}

// Purge clears every counter window.
func (s *Store) Purge() {
	s.Minute.Purge()
	s.Hour.Purge()
	s.Day.Purge()
}

var errNotInitialized = cacheError("cache not initialized")

type cacheError string

func (e cacheError) Error() string { return string(e) }
