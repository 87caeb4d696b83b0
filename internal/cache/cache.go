// Package cache is a small in-process TTL cache for whole responses.
package cache

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long an entry stays fresh when no TTL is given.
const DefaultTTL = time.Minute

type entry[V any] struct {
	value       V
	generatedAt time.Time
}

// TTL holds values keyed by string. An entry is fresh while less than the
// TTL has elapsed since its generation time.
//
// Readers load an immutable snapshot without locking. Writers copy the
// snapshot, apply their change and swap it in, so a stored entry is only
// ever replaced, never modified. Get returns the stored value as is, so
// values holding slices or maps must be treated as read-only by callers.
type TTL[V any] struct {
	ttl time.Duration
	now func() time.Time

	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]entry[V]]
}

func New[V any](ttl time.Duration) *TTL[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TTL[V]{ttl: ttl, now: time.Now}
	c.snapshot.Store(&map[string]entry[V]{})
	return c
}

// WithClock replaces the time source. Intended for tests.
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.now = now
	return c
}

// Get returns the value under key if it is still fresh.
func (c *TTL[V]) Get(key string) (V, bool) {
	e, ok := (*c.snapshot.Load())[key]
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, generated at generatedAt. Expired entries
// are dropped on the way.
func (c *TTL[V]) Put(key string, value V, generatedAt time.Time) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now()
	next := maps.Clone(*c.snapshot.Load())
	maps.DeleteFunc(next, func(_ string, e entry[V]) bool { return c.expired(e, now) })
	next[key] = entry[V]{value: value, generatedAt: generatedAt}
	c.snapshot.Store(&next)
}

func (c *TTL[V]) Len() int {
	return len(*c.snapshot.Load())
}

func (c *TTL[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.generatedAt) >= c.ttl
}
