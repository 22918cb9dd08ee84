// Package cache provides an in-memory key/value store with per-entry TTL and
// prefix-based bulk invalidation. Reads past an entry's expiry behave exactly
// like a miss and delete the entry lazily; a periodic sweep reclaims entries
// that are never read again. Suitable for single-instance deployments only.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/riskregister/gatekit/clock"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL key/value store. Safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	clk        clock.Clock
	sweeper    *clock.Sweeper
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		c.clk = clk
	}
}

// New creates a Cache. Entries stored without an explicit TTL expire after
// defaultTTL. A background sweep runs every sweepInterval; pass 0 to disable
// it (tests call SweepExpired directly).
func New(defaultTTL, sweepInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		clk:        clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sweeper = clock.NewSweeper(sweepInterval, func() { c.SweepExpired() })
	return c
}

// Get returns the value for key, or false if the key is absent or expired.
// An expired entry is deleted on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !c.clk.Now().Before(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a concurrent Set may have replaced it.
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl <= 0 uses the cache's default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	exp := c.clk.Now().Add(ttl)

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: exp}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns how many were removed. Write paths use this to drop all cached
// list views of a resource collection, however they were parameterized.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// SweepExpired removes every expired entry and returns how many were removed.
// Backstop for entries that are never read after expiring.
func (c *Cache) SweepExpired() int {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently stored, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.sweeper.Stop()
}
