// Package signature caches thought signatures by tool-call id so thinking
// context survives clients that strip it from the round trip.
package signature

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a cached signature stays usable.
const DefaultTTL = 2 * time.Hour

type entry struct {
	signature string
	cachedAt  time.Time
}

// Cache maps tool_use ids to thought signatures with a TTL. Reads expire
// stale entries lazily; Sweep removes them in bulk.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewCache creates a cache with the given TTL; non-positive values fall
// back to DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
}

// Put stores a signature for a tool-call id. Empty ids and signatures are
// ignored.
func (c *Cache) Put(id, sig string) {
	if id == "" || sig == "" {
		return
	}
	c.mu.Lock()
	c.entries[id] = entry{signature: sig, cachedAt: time.Now()}
	c.mu.Unlock()
}

// Get returns the cached signature for id, expiring the entry when it is
// older than the TTL.
func (c *Cache) Get(id string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Since(e.cachedAt) <= c.ttl {
		return e.signature, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A Put may have refreshed the entry between the two locks.
	cur, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if time.Since(cur.cachedAt) > c.ttl {
		delete(c.entries, id)
		return "", false
	}
	return cur.signature, true
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper launches a background sweep at the given interval until
// Stop is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					log.Debug().Int("removed", n).Msg("Signature cache sweep")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
