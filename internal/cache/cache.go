// SPDX-License-Identifier: MIT

// Package cache backs the explorer's snapshot cache: short-TTL entries
// keyed by index epoch, source track, resolution, and filter hash. The
// in-process backend stores live values; the Redis backend stores JSON and
// hands raw bytes back to the caller to decode.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a TTL key-value store. Implementations are safe for concurrent
// use by every session at once.
type Cache interface {
	// Get returns the stored value. A process-local backend returns the
	// value as stored; a serializing backend returns []byte.
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats are cumulative counters since process start.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	value    any
	deadline time.Time
}

func (e *entry) expired(now time.Time) bool { return now.After(e.deadline) }

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache returns the process-local backend. With a positive
// cleanupInterval a background sweep evicts expired entries; expired
// entries are invisible to Get either way.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.sweepLoop(cleanupInterval)
	}
	return c
}

func (c *memoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.expired(time.Now()) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{value: value, deadline: time.Now().Add(ttl)}
	c.mu.Unlock()
	c.sets.Add(1)
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// Stop ends the background sweep. Idempotent.
func (c *memoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *memoryCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *memoryCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	var evicted int64
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()
	c.evictions.Add(evicted)
}

type noOpCache struct{}

// NewNoOpCache returns a backend that never stores anything. Used when
// caching is disabled and as the explorer's nil-cache fallback.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (noOpCache) Get(string) (any, bool)         { return nil, false }
func (noOpCache) Set(string, any, time.Duration) {}
func (noOpCache) Delete(string)                  {}
func (noOpCache) Clear()                         {}
func (noOpCache) Stats() Stats                   { return Stats{} }
