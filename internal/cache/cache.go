// Package cache provides an in-memory TTL cache with ETag support, used by
// the admin API to avoid re-reading stored results on every request.
package cache

import (
	"crypto/md5"
	"fmt"
	"sync"
	"time"
)

// TTLResult bounds staleness of cached result reads between runs; the run
// loop also invalidates explicitly after rewriting an entity's results.
const TTLResult = 5 * time.Minute

const evictEvery = 5 * time.Minute

type entry struct {
	data      []byte
	etag      string
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache. A disabled cache is a valid
// no-op that still computes ETags so conditional requests keep working.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	enabled bool
}

// New creates a cache. Pass enabled=false for a no-op cache.
func New(enabled bool) *Cache {
	c := &Cache{entries: make(map[string]entry), enabled: enabled}
	if enabled {
		go func() {
			ticker := time.NewTicker(evictEvery)
			defer ticker.Stop()
			for range ticker.C {
				c.evictExpired()
			}
		}()
	}
	return c
}

// Get returns a live cached value, its ETag, and whether it was found.
// Expired entries read as missing even before the evictor runs.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || time.Now().After(e.expiresAt) {
		return nil, "", false
	}
	return e.data, e.etag, true
}

// Set stores a value with a TTL and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if !c.enabled {
		return etag
	}
	c.mu.Lock()
	c.entries[key] = entry{data: data, etag: etag, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return etag
}

// Invalidate drops one key, used after a run rewrites an entity's results.
func (c *Cache) Invalidate(key string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats returns cache statistics for the health endpoint.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := time.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return map[string]interface{}{
		"enabled":      c.enabled,
		"total_keys":   len(c.entries),
		"active_keys":  active,
		"expired_keys": len(c.entries) - active,
	}
}

func (c *Cache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// ComputeETag generates a weak ETag from response data using MD5.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}

// CheckETagMatch checks whether an If-None-Match header matches the ETag.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	return ifNoneMatch == etag
}
