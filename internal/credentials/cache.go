package credentials

import (
	"sync"
	"time"

	"ragcore/internal/types"
)

// validationCache is a concurrency-safe provider:key-hash -> validity
// cache (§3 APIKeyValidationCacheEntry, §4.1 validation cache, invariant
// D7/I8). Expired entries are swept opportunistically on write.
type validationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*types.APIKeyValidationCacheEntry
	valid   map[string]bool
}

func newValidationCache(ttl time.Duration) *validationCache {
	return &validationCache{
		ttl:     ttl,
		entries: make(map[string]*types.APIKeyValidationCacheEntry),
		valid:   make(map[string]bool),
	}
}

// get returns the cached validity for key, and whether a live (unexpired)
// entry exists.
func (c *validationCache) get(key string, now time.Time) (valid bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.entries[key]
	if !exists || entry.Expired(now, c.ttl) {
		return false, false
	}
	return c.valid[key], true
}

// set records a validation outcome and opportunistically evicts expired
// entries.
func (c *validationCache) set(key, provider string, valid bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &types.APIKeyValidationCacheEntry{Provider: provider, Valid: valid, CachedAt: now}
	c.valid[key] = valid

	for k, e := range c.entries {
		if e.Expired(now, c.ttl) {
			delete(c.entries, k)
			delete(c.valid, k)
		}
	}
}
