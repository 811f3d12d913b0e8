// Package cache implements the context-aware cache (C7): a local LRU
// tier in front of an optional distributed KV tier, adaptive TTL,
// context-drift invalidation, and memory-pressure eviction (§4.7).
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/types"
)

// InvalidationReason is why a cache entry was invalidated (§4.7).
type InvalidationReason string

const (
	ReasonTTLExpired      InvalidationReason = "TTL_EXPIRED"
	ReasonDocumentUpdated InvalidationReason = "DOCUMENT_UPDATED"
	ReasonBotConfigChanged InvalidationReason = "BOT_CONFIG_CHANGED"
	ReasonContextDrift    InvalidationReason = "CONTEXT_DRIFT"
	ReasonManualFlush     InvalidationReason = "MANUAL_FLUSH"
	ReasonLowHitRate      InvalidationReason = "LOW_HIT_RATE"
	ReasonMemoryPressure  InvalidationReason = "MEMORY_PRESSURE"
)

// Strategy tunes how conservatively the cache serves and retains entries
// (§4.7 "strategy self-tuning").
type Strategy string

const (
	StrategyBalanced     Strategy = "BALANCED"
	StrategyConservative Strategy = "CONSERVATIVE"
	StrategyAggressive   Strategy = "AGGRESSIVE"
	StrategyAdaptive     Strategy = "ADAPTIVE"
)

const (
	defaultMaxEntries     = 1000
	defaultMaxMemoryBytes = 512 * 1024 * 1024
	driftThreshold        = 0.3
)

type localEntry struct {
	key   string
	entry *types.CacheEntry
}

// Cache implements the two-tier context-aware cache.
type Cache struct {
	mu             sync.Mutex
	order          *list.List // front = most recently used
	index          map[string]*list.Element
	maxEntries     int
	maxMemoryBytes int64

	kv  ports.KVStore
	log logging.Logger

	drift map[string]*driftHistory

	hits, misses         int64
	invalidationCounts   map[InvalidationReason]int64
	strategy             Strategy
	ttlFactor            float64 // multiplies baseTTL; tuned down under drift pressure
	driftInvalidatedSinceWindow int64
	windowStart          time.Time
}

// Config configures a Cache.
type Config struct {
	MaxEntries     int
	MaxMemoryBytes int64
}

// NewCache constructs a two-tier Cache. kv may be nil, in which case the
// cache runs local-only.
func NewCache(cfg Config, kv ports.KVStore, log logging.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxMemoryBytes <= 0 {
		cfg.MaxMemoryBytes = defaultMaxMemoryBytes
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Cache{
		order:              list.New(),
		index:              make(map[string]*list.Element),
		maxEntries:         cfg.MaxEntries,
		maxMemoryBytes:     cfg.MaxMemoryBytes,
		kv:                 kv,
		log:                log,
		drift:              make(map[string]*driftHistory),
		invalidationCounts: make(map[InvalidationReason]int64),
		strategy:           StrategyBalanced,
		ttlFactor:          1.0,
		windowStart:        time.Now(),
	}
}

// Get looks up key, validating TTL, context drift, and (under the
// ADAPTIVE strategy) sustained low hit-rate before serving it (§4.7 "read
// validation"). A rejection is a full invalidation with reason.
func (c *Cache) Get(ctx context.Context, key string, current RequestContext) (*types.CacheEntry, bool, InvalidationReason) {
	now := time.Now()

	c.mu.Lock()
	el, ok := c.index[key]
	c.mu.Unlock()

	var entry *types.CacheEntry
	if ok {
		entry = el.Value.(*localEntry).entry
	} else if c.kv != nil {
		raw, found, err := c.kv.Get(ctx, key)
		if err != nil {
			c.log.Warn("cache: kv get failed", "key", key, "error", err.Error())
		}
		if found {
			var e types.CacheEntry
			if err := json.Unmarshal(raw, &e); err == nil {
				entry = &e
				c.promoteLocal(key, &e)
			}
		}
	}

	if entry == nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, ""
	}

	if entry.Expired(now) {
		c.invalidateKey(ctx, key, ReasonTTLExpired)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, ReasonTTLExpired
	}

	c.mu.Lock()
	dh, hasDrift := c.drift[key]
	c.mu.Unlock()
	if hasDrift {
		if score := dh.score(current); score > driftThreshold {
			c.invalidateKey(ctx, key, ReasonContextDrift)
			atomic.AddInt64(&c.misses, 1)
			return nil, false, ReasonContextDrift
		}
	}

	c.mu.Lock()
	strategy := c.strategy
	c.mu.Unlock()
	if strategy == StrategyAdaptive {
		age := now.Sub(entry.CreatedAt).Seconds()
		if age > 0 {
			hitRatePerSecond := float64(entry.AccessCount) / age
			if hitRatePerSecond < 0.001 && entry.AccessCount > 5 {
				c.invalidateKey(ctx, key, ReasonLowHitRate)
				atomic.AddInt64(&c.misses, 1)
				return nil, false, ReasonLowHitRate
			}
		}
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
	}
	if dh, ok := c.drift[key]; ok {
		dh.push(current)
	} else {
		dh := &driftHistory{}
		dh.push(current)
		c.drift[key] = dh
	}
	c.mu.Unlock()

	atomic.AddInt64(&c.hits, 1)
	return entry, true, ""
}

// Set stores entry in both tiers, evicting the local LRU tail if the
// local tier is full.
func (c *Cache) Set(ctx context.Context, entry *types.CacheEntry) error {
	c.mu.Lock()
	if el, ok := c.index[entry.CacheKey]; ok {
		c.order.MoveToFront(el)
		el.Value.(*localEntry).entry = entry
	} else {
		el := c.order.PushFront(&localEntry{key: entry.CacheKey, entry: entry})
		c.index[entry.CacheKey] = el
		c.evictOldestLocked()
	}
	c.mu.Unlock()

	if c.kv != nil {
		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.kv.Set(ctx, entry.CacheKey, b, entry.TTL); err != nil {
			c.log.Warn("cache: kv set failed", "key", entry.CacheKey, "error", err.Error())
		}
	}
	return nil
}

// evictOldestLocked evicts the LRU tail when the local tier exceeds
// maxEntries. Caller must hold c.mu.
func (c *Cache) evictOldestLocked() {
	for c.order.Len() > c.maxEntries {
		tail := c.order.Back()
		if tail == nil {
			return
		}
		le := tail.Value.(*localEntry)
		c.order.Remove(tail)
		delete(c.index, le.key)
		delete(c.drift, le.key)
	}
}

func (c *Cache) promoteLocal(key string, entry *types.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*localEntry).entry = entry
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&localEntry{key: key, entry: entry})
	c.index[key] = el
	c.evictOldestLocked()
}

func (c *Cache) invalidateKey(ctx context.Context, key string, reason InvalidationReason) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
	delete(c.drift, key)
	c.invalidationCounts[reason]++
	if reason == ReasonContextDrift {
		c.driftInvalidatedSinceWindow++
	}
	c.mu.Unlock()

	if c.kv != nil {
		if err := c.kv.Delete(ctx, key); err != nil {
			c.log.Warn("cache: kv delete failed", "key", key, "error", err.Error())
		}
	}
}

// InvalidateBot scans both tiers for the hybrid_cache:{bot_id}:* prefix
// and removes every matching entry (§4.7).
func (c *Cache) InvalidateBot(ctx context.Context, botID types.ID, reason InvalidationReason) (int, error) {
	prefix := "hybrid_cache:" + botID.String() + ":"
	count := 0

	c.mu.Lock()
	var keys []string
	for k := range c.index {
		if hasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.invalidateKey(ctx, k, reason)
		count++
	}

	if c.kv != nil {
		kvKeys, err := c.kv.ScanPrefix(ctx, prefix)
		if err != nil {
			return count, err
		}
		for _, k := range kvKeys {
			c.invalidateKey(ctx, k, reason)
			count++
		}
	}
	return count, nil
}

// InvalidateDocument degrades to bot-wide invalidation: the cache does
// not track chunk-to-document provenance (§9 open question), so a
// document update invalidates every cached answer for the bot.
func (c *Cache) InvalidateDocument(ctx context.Context, botID, documentID types.ID) (int, error) {
	return c.InvalidateBot(ctx, botID, ReasonDocumentUpdated)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ShouldCacheInputs carries the don't-cache signals of §4.7.
type ShouldCacheInputs struct {
	Confidence        float64
	Intent            string
	ConversationDepth int
	NoCache           bool
	TemporalRelevance float64
}

// ShouldCache applies §4.7's don't-cache rules for the cache's current
// strategy.
func (c *Cache) ShouldCache(in ShouldCacheInputs) bool {
	if in.NoCache {
		return false
	}
	if in.Confidence < 0.3 {
		return false
	}
	if in.Intent == "conversational" && in.ConversationDepth < 2 {
		return false
	}

	c.mu.Lock()
	strategy := c.strategy
	c.mu.Unlock()
	if strategy == StrategyConservative {
		if in.Confidence < 0.7 || in.TemporalRelevance > 0.5 {
			return false
		}
	}
	return true
}

// Stats summarizes cache performance for status reporting and
// self-tuning.
type Stats struct {
	Hits, Misses       int64
	HitRate            float64
	Entries            int
	Strategy           Strategy
	InvalidationCounts map[InvalidationReason]int64
}

func (c *Cache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[InvalidationReason]int64, len(c.invalidationCounts))
	for k, v := range c.invalidationCounts {
		counts[k] = v
	}
	return Stats{
		Hits:               hits,
		Misses:             misses,
		HitRate:            rate,
		Entries:            c.order.Len(),
		Strategy:           c.strategy,
		InvalidationCounts: counts,
	}
}

// Retune applies §4.7's strategy self-tuning rules: low hit rate
// switches to CONSERVATIVE, high hit rate to AGGRESSIVE; heavy
// context-drift invalidation in the current window shrinks the base TTL
// multiplier by 0.8, floored so the tuned base TTL never drops below 600s.
func (c *Cache) Retune() {
	stats := c.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case stats.HitRate < 0.3:
		c.strategy = StrategyConservative
	case stats.HitRate > 0.7:
		c.strategy = StrategyAggressive
	}

	if c.driftInvalidatedSinceWindow > 50 {
		c.ttlFactor *= 0.8
		if c.ttlFactor < 600.0/float64(baseTTL) {
			c.ttlFactor = 600.0 / float64(baseTTL)
		}
	}
	c.driftInvalidatedSinceWindow = 0
	c.windowStart = time.Now()
}

// TTLFactor returns the current tuned multiplier Retune has settled on,
// to be applied on top of AdaptiveTTL's own result.
func (c *Cache) TTLFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttlFactor
}

// SetStrategy overrides the cache's current strategy directly (used by
// tests and by an operator override above Retune's automatic tuning).
func (c *Cache) SetStrategy(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy = s
}

// StartEvictionLoop launches the periodic memory-pressure eviction task
// of §4.7, stopping when ctx is cancelled.
func (c *Cache) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.EvictByMemoryPressure(ctx)
			}
		}
	}()
}

// EvictByMemoryPressure computes the local tier's total serialized size
// and, if it exceeds maxMemoryBytes, evicts the bottom 20% ranked by
// access_count/age (§4.7).
func (c *Cache) EvictByMemoryPressure(ctx context.Context) {
	type scored = struct {
		key   string
		score float64
	}

	c.mu.Lock()
	var total int64
	entries := make([]scored, 0, len(c.index))
	now := time.Now()
	for key, el := range c.index {
		e := el.Value.(*localEntry).entry
		b, _ := json.Marshal(e)
		total += int64(len(b))
		age := now.Sub(e.CreatedAt).Seconds()
		if age < 1 {
			age = 1
		}
		entries = append(entries, scored{key: key, score: float64(e.AccessCount) / age})
	}
	c.mu.Unlock()

	if total <= c.maxMemoryBytes {
		return
	}

	sortScoredAscending(entries)
	evictCount := len(entries) / 5
	for i := 0; i < evictCount; i++ {
		c.invalidateKey(ctx, entries[i].key, ReasonMemoryPressure)
	}
}

func sortScoredAscending(s []struct {
	key   string
	score float64
}) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].score > s[j].score; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
