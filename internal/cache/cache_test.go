package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/types"
)

func TestCacheSetGetRoundTrip(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	ctx := context.Background()

	botID := types.NewID()
	key := BuildKey(botID, types.NewID(), "what is the rate limit?", 2, RequestContext{Intent: "factual_lookup"})
	entry := &types.CacheEntry{
		CacheKey:  key,
		Content:   "The rate limit is 100 req/min.",
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}
	require.NoError(t, c.Set(ctx, entry))

	got, ok, reason := c.Get(ctx, key, RequestContext{Intent: "factual_lookup"})
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, entry.Content, got.Content)
}

func TestCacheGetMissingKey(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	_, ok, reason := c.Get(context.Background(), "hybrid_cache:nope:0000000000000000", RequestContext{})
	assert.False(t, ok)
	assert.Empty(t, reason)
}

func TestCacheExpiredEntryInvalidatesWithTTLReason(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	ctx := context.Background()

	entry := &types.CacheEntry{
		CacheKey:  "hybrid_cache:bot:expired",
		Content:   "stale",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		TTL:       time.Minute,
	}
	require.NoError(t, c.Set(ctx, entry))

	_, ok, reason := c.Get(ctx, entry.CacheKey, RequestContext{})
	assert.False(t, ok)
	assert.Equal(t, ReasonTTLExpired, reason)
}

func TestCacheContextDriftInvalidates(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	ctx := context.Background()

	entry := &types.CacheEntry{
		CacheKey:  "hybrid_cache:bot:drift",
		Content:   "answer",
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}
	require.NoError(t, c.Set(ctx, entry))

	for i := 0; i < 3; i++ {
		_, ok, _ := c.Get(ctx, entry.CacheKey, RequestContext{Intent: "factual_lookup", Domain: 0.1, ComplexityTier: 0.1})
		require.True(t, ok)
	}

	_, ok, reason := c.Get(ctx, entry.CacheKey, RequestContext{Intent: "creative_generation", Domain: 0.9, ComplexityTier: 0.9})
	assert.False(t, ok)
	assert.Equal(t, ReasonContextDrift, reason)
}

func TestCacheInvalidateBotRemovesAllEntries(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	ctx := context.Background()

	botID := types.NewID()
	for i := 0; i < 3; i++ {
		key := BuildKey(botID, types.NewID(), "query", i, RequestContext{})
		require.NoError(t, c.Set(ctx, &types.CacheEntry{CacheKey: key, CreatedAt: time.Now(), TTL: time.Hour}))
	}

	count, err := c.InvalidateBot(ctx, botID, ReasonManualFlush)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(3), c.Stats().InvalidationCounts[ReasonManualFlush])
}

func TestCacheEvictsLRUWhenFull(t *testing.T) {
	c := NewCache(Config{MaxEntries: 2}, nil, nil)
	ctx := context.Background()

	keys := []string{"hybrid_cache:b:1", "hybrid_cache:b:2", "hybrid_cache:b:3"}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, &types.CacheEntry{CacheKey: k, CreatedAt: time.Now(), TTL: time.Hour}))
	}

	_, ok, _ := c.Get(ctx, keys[0], RequestContext{})
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok, _ = c.Get(ctx, keys[2], RequestContext{})
	assert.True(t, ok)
}

func TestShouldCacheRejectsLowConfidenceAndShallowConversation(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	assert.False(t, c.ShouldCache(ShouldCacheInputs{Confidence: 0.1}))
	assert.False(t, c.ShouldCache(ShouldCacheInputs{Confidence: 0.9, Intent: "conversational", ConversationDepth: 1}))
	assert.True(t, c.ShouldCache(ShouldCacheInputs{Confidence: 0.9, Intent: "factual_lookup"}))
}

func TestRetuneSwitchesStrategyOnHitRate(t *testing.T) {
	c := NewCache(Config{}, nil, nil)
	ctx := context.Background()
	entry := &types.CacheEntry{CacheKey: "hybrid_cache:b:hot", CreatedAt: time.Now(), TTL: time.Hour}
	require.NoError(t, c.Set(ctx, entry))

	for i := 0; i < 10; i++ {
		_, _, _ = c.Get(ctx, entry.CacheKey, RequestContext{})
	}
	c.Retune()
	assert.Equal(t, StrategyAggressive, c.Stats().Strategy)
}

func TestAdaptiveTTLClampsToBounds(t *testing.T) {
	// 3600 * 1.5 (confidence > 0.9) * 2.0 (factual) = 10800, inside the bounds.
	assert.Equal(t, 10800, AdaptiveTTL(TTLInputs{Confidence: 0.95, ContentType: "factual"}))
	assert.Equal(t, minTTL, AdaptiveTTL(TTLInputs{TemporalRelevance: 0.9, Confidence: 0.1, ContentType: "conversational"}))
}
