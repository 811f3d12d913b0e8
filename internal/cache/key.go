package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"ragcore/internal/types"
)

var foldCase = cases.Fold()

// normalizeQuery case-folds and NFC-normalizes a query string before it
// enters the cache key, so cosmetic differences
// (case, combining-character variants) do not fragment the cache.
func normalizeQuery(query string) string {
	return norm.NFC.String(foldCase.String(query))
}

// RequestContext is the query-shape context folded into a cache entry's
// key and compared by the drift detector (§4.7).
type RequestContext struct {
	Intent         string
	Domain         float64
	ComplexityTier float64 // floor(complexity*10)/10
}

// ComplexityTier buckets a raw complexity score into the tenths-bucket
// used by the cache key and drift comparisons.
func ComplexityTier(complexity float64) float64 {
	return math.Floor(complexity*10) / 10
}

type keyPayload struct {
	QueryNormalized string        `json:"query_normalized"`
	BotID           string        `json:"bot_id"`
	UserID          string        `json:"user_id"`
	Depth           int           `json:"depth"`
	Context         keyPayloadCtx `json:"context"`
}

type keyPayloadCtx struct {
	Intent         string  `json:"intent"`
	Domain         float64 `json:"domain"`
	ComplexityTier float64 `json:"complexity_tier"`
}

// BuildKey computes the §4.7 cache key:
// hybrid_cache:{bot_id}:{sha256(json({...}))[:16]}.
func BuildKey(botID, userID types.ID, query string, depth int, rc RequestContext) string {
	if depth > 5 {
		depth = 5
	}
	payload := keyPayload{
		QueryNormalized: normalizeQuery(query),
		BotID:           botID.String(),
		UserID:          userID.String(),
		Depth:           depth,
		Context: keyPayloadCtx{
			Intent:         rc.Intent,
			Domain:         rc.Domain,
			ComplexityTier: rc.ComplexityTier,
		},
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("hybrid_cache:%s:%s", botID.String(), hex.EncodeToString(sum[:])[:16])
}

// TTLInputs carries the signals §4.7's adaptive TTL formula needs.
type TTLInputs struct {
	TemporalRelevance float64
	Confidence        float64
	ContentType       string // "factual", "conversational", "analytical", "creative", or ""
}

const (
	baseTTL = 3600
	minTTL  = 300
	maxTTL  = 86400
)

var contentTypeTTLMultiplier = map[string]float64{
	"factual":        2.0,
	"conversational": 0.3,
	"analytical":     1.0,
	"creative":       0.5,
}

// AdaptiveTTL computes §4.7's adaptive TTL: base 3600s scaled by temporal
// relevance, confidence, and content-type multipliers, clamped to
// [300s, 86400s].
func AdaptiveTTL(in TTLInputs) int {
	ttl := float64(baseTTL)

	switch {
	case in.TemporalRelevance > 0.7:
		ttl *= 0.25
	case in.TemporalRelevance > 0.4:
		ttl *= 0.5
	}

	switch {
	case in.Confidence > 0.9:
		ttl *= 1.5
	case in.Confidence < 0.5:
		ttl *= 0.5
	}

	if m, ok := contentTypeTTLMultiplier[in.ContentType]; ok {
		ttl *= m
	}

	if ttl < minTTL {
		ttl = minTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return int(ttl)
}
