// Package retrieval implements the adaptive retrieval engine (C3): it
// wraps vector-store similarity search in the threshold cascade computed
// by C2, logging every attempt and falling back across thresholds until
// results are found or the cascade is exhausted.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"ragcore/internal/errors"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/threshold"
	"ragcore/internal/types"
)

// ThresholdManager is the slice of threshold.Manager the retrieval engine
// depends on.
type ThresholdManager interface {
	RetryThresholds(provider string, initial *float64) []*float64
	LogAttempt(ctx context.Context, l types.ThresholdPerformanceLog) error
	Recommend(ctx context.Context, botID types.ID, provider string) ([]threshold.Recommendation, error)
}

// CollectionStore resolves a bot's current collection descriptor
// (provider, model, dimension, collection name).
type CollectionStore interface {
	GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error)
}

// DocumentCounter reports the corpus size the optimizer needs for its
// "add more documents" hints.
type DocumentCounter interface {
	CountDocuments(ctx context.Context, botID types.ID) (int, error)
}

// Engine implements C3's RetrieveRelevantChunks and OptimizeRetrieval
// operations.
type Engine struct {
	vectors     ports.VectorStore
	thresholds  ThresholdManager
	collections CollectionStore
	docs        DocumentCounter
	log         logging.Logger
}

// NewEngine constructs a retrieval Engine.
func NewEngine(vectors ports.VectorStore, thresholds ThresholdManager, collections CollectionStore, docs DocumentCounter, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Engine{vectors: vectors, thresholds: thresholds, collections: collections, docs: docs, log: log}
}

// Result is the outcome of RetrieveRelevantChunks.
type Result struct {
	Chunks          []types.ScoredChunk
	FallbackUsed    bool
	ThresholdUsed   *float64
	ThresholdsTried []*float64
	Success         bool
}

// RetrieveRelevantChunks implements the §4.3 contract: it computes the
// threshold cascade via C2 (an explicit customThreshold prefixes the
// provider's adaptive fallback list), calls the vector store once per
// threshold in order, and returns the first non-empty result. If every
// threshold yields zero results, it returns an empty-but-successful
// result reporting the full cascade attempted.
func (e *Engine) RetrieveRelevantChunks(ctx context.Context, botID types.ID, queryEmbedding []float32, query string, customThreshold *float64, maxChunks int) (*Result, error) {
	if maxChunks < 1 {
		return nil, errors.NewValidationError("max_chunks", "must be >= 1", maxChunks)
	}

	meta, err := e.collections.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return nil, errors.NewStandardError(errors.ErrorCodeNotFound, fmt.Sprintf("bot %s has no collection", botID), nil)
	}
	if len(queryEmbedding) != meta.EmbeddingDim {
		return nil, errors.NewValidationError("query_embedding", fmt.Sprintf("expected dimension %d, got %d", meta.EmbeddingDim, len(queryEmbedding)), len(queryEmbedding))
	}

	thresholds := e.thresholds.RetryThresholds(meta.EmbeddingProvider, customThreshold)
	result := &Result{ThresholdsTried: thresholds}

	var lastErr error
	errored := 0
	for attempt, t := range thresholds {
		start := time.Now()
		hits, searchErr := e.vectors.Search(ctx, meta.CollectionName, queryEmbedding, maxChunks, t)
		elapsed := time.Since(start)

		reason := ""
		if attempt > 0 {
			reason = "no_results_found"
		}
		e.logAttempt(ctx, botID, meta, query, t, hits, elapsed, searchErr == nil, reason)

		if searchErr != nil {
			lastErr = searchErr
			errored++
			e.log.Warn("retrieval: vector search failed, trying next threshold", "bot_id", botID.String(), "error", searchErr.Error())
			continue
		}

		if len(hits) > 0 {
			result.Chunks = hitsToChunks(hits)
			result.FallbackUsed = attempt > 0
			result.ThresholdUsed = t
			result.Success = true
			return result, nil
		}
	}

	if errored == len(thresholds) && lastErr != nil {
		return nil, errors.NewStandardError(errors.ErrorCodeRetrievalError, fmt.Sprintf("all thresholds failed: %v", lastErr), nil)
	}

	result.Success = true
	return result, nil
}

func (e *Engine) logAttempt(ctx context.Context, botID types.ID, meta *types.CollectionMetadata, query string, threshold *float64, hits []ports.SearchHit, elapsed time.Duration, success bool, reason string) {
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	stats := computeStats(scores)

	used := 0.0
	if threshold != nil {
		used = *threshold
	}

	l := types.ThresholdPerformanceLog{
		BotID:            botID,
		Timestamp:        time.Now(),
		ThresholdUsed:    used,
		Provider:         meta.EmbeddingProvider,
		Model:            meta.EmbeddingModel,
		QueryLength:      len(query),
		QueryHash:        hashQuery(query),
		ResultsFound:     len(hits),
		MinScore:         stats.min,
		AvgScore:         stats.avg,
		MaxScore:         stats.max,
		ScoreStdDev:      stats.stddev,
		ProcessingTime:   elapsed,
		Success:          success,
		AdjustmentReason: reason,
	}
	if err := e.thresholds.LogAttempt(ctx, l); err != nil {
		e.log.Warn("retrieval: failed to log threshold attempt", "bot_id", botID.String(), "error", err.Error())
	}
}

func hitsToChunks(hits []ports.SearchHit) []types.ScoredChunk {
	out := make([]types.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c := types.Chunk{EmbeddingID: h.ID}
		if v, ok := h.Payload[ports.PayloadDocumentID].(string); ok {
			c.DocumentID, _ = types.ParseID(v)
		}
		if v, ok := h.Payload[ports.PayloadBotID].(string); ok {
			c.BotID, _ = types.ParseID(v)
		}
		if v, ok := h.Payload[ports.PayloadChunkID].(string); ok {
			c.ID, _ = types.ParseID(v)
		}
		if v, ok := h.Payload[ports.PayloadChunkIndex].(int64); ok {
			c.Index = int(v)
		} else if v, ok := h.Payload[ports.PayloadChunkIndex].(int); ok {
			c.Index = v
		}
		if v, ok := h.Payload[ports.PayloadContent].(string); ok {
			c.Content = v
		}
		out = append(out, types.ScoredChunk{Chunk: c, Score: h.Score})
	}
	return out
}

type scoreStats struct{ min, avg, max, stddev float64 }

func computeStats(scores []float64) scoreStats {
	if len(scores) == 0 {
		return scoreStats{}
	}
	min, max, sum := scores[0], scores[0], 0.0
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	avg := sum / float64(len(scores))
	var variance float64
	for _, s := range scores {
		d := s - avg
		variance += d * d
	}
	variance /= float64(len(scores))
	return scoreStats{min: min, avg: avg, max: max, stddev: math.Sqrt(variance)}
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Suggestion is one piece of advice emitted by OptimizeRetrieval.
type Suggestion struct {
	Kind   string // "threshold", "corpus_size", "provider_advice"
	Detail string
}

// OptimizeRetrieval implements §4.3's optimization operation: C2's
// threshold recommendations, plus corpus-size hints, plus
// provider-specific advice.
func (e *Engine) OptimizeRetrieval(ctx context.Context, botID types.ID) ([]Suggestion, error) {
	meta, err := e.collections.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return nil, errors.NewStandardError(errors.ErrorCodeNotFound, fmt.Sprintf("bot %s has no collection", botID), nil)
	}

	var suggestions []Suggestion

	recs, err := e.thresholds.Recommend(ctx, botID, meta.EmbeddingProvider)
	if err != nil {
		e.log.Warn("optimize: failed to compute threshold recommendations", "bot_id", botID.String(), "error", err.Error())
	}
	for _, r := range recs {
		suggestions = append(suggestions, Suggestion{
			Kind:   "threshold",
			Detail: fmt.Sprintf("%s: %s (current=%.3f, recommended=%.3f, confidence=%.2f)", r.Provider, r.Reason, r.CurrentThreshold, r.RecommendedThreshold, r.Confidence),
		})
	}

	if e.docs != nil {
		count, err := e.docs.CountDocuments(ctx, botID)
		if err == nil {
			switch {
			case count == 0:
				suggestions = append(suggestions, Suggestion{Kind: "corpus_size", Detail: "add documents to this bot's corpus before relying on retrieval"})
			case count < 5:
				suggestions = append(suggestions, Suggestion{Kind: "corpus_size", Detail: "add more documents; fewer than 5 documents limits retrieval diversity"})
			}
		}
	}

	for _, r := range recs {
		if r.Provider == "gemini" && r.RecommendedThreshold <= r.CurrentThreshold && r.CurrentThreshold > 0.05 {
			suggestions = append(suggestions, Suggestion{Kind: "provider_advice", Detail: "gemini similarity scores run low; consider a threshold near 0.01"})
		}
	}

	return suggestions, nil
}
