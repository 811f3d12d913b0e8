package vectorstore

import (
	"context"
	"strings"
	"time"

	"ragcore/internal/circuitbreaker"
	"ragcore/internal/ports"
	"ragcore/internal/retry"
)

// ResilientStore wraps a ports.VectorStore with retry and circuit-breaker
// protection, so a transient Qdrant outage degrades retrieval rather than
// failing every in-flight query.
type ResilientStore struct {
	store   ports.VectorStore
	retrier *retry.Retrier
	cb      *circuitbreaker.CircuitBreaker
}

// NewResilientStore wraps store with the given retry and circuit-breaker
// configuration. Nil configs fall back to package defaults.
func NewResilientStore(store ports.VectorStore, retryCfg *retry.Config, cbCfg *circuitbreaker.Config) *ResilientStore {
	if retryCfg == nil {
		retryCfg = defaultRetryConfig()
	}
	if cbCfg == nil {
		cbCfg = circuitbreaker.DefaultConfig()
	}
	return &ResilientStore{
		store:   store,
		retrier: retry.New(retryCfg),
		cb:      circuitbreaker.New(cbCfg),
	}
}

func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         isRetryableStorageError,
	}
}

func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func (s *ResilientStore) execute(ctx context.Context, op func(context.Context) error) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, op).Err
	})
}

// CollectionExists checks existence with retry/circuit-breaker protection;
// absence is reported as false, not as an error.
func (s *ResilientStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := s.execute(ctx, func(ctx context.Context) error {
		var err error
		exists, err = s.store.CollectionExists(ctx, collection)
		return err
	})
	return exists, err
}

// CreateCollection creates a collection with retry/circuit-breaker protection.
func (s *ResilientStore) CreateCollection(ctx context.Context, collection string, dim int) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.store.CreateCollection(ctx, collection, dim)
	})
}

// DeleteCollection deletes a collection with retry/circuit-breaker protection.
func (s *ResilientStore) DeleteCollection(ctx context.Context, collection string) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.store.DeleteCollection(ctx, collection)
	})
}

// Upsert writes points with retry/circuit-breaker protection.
func (s *ResilientStore) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.store.Upsert(ctx, collection, points)
	})
}

// Search performs a search, falling back to an empty result set rather
// than propagating failure when the circuit is open — a degraded answer
// beats no answer for the hybrid orchestrator's deadline budget.
func (s *ResilientStore) Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float64) ([]ports.SearchHit, error) {
	var hits []ports.SearchHit
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			res := s.retrier.Do(ctx, func(ctx context.Context) error {
				var err error
				hits, err = s.store.Search(ctx, collection, vector, topK, scoreThreshold)
				return err
			})
			return res.Err
		},
		func(ctx context.Context, cbErr error) error {
			hits = nil
			return nil
		},
	)
	return hits, err
}

// Delete removes points with retry/circuit-breaker protection.
func (s *ResilientStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	return s.execute(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, collection, pointIDs)
	})
}

// CollectionInfo fetches collection info with retry/circuit-breaker
// protection.
func (s *ResilientStore) CollectionInfo(ctx context.Context, collection string) (*ports.CollectionInfo, error) {
	var info *ports.CollectionInfo
	err := s.execute(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.store.CollectionInfo(ctx, collection)
		return err
	})
	return info, err
}

// Stats exposes the wrapped circuit breaker's statistics.
func (s *ResilientStore) Stats() circuitbreaker.Stats {
	return s.cb.GetStats()
}

var _ ports.VectorStore = (*ResilientStore)(nil)
