package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"ragcore/internal/circuitbreaker"
	"ragcore/internal/ports"
	"ragcore/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	searchErr  error
	searchHits []ports.SearchHit
	upsertErr  error
	upsertN    int
}

func (f *fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}
func (f *fakeStore) CreateCollection(ctx context.Context, collection string, dim int) error {
	return nil
}
func (f *fakeStore) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeStore) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	f.upsertN++
	return f.upsertErr
}
func (f *fakeStore) Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float64) ([]ports.SearchHit, error) {
	return f.searchHits, f.searchErr
}
func (f *fakeStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	return nil
}
func (f *fakeStore) CollectionInfo(ctx context.Context, collection string) (*ports.CollectionInfo, error) {
	return &ports.CollectionInfo{PointsCount: 0}, nil
}

func fastRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   1,
		RetryIf:      func(error) bool { return false },
	}
}

func TestResilientStore_SearchFallsBackOnCircuitOpen(t *testing.T) {
	f := &fakeStore{searchErr: errors.New("connection refused")}
	cbCfg := &circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, MaxConcurrentRequests: 1}
	store := NewResilientStore(f, fastRetry(), cbCfg)

	_, err := store.Search(context.Background(), "bot-1", []float32{0.1}, 5, nil)
	require.Error(t, err)

	hits, err := store.Search(context.Background(), "bot-1", []float32{0.1}, 5, nil)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestResilientStore_UpsertPropagatesError(t *testing.T) {
	f := &fakeStore{upsertErr: errors.New("permanent failure")}
	store := NewResilientStore(f, fastRetry(), circuitbreaker.DefaultConfig())

	err := store.Upsert(context.Background(), "bot-1", []ports.VectorPoint{{ID: "p1", Vector: []float32{0.1}}})
	require.Error(t, err)
	assert.Equal(t, 1, f.upsertN)
}

func TestIsRetryableStorageError(t *testing.T) {
	assert.True(t, isRetryableStorageError(errors.New("connection refused")))
	assert.True(t, isRetryableStorageError(errors.New("request TIMEOUT")))
	assert.False(t, isRetryableStorageError(errors.New("invalid argument")))
	assert.False(t, isRetryableStorageError(nil))
}
