package rdb

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ragcore/internal/logging"
	"ragcore/internal/types"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := Open(db, DialectSQLite, logging.NewNoOpLogger())
	require.NoError(t, err)
	return store
}

func TestStore_DocumentLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	botID := types.NewID()
	doc := &types.Document{
		ID: types.NewID(), BotID: botID, UploaderID: types.NewID(),
		Filename: "a.txt", Path: "/tmp/a.txt", ByteSize: 42, CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertDocument(ctx, doc))

	docs, err := store.ListDocuments(ctx, botID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.Filename, docs[0].Filename)
	assert.Equal(t, 0, docs[0].ChunkCount)

	chunks := []types.Chunk{
		{ID: types.NewID(), Index: 0, Content: "hello", EmbeddingID: "e1"},
		{ID: types.NewID(), Index: 1, Content: "world", EmbeddingID: "e2"},
	}
	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, botID, chunks))

	stored, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "hello", stored[0].Content)

	docs, err = store.ListDocuments(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 2, docs[0].ChunkCount)

	n, err := store.CountChunks(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteChunksForBot(ctx, botID))
	n, err = store.CountChunks(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, store.ResetDocumentChunkCounts(ctx, botID))
	docs, err = store.ListDocuments(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 0, docs[0].ChunkCount)
}

func TestStore_CollectionMetadataUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	botID := types.NewID()

	m := &types.CollectionMetadata{
		BotID: botID, CollectionName: "bot_" + botID.String(), EmbeddingProvider: "openai",
		EmbeddingModel: "text-embedding-3-small", EmbeddingDim: 1536, Status: types.CollectionActive, PointsCount: 10,
	}
	require.NoError(t, store.SaveCollectionMetadata(ctx, m))

	loaded, err := store.GetCollectionMetadata(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, m.CollectionName, loaded.CollectionName)
	assert.Equal(t, 1536, loaded.EmbeddingDim)

	m.PointsCount = 20
	require.NoError(t, store.SaveCollectionMetadata(ctx, m))
	loaded, err = store.GetCollectionMetadata(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 20, loaded.PointsCount)
}

func TestStore_PerformanceLogs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	botID := types.NewID()

	log := &types.ThresholdPerformanceLog{
		BotID: botID, Timestamp: time.Now(), ThresholdUsed: 0.7, Provider: "openai", Model: "text-embedding-3-small",
		QueryLength: 5, QueryHash: "abc", ResultsFound: 0, AdjustmentReason: "no_results_found",
		ProcessingTime: 150 * time.Millisecond, Success: true,
	}
	require.NoError(t, store.InsertPerformanceLog(ctx, log))

	logs, err := store.ListPerformanceLogs(ctx, botID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 0.7, logs[0].ThresholdUsed)
	assert.Equal(t, 150*time.Millisecond, logs[0].ProcessingTime)
}
