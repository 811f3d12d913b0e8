package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/credentials"
	"ragcore/internal/orchestrator"
	"ragcore/internal/ports"
	"ragcore/internal/query"
	"ragcore/internal/queue"
	"ragcore/internal/reprocess"
	"ragcore/internal/retrieval"
	"ragcore/internal/snapshot"
	"ragcore/internal/threshold"
	"ragcore/internal/types"
)

// fakeStore backs every RDB-shaped dependency (reprocess.RDB,
// snapshot.RDB, threshold.Store) with one in-memory implementation, so
// every component wired into a Core shares one consistent view.
type fakeStore struct {
	docs   []types.Document
	chunks map[string][]types.Chunk
	meta   *types.CollectionMetadata
	logs   []types.ThresholdPerformanceLog
}

func (f *fakeStore) ListDocuments(ctx context.Context, botID types.ID) ([]types.Document, error) {
	return f.docs, nil
}
func (f *fakeStore) ListChunks(ctx context.Context, documentID types.ID) ([]types.Chunk, error) {
	return f.chunks[documentID.String()], nil
}
func (f *fakeStore) CountChunks(ctx context.Context, botID types.ID) (int, error) {
	n := 0
	for _, cs := range f.chunks {
		n += len(cs)
	}
	return n, nil
}
func (f *fakeStore) CountDocuments(ctx context.Context, botID types.ID) (int, error) {
	return len(f.docs), nil
}
func (f *fakeStore) ReplaceChunks(ctx context.Context, documentID, botID types.ID, chunks []types.Chunk) error {
	if f.chunks == nil {
		f.chunks = make(map[string][]types.Chunk)
	}
	f.chunks[documentID.String()] = chunks
	return nil
}
func (f *fakeStore) GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error) {
	return f.meta, nil
}
func (f *fakeStore) SaveCollectionMetadata(ctx context.Context, m *types.CollectionMetadata) error {
	f.meta = m
	return nil
}
func (f *fakeStore) DeleteChunksForBot(ctx context.Context, botID types.ID) error {
	f.chunks = make(map[string][]types.Chunk)
	return nil
}
func (f *fakeStore) ResetDocumentChunkCounts(ctx context.Context, botID types.ID) error {
	for i := range f.docs {
		f.docs[i].ChunkCount = 0
	}
	return nil
}
func (f *fakeStore) InsertPerformanceLog(ctx context.Context, l *types.ThresholdPerformanceLog) error {
	f.logs = append(f.logs, *l)
	return nil
}
func (f *fakeStore) ListPerformanceLogs(ctx context.Context, botID types.ID, since time.Time) ([]types.ThresholdPerformanceLog, error) {
	var out []types.ThresholdPerformanceLog
	for _, l := range f.logs {
		if !l.Timestamp.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeVectors struct{ exists bool }

func (f *fakeVectors) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return f.exists, nil
}
func (f *fakeVectors) CreateCollection(ctx context.Context, collection string, dim int) error {
	f.exists = true
	return nil
}
func (f *fakeVectors) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (f *fakeVectors) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	return nil
}
func (f *fakeVectors) Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float64) ([]ports.SearchHit, error) {
	return nil, nil
}
func (f *fakeVectors) Delete(ctx context.Context, collection string, pointIDs []string) error {
	return nil
}
func (f *fakeVectors) CollectionInfo(ctx context.Context, collection string) (*ports.CollectionInfo, error) {
	return &ports.CollectionInfo{}, nil
}

type fakeProcessor struct{}

func (fakeProcessor) Process(ctx context.Context, data []byte, filename string, docID string) ([]ports.ProcessedChunk, map[string]interface{}, error) {
	return []ports.ProcessedChunk{{Content: "chunk one", ChunkIndex: 0}}, nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(ctx context.Context, model, prompt, apiKey string, cfg *ports.GenerationConfig) (string, error) {
	return "generated answer", nil
}

type fakeCreds struct{}

func (fakeCreds) Resolve(ctx context.Context, botID, callerID types.ID, provider string, opts credentials.Options) (*credentials.Resolution, error) {
	return &credentials.Resolution{APIKey: "test-key", Provider: provider}, nil
}

type fakeFiles struct{}

func (fakeFiles) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return []byte("body"), nil
}

type fakeRetriever struct{}

func (fakeRetriever) RetrieveRelevantChunks(ctx context.Context, botID types.ID, queryEmbedding []float32, q string, customThreshold *float64, maxChunks int) (*retrieval.Result, error) {
	return &retrieval.Result{Success: true}, nil
}

func buildCore(t *testing.T) (*Core, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	vectors := &fakeVectors{exists: true}

	snapMgr, err := snapshot.NewManager(snapshot.Config{SnapshotDir: t.TempDir()}, store, vectors, nil)
	require.NoError(t, err)

	pipeline, err := reprocess.New(reprocess.Config{CheckpointDir: t.TempDir()}, store, vectors, fakeProcessor{}, fakeEmbedder{}, fakeCreds{}, fakeFiles{}, snapMgr, nil)
	require.NoError(t, err)

	q := queue.New(queue.Config{CheckInterval: 5 * time.Millisecond}, pipeline, nil)

	thresholds := threshold.NewManager(nil, store, nil)

	c := cache.NewCache(cache.Config{}, nil, nil)
	orch := orchestrator.New(orchestrator.Config{}, fakeEmbedder{}, fakeGenerator{}, fakeCreds{}, fakeRetriever{}, store, store, query.NewRouter(), c, nil)

	return New(orch, snapMgr, pipeline, q, thresholds, nil), store
}

func TestAnswerQueryDelegatesToOrchestrator(t *testing.T) {
	core, store := buildCore(t)
	store.meta = &types.CollectionMetadata{BotID: types.NewID(), CollectionName: "bot_collection", EmbeddingProvider: "openai", EmbeddingDim: 3}

	resp, err := core.AnswerQuery(context.Background(), orchestrator.Request{
		BotID:    store.meta.BotID,
		CallerID: types.NewID(),
		Query:    "what is the refund policy?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
}

func TestReprocessEnqueuesAndGetOperationTracksLifecycle(t *testing.T) {
	core, store := buildCore(t)
	botID := types.NewID()
	doc := types.Document{ID: types.NewID(), BotID: botID, Filename: "a.txt", Path: "/docs/a.txt"}
	store.docs = []types.Document{doc}
	store.meta = &types.CollectionMetadata{BotID: botID, CollectionName: "bot_collection", EmbeddingProvider: "openai", EmbeddingDim: 3}

	opID, err := core.Reprocess(ReprocessRequest{BotID: botID, CallerID: types.NewID(), Priority: types.PriorityNormal, Options: types.ReprocessOptions{BatchSize: 10}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.StartQueue(ctx)

	deadline := time.Now().Add(2 * time.Second)
	var view *OperationView
	for time.Now().Before(deadline) {
		v, err := core.GetOperation(opID)
		if err == nil && v.Status == types.OperationCompleted {
			view = v
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, view)
	assert.Equal(t, 1, view.Report.Total)
	assert.Equal(t, 1, view.Report.Successful)
}

func TestCancelUnknownOperationErrors(t *testing.T) {
	core, _ := buildCore(t)
	err := core.CancelOperation(types.NewID())
	assert.Error(t, err)
}

func TestVerifyIntegrityReturnsReport(t *testing.T) {
	core, store := buildCore(t)
	botID := types.NewID()
	store.meta = &types.CollectionMetadata{BotID: botID, CollectionName: "bot_collection", EmbeddingProvider: "openai", EmbeddingDim: 3}

	result, err := core.VerifyIntegrity(context.Background(), botID, nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Results)
}

func TestCreateSnapshotAndListSnapshots(t *testing.T) {
	core, store := buildCore(t)
	botID := types.NewID()
	store.meta = &types.CollectionMetadata{BotID: botID, CollectionName: "bot_collection", EmbeddingProvider: "openai", EmbeddingDim: 3}

	snap, err := core.CreateSnapshot(context.Background(), botID, types.NilID)
	require.NoError(t, err)
	assert.False(t, snap.SnapshotID.IsNil())

	list, err := core.ListSnapshots(botID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecommendThresholdsWithNoHistoryReturnsEmpty(t *testing.T) {
	core, _ := buildCore(t)
	recs, err := core.RecommendThresholds(context.Background(), types.NewID(), "openai", 7)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
