package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/credentials"
	"ragcore/internal/ports"
	"ragcore/internal/query"
	"ragcore/internal/retrieval"
	"ragcore/internal/types"
)

type fakeEmbedder struct{}

func (fakeEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	return [][]float32{{0.1, 0.2, 0.3}}, nil
}

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) Generate(ctx context.Context, model, prompt, apiKey string, cfg *ports.GenerationConfig) (string, error) {
	return f.text, f.err
}

type fakeCreds struct{}

func (fakeCreds) Resolve(ctx context.Context, botID, callerID types.ID, provider string, opts credentials.Options) (*credentials.Resolution, error) {
	return &credentials.Resolution{APIKey: "test-key", Provider: provider}, nil
}

type fakeRetriever struct {
	chunks []types.ScoredChunk
	err    error
}

func (f fakeRetriever) RetrieveRelevantChunks(ctx context.Context, botID types.ID, queryEmbedding []float32, query string, customThreshold *float64, maxChunks int) (*retrieval.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Result{Chunks: f.chunks, Success: true}, nil
}

type fakeCollections struct{}

func (fakeCollections) GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error) {
	return &types.CollectionMetadata{BotID: botID, CollectionName: "bot_collection", EmbeddingProvider: "openai", EmbeddingModel: "text-embedding-3-small", EmbeddingDim: 3}, nil
}

type fakeDocs struct{ count int }

func (f fakeDocs) CountDocuments(ctx context.Context, botID types.ID) (int, error) {
	return f.count, nil
}

func TestAnswerQueryPureLLMSkipsRetrieval(t *testing.T) {
	o := New(Config{}, fakeEmbedder{}, fakeGenerator{text: "hello there"}, fakeCreds{},
		fakeRetriever{err: errors.New("should not be called")}, fakeCollections{}, fakeDocs{count: 0},
		query.NewRouter(), nil, nil)

	resp, err := o.AnswerQuery(context.Background(), Request{BotID: types.NewID(), CallerID: types.NewID(), Query: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, types.ModePureLLM, resp.ModeUsed)
	assert.Equal(t, "hello there", resp.Content)
}

func TestAnswerQueryHybridBlendsDocumentsAndLLM(t *testing.T) {
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{DocumentID: types.NewID(), Content: "The API rate limit is 100 requests per minute."}, Score: 0.9},
	}
	o := New(Config{}, fakeEmbedder{}, fakeGenerator{text: "It depends on your plan."}, fakeCreds{},
		fakeRetriever{chunks: chunks}, fakeCollections{}, fakeDocs{count: 5}, query.NewRouter(), nil, nil)

	resp, err := o.AnswerQuery(context.Background(), Request{
		BotID:    types.NewID(),
		CallerID: types.NewID(),
		Query:    "What is the API rate limit, specifically, and how does it compare to the previous version?",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.NotEqual(t, types.ModePureLLM, resp.ModeUsed)
}

func TestAnswerQueryFallsBackWhenRetrievalFails(t *testing.T) {
	o := New(Config{}, fakeEmbedder{}, fakeGenerator{text: "fallback answer"}, fakeCreds{},
		fakeRetriever{err: errors.New("vector store down")}, fakeCollections{}, fakeDocs{count: 5}, query.NewRouter(), nil, nil)

	resp, err := o.AnswerQuery(context.Background(), Request{
		BotID:    types.NewID(),
		CallerID: types.NewID(),
		Query:    "What is the refund policy for enterprise customers?",
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Content)
}

func TestAnswerQueryRequiresNonEmptyQuery(t *testing.T) {
	o := New(Config{}, fakeEmbedder{}, fakeGenerator{}, fakeCreds{}, fakeRetriever{}, fakeCollections{}, fakeDocs{}, query.NewRouter(), nil, nil)
	_, err := o.AnswerQuery(context.Background(), Request{BotID: types.NewID(), CallerID: types.NewID(), Query: ""})
	assert.Error(t, err)
}
