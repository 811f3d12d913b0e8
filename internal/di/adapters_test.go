package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderForEmbedModelRoutesByModelName(t *testing.T) {
	assert.Equal(t, "gemini", providerForEmbedModel("text-embedding-004"))
	assert.Equal(t, "gemini", providerForEmbedModel("models/text-embedding-001"))
	assert.Equal(t, "openrouter", providerForEmbedModel("mistralai/mistral-embed"))
	assert.Equal(t, "openai", providerForEmbedModel("text-embedding-3-small"))
}

func TestProviderForChatModelRoutesByModelName(t *testing.T) {
	assert.Equal(t, "anthropic", providerForChatModel("claude-3-5-sonnet"))
	assert.Equal(t, "gemini", providerForChatModel("gemini-1.5-pro"))
	assert.Equal(t, "openrouter", providerForChatModel("meta-llama/llama-3"))
	assert.Equal(t, "openai", providerForChatModel("gpt-4o"))
}

func TestTextChunkerSplitsOnParagraphBoundaries(t *testing.T) {
	data := []byte("first paragraph\n\nsecond paragraph\n\n\n\nthird paragraph")
	chunks, meta, err := textChunker{}.Process(context.Background(), data, "doc.txt", "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "first paragraph", chunks[0].Content)
	assert.Equal(t, "second paragraph", chunks[1].Content)
	assert.Equal(t, "third paragraph", chunks[2].Content)
	assert.Equal(t, "doc.txt", meta["source_filename"])
}

func TestTextChunkerSkipsEmptyParagraphs(t *testing.T) {
	data := []byte("only paragraph\n\n\n\n")
	chunks, _, err := textChunker{}.Process(context.Background(), data, "doc.txt", "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only paragraph", chunks[0].Content)
}
