package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/query"
	"ragcore/internal/types"
)

func TestSelectStrategyPureLLM(t *testing.T) {
	decision := query.Decision{Mode: types.ModePureLLM, DocWeight: 0, LLMWeight: 1}
	qc := query.QueryCharacteristics{Intent: query.IntentConversational}
	assert.Equal(t, StrategyLLMGeneration, SelectStrategy(qc, decision))
}

func TestBlendLLMGenerationVerbatim(t *testing.T) {
	out := Blend(Input{LLMText: "Hi there!", Decision: query.Decision{Mode: types.ModePureLLM}}, StrategyLLMGeneration)
	assert.Equal(t, "Hi there!", out.Content)
	assert.Equal(t, 0.0, out.DocumentContribution)
	assert.Equal(t, 1.0, out.LLMContribution)
}

func TestWeightedCombinationDocFocused(t *testing.T) {
	chunks := []types.ScoredChunk{
		{Chunk: types.Chunk{Content: "The rate limit is 100 requests per minute."}, Score: 0.9},
	}
	decision := query.Decision{Mode: types.ModeHybridDocumentHeavy, DocWeight: 0.7, LLMWeight: 0.3}
	out := Blend(Input{LLMText: "It depends on your plan.", Chunks: chunks, Decision: decision}, StrategyWeightedCombination)

	require.Contains(t, out.Content, "Based on the available documents:")
	assert.Greater(t, out.DocumentContribution, 0.0)
}

func TestInformationDensityVeryLowForShortText(t *testing.T) {
	assert.Equal(t, types.DensityVeryLow, informationDensity("hi"))
}
