package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ragcore/internal/types"
)

func TestAnalyzeDetectsConversationalIntent(t *testing.T) {
	c := Analyze("hi there, how are you?", nil, nil)
	assert.Equal(t, IntentConversational, c.Intent)
}

func TestAnalyzeDetectsComparisonIntent(t *testing.T) {
	c := Analyze("what is the difference between postgres and mysql?", nil, nil)
	assert.Equal(t, IntentComparison, c.Intent)
}

func TestAnalyzeDefaultsToFactualLookupWhenNothingMatches(t *testing.T) {
	c := Analyze("the sky is blue", nil, nil)
	assert.Equal(t, IntentFactualLookup, c.Intent)
}

func TestAnalyzeFlagsFactualAccuracyForTechnicalExplanation(t *testing.T) {
	c := Analyze("how does the authentication middleware work under the hood?", nil, nil)
	assert.Equal(t, IntentTechnicalExplanation, c.Intent)
	assert.True(t, c.RequiresFactualAccuracy)
}

func TestAnalyzeFlagsCreativeSynthesisForGeneration(t *testing.T) {
	c := Analyze("write a short story about a robot", nil, nil)
	assert.Equal(t, IntentCreativeGeneration, c.Intent)
	assert.True(t, c.RequiresCreativeSynthesis)
}

func TestAnalyzeUsesProfileExpertiseWhenProvided(t *testing.T) {
	c := Analyze("hello", nil, &UserProfile{ExpertiseLevel: 0.9})
	assert.InDelta(t, 0.9, c.UserExpertise, 0.0001)
}

func TestAnalyzeFallsBackToDefaultExpertiseWithoutProfile(t *testing.T) {
	c := Analyze("hello", nil, nil)
	assert.InDelta(t, 0.5, c.UserExpertise, 0.0001)
}

func TestAnalyzeTracksConversationDepthFromHistory(t *testing.T) {
	c := Analyze("what about that?", []string{"first message", "second message"}, nil)
	assert.Equal(t, 2, c.ConversationDepth)
}

func TestAnalyzeScoresComplexQueryHigherThanSimpleOne(t *testing.T) {
	simple := Analyze("hello", nil, nil)
	complex := Analyze("explain the kubernetes deployment architecture, which depends on the database schema, and why it matters if the configuration changes", nil, nil)
	assert.Greater(t, complex.ComplexityScore, simple.ComplexityScore)
}

func TestAnalyzeScoresSpecificQueryHigherThanVagueOne(t *testing.T) {
	vague := Analyze("tell me about stuff", nil, nil)
	specific := Analyze(`What is "Project Atlas" release 2024 specifically targeting?`, nil, nil)
	assert.Greater(t, specific.SpecificityScore, vague.SpecificityScore)
}

func TestAnalyzeDetectsTemporalRelevance(t *testing.T) {
	c := Analyze("what is the latest version available today?", nil, nil)
	assert.Equal(t, 1.0, c.TemporalRelevance)
}

func TestAnalyzeDetectsDomainSpecificity(t *testing.T) {
	c := Analyze("the api latency depends on database throughput and encryption overhead", nil, nil)
	assert.Greater(t, c.DomainSpecificity, 0.0)
}

func TestEstimatePerformanceCapsAtOne(t *testing.T) {
	score := EstimatePerformance(0.95, 1.0, types.DensityHigh)
	assert.Equal(t, 1.0, score)
}

func TestEstimatePerformanceBaseCaseWithoutBonuses(t *testing.T) {
	score := EstimatePerformance(0.5, 5.0, types.DensityLow)
	assert.InDelta(t, 0.7, score, 0.0001)
}
