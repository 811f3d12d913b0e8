// Package query implements the query analyzer and router (C4): a
// pattern-bag intent classifier, weighted complexity/specificity
// scoring, and a rule-table router with an adaptive learned-weight
// fallback mode.
package query

import (
	"strings"
	"unicode"

	"ragcore/internal/types"
)

// Intent is the classified purpose of a query (§4.4).
type Intent string

const (
	IntentFactualLookup         Intent = "factual_lookup"
	IntentAnalyticalReasoning   Intent = "analytical_reasoning"
	IntentCreativeGeneration    Intent = "creative_generation"
	IntentConversational        Intent = "conversational"
	IntentClarification         Intent = "clarification"
	IntentSummarization         Intent = "summarization"
	IntentComparison            Intent = "comparison"
	IntentRecommendation        Intent = "recommendation"
	IntentTechnicalExplanation  Intent = "technical_explanation"
	IntentFollowUp              Intent = "follow_up"
)

// keywordBag is the pattern-bag table used by intent detection: the
// intent with the most keyword matches wins, defaulting to
// factual_lookup when nothing matches (§4.4).
var keywordBag = map[Intent][]string{
	IntentAnalyticalReasoning:  {"why", "analyze", "explain the reasoning", "compare and contrast", "evaluate", "assess"},
	IntentCreativeGeneration:   {"write", "create", "generate a story", "imagine", "compose", "draft"},
	IntentConversational:       {"hi", "hello", "how are you", "thanks", "thank you", "good morning"},
	IntentClarification:        {"what do you mean", "can you clarify", "i don't understand", "confused"},
	IntentSummarization:        {"summarize", "summary", "tl;dr", "brief overview", "recap"},
	IntentComparison:           {"versus", "vs", "compare", "difference between", "better than"},
	IntentRecommendation:       {"recommend", "suggest", "should i", "best option", "which one"},
	IntentTechnicalExplanation: {"how does", "how do i", "technical details", "under the hood", "implementation"},
	IntentFollowUp:             {"also", "additionally", "what about", "and what", "follow up"},
}

var technicalTerms = []string{
	"api", "algorithm", "database", "function", "architecture", "protocol",
	"configuration", "deployment", "implementation", "schema", "latency",
	"throughput", "encryption", "authentication", "kubernetes", "microservice",
}

var temporalTerms = []string{"today", "now", "currently", "latest", "recent", "this week", "this month", "right now", "up to date"}
var causalMarkers = []string{"because", "therefore", "as a result", "due to", "consequently", "so that"}
var conditionalMarkers = []string{"if", "unless", "provided that", "assuming", "in case"}

// UserProfile carries the caller's declared expertise, used to seed
// QueryCharacteristics.UserExpertise when present.
type UserProfile struct {
	ExpertiseLevel float64 // [0,1]; 0 means "not provided" and falls back to 0.5
}

// QueryCharacteristics is the output of Analyze (§4.4).
type QueryCharacteristics struct {
	ComplexityScore         float64
	SpecificityScore        float64
	TemporalRelevance       float64
	DomainSpecificity       float64
	Intent                  Intent
	RequiresFactualAccuracy bool
	RequiresCreativeSynthesis bool
	ConversationDepth       int
	UserExpertise           float64
}

// Analyze classifies a query's intent and scores its complexity,
// specificity, temporal relevance, and domain specificity (§4.4).
func Analyze(query string, history []string, profile *UserProfile) QueryCharacteristics {
	lower := strings.ToLower(query)

	intent := detectIntent(lower)
	complexity := complexityScore(lower)
	specificity := specificityScore(query)
	temporal := temporalRelevance(lower)
	domain := domainSpecificity(lower)

	expertise := 0.5
	if profile != nil && profile.ExpertiseLevel > 0 {
		expertise = profile.ExpertiseLevel
	}

	return QueryCharacteristics{
		ComplexityScore:           complexity,
		SpecificityScore:          specificity,
		TemporalRelevance:         temporal,
		DomainSpecificity:         domain,
		Intent:                    intent,
		RequiresFactualAccuracy:   intent == IntentFactualLookup || intent == IntentTechnicalExplanation || intent == IntentComparison,
		RequiresCreativeSynthesis: intent == IntentCreativeGeneration,
		ConversationDepth:         len(history),
		UserExpertise:             expertise,
	}
}

func detectIntent(lower string) Intent {
	best := IntentFactualLookup
	bestCount := 0
	for intent, keywords := range keywordBag {
		count := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = intent
		}
	}
	return best
}

// complexityScore sums weighted signals, clamped to 1 (§4.4).
func complexityScore(lower string) float64 {
	var score float64

	if strings.Count(lower, " and ")+strings.Count(lower, ",") >= 2 {
		score += 0.30 // multi-part
	}
	if strings.Contains(lower, "which") || strings.Contains(lower, "that") {
		score += 0.20 // nested clauses
	}
	for _, t := range technicalTerms {
		if strings.Contains(lower, t) {
			score += 0.20
			break
		}
	}
	for _, c := range conditionalMarkers {
		if strings.Contains(lower, c) {
			score += 0.15
			break
		}
	}
	for _, t := range temporalTerms {
		if strings.Contains(lower, t) {
			score += 0.10
			break
		}
	}
	for _, c := range causalMarkers {
		if strings.Contains(lower, c) {
			score += 0.15
			break
		}
	}

	return clamp01(score)
}

// specificityScore counts digits, quoted substrings, capitalized words,
// specific determiners, and length>10 words, then maps count/5 (§4.4).
func specificityScore(query string) float64 {
	count := 0

	hasDigit := false
	for _, r := range query {
		if unicode.IsDigit(r) {
			hasDigit = true
			break
		}
	}
	if hasDigit {
		count++
	}
	if strings.Count(query, "\"") >= 2 || strings.Count(query, "'") >= 2 {
		count++
	}

	words := strings.Fields(query)
	capitalized := 0
	for _, w := range words {
		r := []rune(w)
		if len(r) > 0 && unicode.IsUpper(r[0]) {
			capitalized++
		}
	}
	if capitalized > 0 {
		count++
	}

	lower := strings.ToLower(query)
	for _, det := range []string{"specifically", "exactly", "precisely", "particular"} {
		if strings.Contains(lower, det) {
			count++
			break
		}
	}

	if len(words) > 10 {
		count++
	}

	return clamp01(float64(count) / 5.0)
}

func temporalRelevance(lower string) float64 {
	for _, t := range temporalTerms {
		if strings.Contains(lower, t) {
			return 1.0
		}
	}
	return 0.0
}

func domainSpecificity(lower string) float64 {
	matches := 0
	for _, t := range technicalTerms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return clamp01(float64(matches) / 3.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EstimatePerformance produces C6's internal estimate of how well a
// completed request performed, fed back into the router's adaptive
// weights (§4.4): base 0.7, +0.1 for confidence > 0.8, +0.1 for
// processing time under 2s, +0.1 for information density >= HIGH,
// capped at 1.0.
func EstimatePerformance(confidence float64, processingTimeSeconds float64, density types.InformationDensity) float64 {
	score := 0.7
	if confidence > 0.8 {
		score += 0.1
	}
	if processingTimeSeconds < 2.0 {
		score += 0.1
	}
	if density == types.DensityHigh || density == types.DensityVeryHigh {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
