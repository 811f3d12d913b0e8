package query

import (
	"sync"

	"ragcore/internal/types"
)

// Decision is the outcome of Route: the chosen mode, its confidence, the
// LLM/document weight split, the retrieval depth to request, and the
// fixed fallback chain to try if the chosen mode's sub-calls fail.
type Decision struct {
	Mode           types.HybridMode
	Confidence     float64
	DocWeight      float64
	LLMWeight      float64
	RetrievalDepth int
	FallbackChain  []types.HybridMode
	Degraded       bool // true if downgraded to pure_llm for lack of documents
}

// modeWeights is the fixed (doc_weight, llm_weight) table of §4.4.
var modeWeights = map[types.HybridMode][2]float64{
	types.ModePureLLM:               {0, 1},
	types.ModeDocumentOnly:          {1, 0},
	types.ModeHybridBalanced:        {0.5, 0.5},
	types.ModeHybridLLMHeavy:        {0.3, 0.7},
	types.ModeHybridDocumentHeavy:   {0.7, 0.3},
	types.ModeContextualEnhancement: {0.6, 0.4},
	types.ModeFallbackCascade:       {0.4, 0.6},
}

// fallbackChains is the fixed per-mode fallback sequence of §4.4.
var fallbackChains = map[types.HybridMode][]types.HybridMode{
	types.ModeHybridBalanced:        {types.ModeHybridLLMHeavy, types.ModePureLLM},
	types.ModeHybridLLMHeavy:        {types.ModePureLLM},
	types.ModeHybridDocumentHeavy:   {types.ModeHybridBalanced, types.ModePureLLM},
	types.ModeDocumentOnly:          {types.ModeHybridDocumentHeavy, types.ModePureLLM},
	types.ModeAdaptive:              {types.ModeHybridBalanced, types.ModePureLLM},
	types.ModeContextualEnhancement: {types.ModeHybridBalanced, types.ModePureLLM},
	types.ModeFallbackCascade:       {types.ModeHybridBalanced, types.ModePureLLM},
	types.ModePureLLM:               {},
}

// Router applies the §4.4 rule table and maintains adaptive per-mode
// weights for the "otherwise" adaptive branch.
type Router struct {
	mu      sync.Mutex
	weights map[types.HybridMode]float64
}

// adaptiveModes is the set of modes the adaptive branch picks among.
var adaptiveModes = []types.HybridMode{
	types.ModeHybridBalanced, types.ModeHybridLLMHeavy, types.ModeHybridDocumentHeavy, types.ModePureLLM,
}

// NewRouter constructs a Router with uniform initial adaptive weights.
func NewRouter() *Router {
	weights := make(map[types.HybridMode]float64, len(adaptiveModes))
	for _, m := range adaptiveModes {
		weights[m] = 0.5
	}
	return &Router{weights: weights}
}

// Route applies the §4.4 rule table top-to-bottom; the first matching
// rule wins. availableDocuments degrades a document-requiring mode to
// pure_llm (confidence x0.7) when the corpus is empty.
func (r *Router) Route(qc QueryCharacteristics, availableDocuments int) Decision {
	mode, confidence := r.selectMode(qc)

	weights := modeWeights[mode]
	degraded := false
	if requiresDocuments(mode) && availableDocuments == 0 {
		mode = types.ModePureLLM
		weights = modeWeights[mode]
		confidence *= 0.7
		degraded = true
	}

	depth := retrievalDepth(qc, mode, availableDocuments)

	return Decision{
		Mode:           mode,
		Confidence:     confidence,
		DocWeight:      weights[0],
		LLMWeight:      weights[1],
		RetrievalDepth: depth,
		FallbackChain:  fallbackChains[mode],
		Degraded:       degraded,
	}
}

func (r *Router) selectMode(qc QueryCharacteristics) (types.HybridMode, float64) {
	switch {
	case qc.Intent == IntentFactualLookup && qc.RequiresFactualAccuracy:
		return types.ModeHybridDocumentHeavy, 0.90
	case qc.Intent == IntentCreativeGeneration:
		return types.ModeHybridLLMHeavy, 0.85
	case qc.ComplexityScore > 0.7 && qc.DomainSpecificity > 0.5:
		return types.ModeHybridBalanced, 0.80
	case qc.Intent == IntentConversational && qc.ConversationDepth < 2:
		return types.ModePureLLM, 0.90
	case qc.Intent == IntentSummarization:
		return types.ModeContextualEnhancement, 0.85
	case qc.TemporalRelevance > 0.7:
		return types.ModeHybridLLMHeavy, 0.75
	case qc.SpecificityScore > 0.8:
		return types.ModeHybridDocumentHeavy, 0.80
	default:
		return r.adaptiveMode()
	}
}

// adaptiveMode picks the highest-weighted mode among adaptiveModes; its
// confidence is the weight itself.
func (r *Router) adaptiveMode() (types.HybridMode, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := types.ModeAdaptive
	bestWeight := -1.0
	for _, m := range adaptiveModes {
		if w := r.weights[m]; w > bestWeight {
			bestWeight = w
			best = m
		}
	}
	return best, clamp01(bestWeight)
}

func requiresDocuments(mode types.HybridMode) bool {
	w := modeWeights[mode]
	return w[0] > 0
}

// ModeWeights returns the fixed (doc_weight, llm_weight) pair for mode,
// used by C6 to rebuild a Decision's weights when the orchestrator's
// fallback chain switches to a different mode mid-request.
func ModeWeights(mode types.HybridMode) (docWeight, llmWeight float64) {
	w := modeWeights[mode]
	return w[0], w[1]
}

// FallbackChainFor exposes the fixed per-mode fallback sequence (§4.4).
func FallbackChainFor(mode types.HybridMode) []types.HybridMode {
	return fallbackChains[mode]
}

// retrievalDepth implements §4.4's depth formula: base 5, +3 if
// complexity > 0.7, -2 if specificity > 0.7, +2 for document_heavy
// modes, -2 for llm_heavy modes, clamped to [1, availableDocuments].
func retrievalDepth(qc QueryCharacteristics, mode types.HybridMode, availableDocuments int) int {
	if availableDocuments == 0 {
		return 0
	}

	depth := 5
	if qc.ComplexityScore > 0.7 {
		depth += 3
	}
	if qc.SpecificityScore > 0.7 {
		depth -= 2
	}
	if mode == types.ModeHybridDocumentHeavy || mode == types.ModeDocumentOnly {
		depth += 2
	}
	if mode == types.ModeHybridLLMHeavy {
		depth -= 2
	}

	if depth < 1 {
		depth = 1
	}
	if depth > availableDocuments {
		depth = availableDocuments
	}
	return depth
}

// UpdateWeight applies the EMA update w <- (1-eta)*w + eta*2*performance
// (eta=0.1) to the adaptive weight of mode, clamped to [0,1] (§4.4).
func (r *Router) UpdateWeight(mode types.HybridMode, performance float64) {
	const eta = 0.1
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.weights[mode]
	if !ok {
		w = 0.5
	}
	w = (1-eta)*w + eta*2*performance
	r.weights[mode] = clamp01(w)
}
