// Package orchestrator implements the hybrid orchestrator (C6): it routes
// a query through C4, fans the LLM and retrieval calls out concurrently
// subject to the chosen mode, blends the results through C5, serves and
// populates the C7 cache, and feeds the outcome back into C4's learning
// loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ragcore/internal/blend"
	"ragcore/internal/cache"
	"ragcore/internal/credentials"
	"ragcore/internal/errors"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/query"
	"ragcore/internal/retrieval"
	"ragcore/internal/types"
)

// Embedder is the slice of ports.EmbeddingProvider the orchestrator needs
// to turn a query string into a search vector.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error)
}

// Generator is the slice of ports.LLMProvider the orchestrator needs to
// produce the LLM side of a hybrid response.
type Generator interface {
	Generate(ctx context.Context, model, prompt, apiKey string, cfg *ports.GenerationConfig) (string, error)
}

// CredentialResolver is the C1 capability the orchestrator uses to turn a
// (bot, caller, provider) triple into a usable API key.
type CredentialResolver interface {
	Resolve(ctx context.Context, botID, callerID types.ID, provider string, opts credentials.Options) (*credentials.Resolution, error)
}

// Retriever is the C3 capability the orchestrator fans requests out to.
type Retriever interface {
	RetrieveRelevantChunks(ctx context.Context, botID types.ID, queryEmbedding []float32, query string, customThreshold *float64, maxChunks int) (*retrieval.Result, error)
}

// CollectionStore resolves a bot's embedding configuration.
type CollectionStore interface {
	GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error)
}

// DocumentCounter reports corpus size for the router's degrade-to-pure_llm
// decision.
type DocumentCounter interface {
	CountDocuments(ctx context.Context, botID types.ID) (int, error)
}

// Cache is the slice of *cache.Cache the orchestrator reads and writes.
type Cache interface {
	Get(ctx context.Context, key string, current cache.RequestContext) (*types.CacheEntry, bool, cache.InvalidationReason)
	Set(ctx context.Context, entry *types.CacheEntry) error
	ShouldCache(in cache.ShouldCacheInputs) bool
}

// Request is one AnswerQuery call's input.
type Request struct {
	BotID        types.ID
	CallerID     types.ID
	Query        string
	History      []string
	Profile      *query.UserProfile
	LLMProvider  string
	LLMModel     string
	MaxChunks    int
	NoCache      bool
}

// Orchestrator wires C1, C3, C4, C5, and C7 behind one AnswerQuery call.
type Orchestrator struct {
	embedder    Embedder
	generator   Generator
	credentials CredentialResolver
	retriever   Retriever
	collections CollectionStore
	docs        DocumentCounter
	router      *query.Router
	cache       Cache
	log         logging.Logger
	deadline    time.Duration
}

// Config configures Orchestrator's request deadline.
type Config struct {
	Deadline time.Duration // default 10s
}

// New constructs an Orchestrator.
func New(cfg Config, embedder Embedder, generator Generator, creds CredentialResolver, retriever Retriever, collections CollectionStore, docs DocumentCounter, router *query.Router, c Cache, log logging.Logger) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 10 * time.Second
	}
	if router == nil {
		router = query.NewRouter()
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Orchestrator{
		embedder:    embedder,
		generator:   generator,
		credentials: creds,
		retriever:   retriever,
		collections: collections,
		docs:        docs,
		router:      router,
		cache:       c,
		log:         log,
		deadline:    cfg.Deadline,
	}
}

// fanOutResult is the outcome of attempting one mode's LLM/retrieval
// sub-calls.
type fanOutResult struct {
	llmText   string
	chunks    []types.ScoredChunk
	llmErr    error
	retrErr   error
}

func (o *Orchestrator) succeeded(r fanOutResult, mode types.HybridMode) bool {
	needLLM := mode != types.ModeDocumentOnly
	needDocs := mode != types.ModePureLLM

	llmOK := !needLLM || r.llmErr == nil
	docsOK := !needDocs || r.retrErr == nil
	return llmOK && docsOK && (r.llmText != "" || len(r.chunks) > 0)
}

// AnswerQuery implements the §4.6 contract.
func (o *Orchestrator) AnswerQuery(ctx context.Context, req Request) (*types.HybridResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	if req.Query == "" {
		return nil, errors.ErrQueryRequired
	}
	if req.MaxChunks <= 0 {
		req.MaxChunks = 10
	}

	qc := query.Analyze(req.Query, req.History, req.Profile)

	availableDocs := 0
	if o.docs != nil {
		var err error
		availableDocs, err = o.docs.CountDocuments(ctx, req.BotID)
		if err != nil {
			o.log.Warn("orchestrator: document count lookup failed", "bot_id", req.BotID.String(), "error", err.Error())
		}
	}

	decision := o.router.Route(qc, availableDocs)

	rc := cache.RequestContext{
		Intent:         string(qc.Intent),
		Domain:         qc.DomainSpecificity,
		ComplexityTier: cache.ComplexityTier(qc.ComplexityScore),
	}
	key := cache.BuildKey(req.BotID, req.CallerID, req.Query, decision.RetrievalDepth, rc)

	if o.cache != nil {
		if entry, ok, _ := o.cache.Get(ctx, key, rc); ok {
			return entryToResponse(entry), nil
		}
	}

	mode := decision.Mode
	result := o.attempt(ctx, req, mode)
	for i := 0; !o.succeeded(result, mode) && i < len(decision.FallbackChain); i++ {
		mode = decision.FallbackChain[i]
		o.log.Warn("orchestrator: falling back", "from_mode", string(decision.Mode), "to_mode", string(mode))
		result = o.attempt(ctx, req, mode)
	}

	docWeight, llmWeight := query.ModeWeights(mode)
	finalDecision := query.Decision{
		Mode:           mode,
		Confidence:     decision.Confidence,
		DocWeight:      docWeight,
		LLMWeight:      llmWeight,
		RetrievalDepth: decision.RetrievalDepth,
	}

	if !o.succeeded(result, mode) {
		return nil, errors.NewStandardError(errors.ErrorCodeInternalError, "both llm generation and retrieval failed across the fallback chain", map[string]interface{}{
			"llm_error":       errString(result.llmErr),
			"retrieval_error": errString(result.retrErr),
		})
	}

	strategy := blend.SelectStrategy(qc, finalDecision)
	blended := blend.Blend(blend.Input{
		Query:    req.Query,
		LLMText:  result.llmText,
		Chunks:   result.chunks,
		Decision: finalDecision,
	}, strategy)

	processingTime := time.Since(start)

	sources := make([]string, 0, len(result.chunks))
	for _, c := range result.chunks {
		sources = append(sources, c.Chunk.DocumentID.String())
	}

	response := &types.HybridResponse{
		Content:              blended.Content,
		ModeUsed:             mode,
		SourcesUsed:          sources,
		ConfidenceScore:      decision.Confidence,
		InformationDensity:   blended.InformationDensity,
		ProcessingTime:       processingTime,
		DocumentContribution: blended.DocumentContribution,
		LLMContribution:      blended.LLMContribution,
		Metadata: map[string]interface{}{
			"degraded":      decision.Degraded,
			"fallback_used": mode != decision.Mode,
		},
	}

	performance := query.EstimatePerformance(decision.Confidence, processingTime.Seconds(), blended.InformationDensity)
	o.router.UpdateWeight(mode, performance)

	if o.cache != nil {
		o.maybeCache(ctx, key, req, qc, decision, response)
	}

	return response, nil
}

// attempt runs the LLM and/or retrieval sub-calls required by mode,
// concurrently, tolerating either side's failure as an empty contribution
// (§4.6).
func (o *Orchestrator) attempt(ctx context.Context, req Request, mode types.HybridMode) fanOutResult {
	var (
		wg  sync.WaitGroup
		res fanOutResult
	)

	if mode != types.ModeDocumentOnly {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := o.generate(ctx, req)
			res.llmText, res.llmErr = text, err
		}()
	}

	if mode != types.ModePureLLM {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks, err := o.retrieve(ctx, req)
			res.chunks, res.retrErr = chunks, err
		}()
	}

	wg.Wait()
	return res
}

func (o *Orchestrator) generate(ctx context.Context, req Request) (string, error) {
	provider := req.LLMProvider
	if provider == "" {
		provider = "openai"
	}
	resolution, err := o.credentials.Resolve(ctx, req.BotID, req.CallerID, provider, credentials.Options{Validate: false})
	if err != nil {
		return "", fmt.Errorf("orchestrator: resolve llm credential: %w", err)
	}
	text, err := o.generator.Generate(ctx, req.LLMModel, req.Query, resolution.APIKey, nil)
	if err != nil {
		return "", fmt.Errorf("orchestrator: llm generate: %w", err)
	}
	return text, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, req Request) ([]types.ScoredChunk, error) {
	meta, err := o.collections.GetCollectionMetadata(ctx, req.BotID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: collection metadata: %w", err)
	}
	resolution, err := o.credentials.Resolve(ctx, req.BotID, req.CallerID, meta.EmbeddingProvider, credentials.Options{Validate: false})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve embedding credential: %w", err)
	}
	vectors, err := o.embedder.GenerateEmbeddings(ctx, meta.EmbeddingModel, []string{req.Query}, resolution.APIKey)
	if err != nil || len(vectors) == 0 {
		return nil, fmt.Errorf("orchestrator: embed query: %w", err)
	}

	result, err := o.retriever.RetrieveRelevantChunks(ctx, req.BotID, vectors[0], req.Query, nil, req.MaxChunks)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: retrieve chunks: %w", err)
	}
	return result.Chunks, nil
}

func (o *Orchestrator) maybeCache(ctx context.Context, key string, req Request, qc query.QueryCharacteristics, decision query.Decision, resp *types.HybridResponse) {
	should := o.cache.ShouldCache(cache.ShouldCacheInputs{
		Confidence:        resp.ConfidenceScore,
		Intent:            string(qc.Intent),
		ConversationDepth: qc.ConversationDepth,
		NoCache:           req.NoCache,
		TemporalRelevance: qc.TemporalRelevance,
	})
	if !should {
		return
	}

	ttl := cache.AdaptiveTTL(cache.TTLInputs{
		TemporalRelevance: qc.TemporalRelevance,
		Confidence:        resp.ConfidenceScore,
		ContentType:       contentTypeFor(qc.Intent),
	})

	entry := &types.CacheEntry{
		CacheKey:        key,
		Content:         resp.Content,
		ModeUsed:        resp.ModeUsed,
		SourcesUsed:     resp.SourcesUsed,
		ConfidenceScore: resp.ConfidenceScore,
		CreatedAt:       time.Now(),
		LastAccessedAt:  time.Now(),
		TTL:             time.Duration(ttl) * time.Second,
		Metadata: map[string]interface{}{
			"information_density":  string(resp.InformationDensity),
			"document_contribution": resp.DocumentContribution,
			"llm_contribution":      resp.LLMContribution,
		},
	}
	if err := o.cache.Set(ctx, entry); err != nil {
		o.log.Warn("orchestrator: cache write failed", "key", key, "error", err.Error())
	}
}

func contentTypeFor(intent query.Intent) string {
	switch intent {
	case query.IntentFactualLookup, query.IntentTechnicalExplanation:
		return "factual"
	case query.IntentConversational:
		return "conversational"
	case query.IntentAnalyticalReasoning, query.IntentComparison:
		return "analytical"
	case query.IntentCreativeGeneration:
		return "creative"
	default:
		return ""
	}
}

func entryToResponse(e *types.CacheEntry) *types.HybridResponse {
	density, _ := e.Metadata["information_density"].(string)
	docContribution, _ := e.Metadata["document_contribution"].(float64)
	llmContribution, _ := e.Metadata["llm_contribution"].(float64)
	return &types.HybridResponse{
		Content:              e.Content,
		ModeUsed:             e.ModeUsed,
		SourcesUsed:          e.SourcesUsed,
		ConfidenceScore:      e.ConfidenceScore,
		InformationDensity:   types.InformationDensity(density),
		DocumentContribution: docContribution,
		LLMContribution:      llmContribution,
		Metadata:             map[string]interface{}{"cache_hit": true},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
