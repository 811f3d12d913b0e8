// Package ports defines the capability interfaces the core engine depends
// on but does not own the implementation of: the vector index, the LLM
// and embedding providers, and document parsing. Concrete adapters live in
// internal/vectorstore, internal/providers, and internal/di; spec.md §6
// calls these out as pluggable capabilities so a deployer may swap any of
// them without touching C1-C10.
package ports

import (
	"context"
	"time"

	"ragcore/internal/types"
)

// VectorPoint is one point upserted into a collection: an embedding-id
// keyed vector carrying chunk provenance as payload.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// Payload keys written by the reprocessing pipeline (C9) and read back by
// the retrieval engine (C3), per §3's "carrying (chunk-id, document-id,
// bot-id, chunk-index, content) as payload".
const (
	PayloadChunkID    = "chunk_id"
	PayloadDocumentID = "document_id"
	PayloadBotID      = "bot_id"
	PayloadChunkIndex = "chunk_index"
	PayloadContent    = "content"
)

// SearchHit is one result from a vector similarity search.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// CollectionInfo describes a vector collection's declared configuration.
type CollectionInfo struct {
	VectorSize  int
	PointsCount int
}

// VectorStore is the pluggable vector-index capability (§6).
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, dim int) error
	DeleteCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float64) ([]SearchHit, error)
	Delete(ctx context.Context, collection string, pointIDs []string) error
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)
}

// EmbeddingProvider is the pluggable embedding-generation capability (§6).
// GenerateEmbeddings must accept batches of at most 100 texts per call, as
// required by the provider contract.
type EmbeddingProvider interface {
	GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error)
	ValidateKey(ctx context.Context, apiKey string) (bool, error)
	ListModels(ctx context.Context, apiKey string) ([]string, error)
	GetDimension(model string) int
}

// GenerationConfig carries optional LLM sampling parameters.
type GenerationConfig struct {
	MaxTokens   int
	Temperature float64
}

// LLMProvider is the pluggable generation capability (§6).
type LLMProvider interface {
	Generate(ctx context.Context, model, prompt, apiKey string, cfg *GenerationConfig) (string, error)
	ValidateKey(ctx context.Context, apiKey string) (bool, error)
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}

// ProcessedChunk is one chunk produced by a DocumentProcessor, before
// embedding.
type ProcessedChunk struct {
	Content    string
	ChunkIndex int
	StartChar  int
	EndChar    int
	Metadata   map[string]interface{}
}

// DocumentProcessor is the pluggable parsing/chunking capability (§6).
// File parsing, OCR, and chunking heuristics are explicitly out of scope
// for this module (spec.md §1); this interface is the seam a deployer
// plugs a real implementation into.
type DocumentProcessor interface {
	Process(ctx context.Context, data []byte, filename string, docID string) ([]ProcessedChunk, map[string]interface{}, error)
}

// FileStore is the pluggable raw-bytes capability backing C9's
// re-read-and-reparse step. Where a document's bytes actually live
// (local disk, object storage) is a deployer concern; this interface
// takes the document's stored path and returns its content.
type FileStore interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// KVStore is the distributed key-value capability backing C7's second
// cache tier (and nothing else) — absent, C7 runs local-only.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// CredentialStore is the pluggable lookup of a user's stored provider API
// key (§6). Secret storage/encryption-at-rest is owned by the deployer;
// this module only resolves, validates, and falls back over whatever the
// store returns.
type CredentialStore interface {
	GetUserAPIKey(ctx context.Context, userID types.ID, provider string) (key string, found bool, err error)
}

// BotOwnerLookup resolves a bot's owning user. Bot/user identity and
// ownership records live outside this module (spec.md §1); the credential
// resolver only needs this one fact about a bot to begin resolution.
type BotOwnerLookup interface {
	GetBotOwner(ctx context.Context, botID types.ID) (ownerID types.ID, err error)
}
