package di

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"ragcore/internal/ports"
	"ragcore/internal/providers"
	"ragcore/internal/rdb"
	"ragcore/internal/types"
)

// providerEmbedder and providerGenerator route a single (model, apiKey)
// call to the right provider client. The orchestrator and reprocess
// pipeline each hold one Embedder/Generator, not one per provider (they
// only ever see a model name and an already-resolved key), so routing
// by model name is the seam: a deployer swapping in new providers or
// models only has to extend providerForEmbedModel/providerForChatModel.
type providerEmbedder struct {
	providers map[string]*providers.Client
}

func (e providerEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	client, ok := e.providers[providerForEmbedModel(model)]
	if !ok {
		return nil, fmt.Errorf("di: no embedding provider configured for model %s", model)
	}
	return client.GenerateEmbeddings(ctx, model, texts, apiKey)
}

type providerGenerator struct {
	providers map[string]*providers.Client
}

func (g providerGenerator) Generate(ctx context.Context, model, prompt, apiKey string, cfg *ports.GenerationConfig) (string, error) {
	client, ok := g.providers[providerForChatModel(model)]
	if !ok {
		return "", fmt.Errorf("di: no chat provider configured for model %s", model)
	}
	return client.Generate(ctx, model, prompt, apiKey, cfg)
}

func providerForEmbedModel(model string) string {
	switch {
	case strings.HasPrefix(model, "text-embedding-004"), strings.HasPrefix(model, "models/text-embedding"):
		return "gemini"
	case strings.Contains(model, "/"):
		return "openrouter"
	default:
		return "openai"
	}
}

func providerForChatModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini-"):
		return "gemini"
	case strings.Contains(model, "/"):
		return "openrouter"
	default:
		return "openai"
	}
}

// textChunker is a minimal paragraph-boundary splitter used so the
// module runs standalone. Real parsing/chunking heuristics are a
// deployer concern (spec explicitly excludes them); this exists only
// to give reprocess.New a working ports.DocumentProcessor by default.
type textChunker struct{}

func (textChunker) Process(ctx context.Context, data []byte, filename string, docID string) ([]ports.ProcessedChunk, map[string]interface{}, error) {
	paragraphs := bytes.Split(data, []byte("\n\n"))
	chunks := make([]ports.ProcessedChunk, 0, len(paragraphs))
	pos := 0
	for i, p := range paragraphs {
		content := strings.TrimSpace(string(p))
		start := pos
		pos += len(p) + 2
		if content == "" {
			continue
		}
		chunks = append(chunks, ports.ProcessedChunk{
			Content:    content,
			ChunkIndex: i,
			StartChar:  start,
			EndChar:    start + len(content),
		})
	}
	return chunks, map[string]interface{}{"source_filename": filename}, nil
}

// localFileStore reads a document's bytes from the local filesystem
// path recorded at upload time.
type localFileStore struct{}

func (localFileStore) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ownerStore is a minimal reference implementation of
// ports.CredentialStore and ports.BotOwnerLookup, backed by two small
// tables this package owns (distinct from rdb's schema, which
// explicitly does not model users/bots; spec.md §1 treats identity and
// per-user credential storage as the deployer's responsibility). A
// production deployment is expected to supply its own implementation
// of both interfaces against its real user/bot tables.
type ownerStore struct {
	db      *sql.DB
	dialect rdb.Dialect
}

const ownerStoreSchemaPostgres = `
CREATE TABLE IF NOT EXISTS bot_owners (
	bot_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_api_keys (
	user_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	api_key TEXT NOT NULL,
	PRIMARY KEY (user_id, provider)
);
`

const ownerStoreSchemaSQLite = ownerStoreSchemaPostgres

func newOwnerStore(db *sql.DB, dialect rdb.Dialect) (*ownerStore, error) {
	schema := ownerStoreSchemaPostgres
	if dialect == rdb.DialectSQLite {
		schema = ownerStoreSchemaSQLite
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply owner store schema: %w", err)
	}
	return &ownerStore{db: db, dialect: dialect}, nil
}

func (o *ownerStore) ph(n int) string {
	if o.dialect == rdb.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (o *ownerStore) GetBotOwner(ctx context.Context, botID types.ID) (types.ID, error) {
	var ownerRaw string
	q := fmt.Sprintf("SELECT owner_id FROM bot_owners WHERE bot_id = %s", o.ph(1))
	if err := o.db.QueryRowContext(ctx, q, botID.String()).Scan(&ownerRaw); err != nil {
		if err == sql.ErrNoRows {
			return types.NilID, fmt.Errorf("no owner recorded for bot %s", botID.String())
		}
		return types.NilID, fmt.Errorf("lookup bot owner: %w", err)
	}
	ownerID, err := types.ParseID(ownerRaw)
	if err != nil {
		return types.NilID, fmt.Errorf("parse owner id: %w", err)
	}
	return ownerID, nil
}

func (o *ownerStore) GetUserAPIKey(ctx context.Context, userID types.ID, provider string) (string, bool, error) {
	var key string
	q := fmt.Sprintf("SELECT api_key FROM user_api_keys WHERE user_id = %s AND provider = %s", o.ph(1), o.ph(2))
	if err := o.db.QueryRowContext(ctx, q, userID.String(), provider).Scan(&key); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup user api key: %w", err)
	}
	return key, true, nil
}
