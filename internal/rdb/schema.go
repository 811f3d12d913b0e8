// Package rdb provides the relational repository backing the engine's
// Document, Chunk, CollectionMetadata, ThresholdPerformanceLog, and
// Snapshot-adjacent state. It runs over database/sql against either
// PostgreSQL (production, github.com/lib/pq) or SQLite
// (tests, github.com/mattn/go-sqlite3) behind the same Store API.
package rdb

// schemaPostgres creates the tables this package owns. Users, bots,
// permissions, conversations, and activity logs live above this module
// (spec §1 out-of-scope) and are not created here; bot_id columns below
// are plain UUID columns with no foreign key to a bots table this
// package does not own.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	bot_id UUID NOT NULL,
	uploader_id UUID NOT NULL,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	byte_size BIGINT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_bot_id ON documents(bot_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL,
	bot_id UUID NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_bot_id ON document_chunks(bot_id);

CREATE TABLE IF NOT EXISTS collection_metadata (
	bot_id UUID PRIMARY KEY,
	collection_name TEXT NOT NULL,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding_dim INTEGER NOT NULL,
	status TEXT NOT NULL,
	points_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS threshold_performance_logs (
	id BIGSERIAL PRIMARY KEY,
	bot_id UUID NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	threshold_used DOUBLE PRECISION NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	query_length INTEGER NOT NULL,
	query_hash TEXT NOT NULL,
	results_found INTEGER NOT NULL,
	min_score DOUBLE PRECISION NOT NULL,
	avg_score DOUBLE PRECISION NOT NULL,
	max_score DOUBLE PRECISION NOT NULL,
	score_stddev DOUBLE PRECISION NOT NULL,
	processing_time_ms BIGINT NOT NULL,
	success BOOLEAN NOT NULL,
	adjustment_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_perf_logs_bot_ts ON threshold_performance_logs(bot_id, ts);
`

// schemaSQLite is the same schema adjusted for sqlite's type affinities
// and lack of UUID/TIMESTAMPTZ/BIGSERIAL, used by the package's own
// tests in place of a live Postgres.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	uploader_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	byte_size INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_bot_id ON documents(bot_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	bot_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_bot_id ON document_chunks(bot_id);

CREATE TABLE IF NOT EXISTS collection_metadata (
	bot_id TEXT PRIMARY KEY,
	collection_name TEXT NOT NULL,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding_dim INTEGER NOT NULL,
	status TEXT NOT NULL,
	points_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS threshold_performance_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	threshold_used REAL NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	query_length INTEGER NOT NULL,
	query_hash TEXT NOT NULL,
	results_found INTEGER NOT NULL,
	min_score REAL NOT NULL,
	avg_score REAL NOT NULL,
	max_score REAL NOT NULL,
	score_stddev REAL NOT NULL,
	processing_time_ms INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	adjustment_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_perf_logs_bot_ts ON threshold_performance_logs(bot_id, ts);
`

// Dialect selects which schema/placeholder style a Store uses.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)
