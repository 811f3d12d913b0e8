package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// Store is the relational repository used by C2 (performance logs), C8
// (snapshot/integrity reads and rollback writes), and C9 (document/chunk
// persistence during reprocessing).
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     logging.Logger
}

// Open wraps an already-connected *sql.DB and ensures the schema exists.
// dialect selects placeholder style ($1.. for postgres, ?  for sqlite3)
// and the CREATE TABLE statements run at startup, mirroring the
// teacher's migration-on-boot convenience path for non-production use;
// production deployments are expected to run the schema ahead of time
// via a migration tool, same as the teacher's cmd/migrate.
func Open(db *sql.DB, dialect Dialect, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	s := &Store{db: db, dialect: dialect, log: log}

	schema := schemaPostgres
	if dialect == DialectSQLite {
		schema = schemaSQLite
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("rdb: failed to apply schema: %w", err)
	}
	return s, nil
}

// ph returns the dialect-appropriate positional placeholder for
// argument index n (1-based).
func (s *Store) ph(n int) string {
	if s.dialect == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// --- documents ---

// InsertDocument persists a new document row.
func (s *Store) InsertDocument(ctx context.Context, d *types.Document) error {
	q := fmt.Sprintf(`INSERT INTO documents (id, bot_id, uploader_id, filename, path, byte_size, chunk_count, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
	_, err := s.db.ExecContext(ctx, q, d.ID.String(), d.BotID.String(), d.UploaderID.String(), d.Filename, d.Path, d.ByteSize, d.ChunkCount, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("rdb: insert document: %w", err)
	}
	return nil
}

// UpdateDocumentChunkCount updates doc.chunk_count, the source-of-truth
// claim checked by invariant I1.
func (s *Store) UpdateDocumentChunkCount(ctx context.Context, documentID types.ID, count int) error {
	q := fmt.Sprintf(`UPDATE documents SET chunk_count = %s WHERE id = %s`, s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, q, count, documentID.String())
	if err != nil {
		return fmt.Errorf("rdb: update chunk count: %w", err)
	}
	return nil
}

// ResetDocumentChunkCounts zeroes chunk_count for every document of
// botID, used by C8's rollback execution.
func (s *Store) ResetDocumentChunkCounts(ctx context.Context, botID types.ID) error {
	q := fmt.Sprintf(`UPDATE documents SET chunk_count = 0 WHERE bot_id = %s`, s.ph(1))
	_, err := s.db.ExecContext(ctx, q, botID.String())
	if err != nil {
		return fmt.Errorf("rdb: reset chunk counts: %w", err)
	}
	return nil
}

// ListDocuments returns every document owned by botID.
func (s *Store) ListDocuments(ctx context.Context, botID types.ID) ([]types.Document, error) {
	q := fmt.Sprintf(`SELECT id, bot_id, uploader_id, filename, path, byte_size, chunk_count, created_at
		FROM documents WHERE bot_id = %s ORDER BY created_at`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, botID.String())
	if err != nil {
		return nil, fmt.Errorf("rdb: list documents: %w", err)
	}
	defer s.closeRows(rows)

	var out []types.Document
	for rows.Next() {
		var d types.Document
		var id, bid, uid string
		if err := rows.Scan(&id, &bid, &uid, &d.Filename, &d.Path, &d.ByteSize, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("rdb: scan document: %w", err)
		}
		d.ID, _ = types.ParseID(id)
		d.BotID, _ = types.ParseID(bid)
		d.UploaderID, _ = types.ParseID(uid)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDocuments returns the number of documents in a bot's corpus, used
// by the retrieval optimizer's corpus-size hints (§4.3).
func (s *Store) CountDocuments(ctx context.Context, botID types.ID) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM documents WHERE bot_id = %s`, s.ph(1))
	var count int
	if err := s.db.QueryRowContext(ctx, q, botID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("rdb: count documents: %w", err)
	}
	return count, nil
}

// DeleteDocument removes a document row; chunk rows are removed
// separately (ReplaceChunks per document, DeleteChunksForBot per bot) to
// keep cascade behavior
// explicit (database/sql has no ON DELETE CASCADE guarantee portable
// across both dialects this store supports).
func (s *Store) DeleteDocument(ctx context.Context, documentID types.ID) error {
	q := fmt.Sprintf(`DELETE FROM documents WHERE id = %s`, s.ph(1))
	_, err := s.db.ExecContext(ctx, q, documentID.String())
	if err != nil {
		return fmt.Errorf("rdb: delete document: %w", err)
	}
	return nil
}

// --- chunks ---

// ReplaceChunks deletes all existing chunks for documentID and inserts
// the replacement set in one call, the per-document step of C9's
// reprocessing attempt ("delete existing chunks ... store chunks").
func (s *Store) ReplaceChunks(ctx context.Context, documentID, botID types.ID, chunks []types.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rdb: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delQ := fmt.Sprintf(`DELETE FROM document_chunks WHERE document_id = %s`, s.ph(1))
	if _, err := tx.ExecContext(ctx, delQ, documentID.String()); err != nil {
		return fmt.Errorf("rdb: delete existing chunks: %w", err)
	}

	insQ := fmt.Sprintf(`INSERT INTO document_chunks (id, document_id, bot_id, chunk_index, content, embedding_id)
		VALUES (%s,%s,%s,%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, insQ, c.ID.String(), documentID.String(), botID.String(), c.Index, c.Content, c.EmbeddingID); err != nil {
			return fmt.Errorf("rdb: insert chunk: %w", err)
		}
	}

	updQ := fmt.Sprintf(`UPDATE documents SET chunk_count = %s WHERE id = %s`, s.ph(1), s.ph(2))
	if _, err := tx.ExecContext(ctx, updQ, len(chunks), documentID.String()); err != nil {
		return fmt.Errorf("rdb: update chunk count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rdb: commit: %w", err)
	}
	return nil
}

// ListChunks returns every chunk of documentID ordered by index.
func (s *Store) ListChunks(ctx context.Context, documentID types.ID) ([]types.Chunk, error) {
	q := fmt.Sprintf(`SELECT id, document_id, bot_id, chunk_index, content, embedding_id
		FROM document_chunks WHERE document_id = %s ORDER BY chunk_index`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("rdb: list chunks: %w", err)
	}
	defer s.closeRows(rows)

	var out []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var id, did, bid string
		if err := rows.Scan(&id, &did, &bid, &c.Index, &c.Content, &c.EmbeddingID); err != nil {
			return nil, fmt.Errorf("rdb: scan chunk: %w", err)
		}
		c.ID, _ = types.ParseID(id)
		c.DocumentID, _ = types.ParseID(did)
		c.BotID, _ = types.ParseID(bid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks returns the total chunk count across every document of
// botID, used by the vector_store_consistency check.
func (s *Store) CountChunks(ctx context.Context, botID types.ID) (int, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM document_chunks WHERE bot_id = %s`, s.ph(1))
	var n int
	if err := s.db.QueryRowContext(ctx, q, botID.String()).Scan(&n); err != nil {
		return 0, fmt.Errorf("rdb: count chunks: %w", err)
	}
	return n, nil
}

// DeleteChunksForBot removes every chunk belonging to botID, the
// delete_chunks rollback step.
func (s *Store) DeleteChunksForBot(ctx context.Context, botID types.ID) error {
	q := fmt.Sprintf(`DELETE FROM document_chunks WHERE bot_id = %s`, s.ph(1))
	_, err := s.db.ExecContext(ctx, q, botID.String())
	if err != nil {
		return fmt.Errorf("rdb: delete chunks for bot: %w", err)
	}
	return nil
}

// --- collection metadata ---

// GetCollectionMetadata loads the per-bot index descriptor, or returns an
// error if none has been created yet.
func (s *Store) GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error) {
	q := fmt.Sprintf(`SELECT bot_id, collection_name, embedding_provider, embedding_model, embedding_dim, status, points_count
		FROM collection_metadata WHERE bot_id = %s`, s.ph(1))
	var m types.CollectionMetadata
	var bid, status string
	err := s.db.QueryRowContext(ctx, q, botID.String()).Scan(&bid, &m.CollectionName, &m.EmbeddingProvider, &m.EmbeddingModel, &m.EmbeddingDim, &status, &m.PointsCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rdb: collection metadata not found for bot %s", botID)
	}
	if err != nil {
		return nil, fmt.Errorf("rdb: get collection metadata: %w", err)
	}
	m.BotID, _ = types.ParseID(bid)
	m.Status = types.CollectionStatus(status)
	return &m, nil
}

// SaveCollectionMetadata upserts the collection descriptor.
func (s *Store) SaveCollectionMetadata(ctx context.Context, m *types.CollectionMetadata) error {
	var q string
	if s.dialect == DialectPostgres {
		q = `INSERT INTO collection_metadata (bot_id, collection_name, embedding_provider, embedding_model, embedding_dim, status, points_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (bot_id) DO UPDATE SET
				collection_name = EXCLUDED.collection_name,
				embedding_provider = EXCLUDED.embedding_provider,
				embedding_model = EXCLUDED.embedding_model,
				embedding_dim = EXCLUDED.embedding_dim,
				status = EXCLUDED.status,
				points_count = EXCLUDED.points_count`
	} else {
		q = `INSERT INTO collection_metadata (bot_id, collection_name, embedding_provider, embedding_model, embedding_dim, status, points_count)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (bot_id) DO UPDATE SET
				collection_name = excluded.collection_name,
				embedding_provider = excluded.embedding_provider,
				embedding_model = excluded.embedding_model,
				embedding_dim = excluded.embedding_dim,
				status = excluded.status,
				points_count = excluded.points_count`
	}
	_, err := s.db.ExecContext(ctx, q, m.BotID.String(), m.CollectionName, m.EmbeddingProvider, m.EmbeddingModel, m.EmbeddingDim, string(m.Status), m.PointsCount)
	if err != nil {
		return fmt.Errorf("rdb: save collection metadata: %w", err)
	}
	return nil
}

// --- threshold performance logs ---

// InsertPerformanceLog appends one append-only retrieval-attempt
// record, as required by every attempt in C2/C3 regardless of outcome.
func (s *Store) InsertPerformanceLog(ctx context.Context, l *types.ThresholdPerformanceLog) error {
	q := fmt.Sprintf(`INSERT INTO threshold_performance_logs
		(bot_id, ts, threshold_used, provider, model, query_length, query_hash, results_found,
		 min_score, avg_score, max_score, score_stddev, processing_time_ms, success, adjustment_reason)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8),
		s.ph(9), s.ph(10), s.ph(11), s.ph(12), s.ph(13), s.ph(14), s.ph(15))
	_, err := s.db.ExecContext(ctx, q,
		l.BotID.String(), l.Timestamp, l.ThresholdUsed, l.Provider, l.Model, l.QueryLength, l.QueryHash, l.ResultsFound,
		l.MinScore, l.AvgScore, l.MaxScore, l.ScoreStdDev, l.ProcessingTime.Milliseconds(), l.Success, l.AdjustmentReason)
	if err != nil {
		return fmt.Errorf("rdb: insert performance log: %w", err)
	}
	return nil
}

// ListPerformanceLogs returns every log row for botID within the
// lookback window, used by C2's recommendation engine.
func (s *Store) ListPerformanceLogs(ctx context.Context, botID types.ID, since time.Time) ([]types.ThresholdPerformanceLog, error) {
	q := fmt.Sprintf(`SELECT bot_id, ts, threshold_used, provider, model, query_length, query_hash, results_found,
		min_score, avg_score, max_score, score_stddev, processing_time_ms, success, adjustment_reason
		FROM threshold_performance_logs WHERE bot_id = %s AND ts >= %s ORDER BY ts`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, botID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("rdb: list performance logs: %w", err)
	}
	defer s.closeRows(rows)

	var out []types.ThresholdPerformanceLog
	for rows.Next() {
		var l types.ThresholdPerformanceLog
		var bid string
		var procMs int64
		if err := rows.Scan(&bid, &l.Timestamp, &l.ThresholdUsed, &l.Provider, &l.Model, &l.QueryLength, &l.QueryHash,
			&l.ResultsFound, &l.MinScore, &l.AvgScore, &l.MaxScore, &l.ScoreStdDev, &procMs, &l.Success, &l.AdjustmentReason); err != nil {
			return nil, fmt.Errorf("rdb: scan performance log: %w", err)
		}
		l.BotID, _ = types.ParseID(bid)
		l.ProcessingTime = time.Duration(procMs) * time.Millisecond
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		s.log.Warn("failed to close rows", "error", err.Error())
	}
}
