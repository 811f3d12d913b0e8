// Package reprocess implements the document reprocessing pipeline (C9):
// init/backup/processing/integrity/cleanup phases over a bot's corpus,
// with per-document retry, checkpointing, and cancellation (§4.9).
package reprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"ragcore/internal/credentials"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/snapshot"
	"ragcore/internal/types"
)

// RDB is the slice of rdb.Store the pipeline reads and writes.
type RDB interface {
	ListDocuments(ctx context.Context, botID types.ID) ([]types.Document, error)
	ListChunks(ctx context.Context, documentID types.ID) ([]types.Chunk, error)
	ReplaceChunks(ctx context.Context, documentID, botID types.ID, chunks []types.Chunk) error
	GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error)
	SaveCollectionMetadata(ctx context.Context, m *types.CollectionMetadata) error
}

// Embedder is the slice of ports.EmbeddingProvider the pipeline needs.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error)
}

// CredentialResolver is C1's capability, scoped to what reprocessing needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, botID, callerID types.ID, provider string, opts credentials.Options) (*credentials.Resolution, error)
}

// IntegrityChecker is C8's verification entry point.
type IntegrityChecker interface {
	VerifyIntegrity(ctx context.Context, botID types.ID, checkSet []string) (*snapshot.IntegrityReport, error)
	CreateSnapshot(ctx context.Context, botID types.ID, snapshotID types.ID) (*types.Snapshot, error)
	Rollback(ctx context.Context, botID, snapshotID types.ID) (*snapshot.RollbackReport, error)
}

const (
	defaultMaxConcurrentDocuments = 5
	defaultCheckpointInterval     = 5
	maxAttemptsPerDocument        = 3
)

// Config configures a Pipeline.
type Config struct {
	MaxConcurrentDocuments int
	CheckpointInterval     int
	CheckpointDir          string

	// RetryBackoff overrides the §4.9 per-attempt backoff (2·2^attempt
	// seconds by default); tests substitute a near-zero function.
	RetryBackoff func(attempt int) time.Duration
}

// Pipeline implements C9's Reprocess operation.
type Pipeline struct {
	rdb         RDB
	vectors     ports.VectorStore
	processor   ports.DocumentProcessor
	embedder    Embedder
	credentials CredentialResolver
	files       ports.FileStore
	integrity   IntegrityChecker
	checkpoints *snapshot.BlobStore
	log         logging.Logger

	maxConcurrentDocuments int
	checkpointInterval     int
	retryBackoff           func(attempt int) time.Duration

	mu         sync.Mutex
	cancelled  map[types.ID]bool
	running    map[types.ID]*types.RunningOperation
}

// New constructs a reprocessing Pipeline.
func New(cfg Config, rdb RDB, vectors ports.VectorStore, processor ports.DocumentProcessor, embedder Embedder, creds CredentialResolver, files ports.FileStore, integrity IntegrityChecker, log logging.Logger) (*Pipeline, error) {
	if cfg.MaxConcurrentDocuments <= 0 {
		cfg.MaxConcurrentDocuments = defaultMaxConcurrentDocuments
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = func(attempt int) time.Duration { return time.Duration(2*(1<<attempt)) * time.Second }
	}
	checkpoints, err := snapshot.NewBlobStore(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Pipeline{
		rdb:                    rdb,
		vectors:                vectors,
		processor:              processor,
		embedder:               embedder,
		credentials:            creds,
		files:                  files,
		integrity:              integrity,
		checkpoints:            checkpoints,
		log:                    log,
		maxConcurrentDocuments: cfg.MaxConcurrentDocuments,
		checkpointInterval:     cfg.CheckpointInterval,
		retryBackoff:           cfg.RetryBackoff,
		cancelled:              make(map[types.ID]bool),
		running:                make(map[types.ID]*types.RunningOperation),
	}, nil
}

// Cancel marks operationID cancelled; in-flight document work is allowed
// to finish but no new documents start (§4.9).
func (p *Pipeline) Cancel(operationID types.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[operationID] = true
}

func (p *Pipeline) isCancelled(operationID types.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled[operationID]
}

// Status returns the live progress record for operationID, if running.
func (p *Pipeline) Status(operationID types.ID) (*types.RunningOperation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.running[operationID]
	return r, ok
}

func (p *Pipeline) setRunning(op *types.RunningOperation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[op.OperationID] = op
}

func (p *Pipeline) clearRunning(operationID types.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, operationID)
	delete(p.cancelled, operationID)
}

// Run executes the full §4.9 phase sequence for one reprocessing
// operation and returns its terminal report. The caller (C10) is
// responsible for running this asynchronously and applying its own
// per-operation timeout.
func (p *Pipeline) Run(ctx context.Context, operationID, botID, callerID types.ID, opts types.ReprocessOptions) (*types.CompletedReport, error) {
	started := time.Now()
	report := &types.CompletedReport{OperationID: operationID, BotID: botID, StartedAt: started}

	running := &types.RunningOperation{OperationID: operationID, BotID: botID, StartedAt: started, Phase: types.PhaseInit}
	p.setRunning(running)
	defer p.clearRunning(operationID)

	meta, err := p.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("reprocess: bot %s has no collection: %w", botID.String(), err)
	}

	if opts.ForceRecreateCollection {
		if err := p.vectors.DeleteCollection(ctx, meta.CollectionName); err != nil {
			p.log.Warn("reprocess: delete collection for recreate failed", "bot_id", botID.String(), "error", err.Error())
		}
		if err := p.vectors.CreateCollection(ctx, meta.CollectionName, meta.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("reprocess: recreate collection: %w", err)
		}
	} else if exists, _ := p.vectors.CollectionExists(ctx, meta.CollectionName); !exists {
		if err := p.vectors.CreateCollection(ctx, meta.CollectionName, meta.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("reprocess: ensure collection: %w", err)
		}
	}

	running.Phase = types.PhaseBackup
	backupSnapshotID, backupCreated := p.backup(ctx, botID)

	running.Phase = types.PhaseProcessing
	docs, err := p.rdb.ListDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("reprocess: list documents: %w", err)
	}
	running.TotalDocuments = len(docs)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	batches := batchDocuments(docs, batchSize)
	running.TotalBatches = len(batches)

	var processedIDs, failedIDs []types.ID
	for batchIdx, batch := range batches {
		if p.isCancelled(operationID) {
			report.Cancelled = len(docs) - running.Processed
			break
		}

		running.CurrentBatch = batchIdx + 1
		results := p.processBatch(ctx, botID, callerID, meta, batch)
		for _, r := range results {
			running.Processed++
			if r.Success {
				running.Successful++
				processedIDs = append(processedIDs, r.DocumentID)
			} else {
				running.Failed++
				failedIDs = append(failedIDs, r.DocumentID)
			}
			report.Results = append(report.Results, r)
			report.TotalChunksFound += r.ChunksFound
			if r.Success {
				report.TotalChunksStored += r.ChunksFound
			} else {
				report.Errors = append(report.Errors, r)
			}
		}

		if (batchIdx+1)%p.checkpointInterval == 0 {
			p.writeCheckpoint(operationID, botID, types.PhaseProcessing, processedIDs, failedIDs, batchIdx+1, len(batches), backupCreated)
		}
	}

	running.Phase = types.PhaseIntegrity
	if opts.EnableRollback && p.integrity != nil {
		integrityReport, err := p.integrity.VerifyIntegrity(ctx, botID, snapshot.AllChecks)
		if err == nil && !integrityReport.Passed {
			p.log.Warn("reprocess: integrity check failed after reprocessing, rolling back", "bot_id", botID.String())
			if backupCreated && !backupSnapshotID.IsNil() {
				if _, rbErr := p.integrity.Rollback(ctx, botID, backupSnapshotID); rbErr == nil {
					report.RollbackPerformed = true
				}
			}
		} else if err == nil {
			report.IntegrityVerified = true
		}
	}

	running.Phase = types.PhaseCleanup
	p.cleanup(operationID)

	report.Total = len(docs)
	report.Successful = running.Successful
	report.Failed = running.Failed
	report.EndedAt = time.Now()
	report.Duration = report.EndedAt.Sub(started)
	return report, nil
}

func (p *Pipeline) backup(ctx context.Context, botID types.ID) (types.ID, bool) {
	if p.integrity == nil {
		return types.NilID, false
	}
	snap, err := p.integrity.CreateSnapshot(ctx, botID, types.NilID)
	if err != nil {
		p.log.Warn("reprocess: full snapshot backup failed, continuing without rollback safety net", "bot_id", botID.String(), "error", err.Error())
		return types.NilID, false
	}
	return snap.SnapshotID, true
}

func (p *Pipeline) writeCheckpoint(operationID, botID types.ID, phase types.Phase, processedIDs, failedIDs []types.ID, currentBatch, totalBatches int, backupCreated bool) {
	cp := types.Checkpoint{
		OperationID:   operationID,
		BotID:         botID,
		Phase:         phase,
		ProcessedIDs:  processedIDs,
		FailedIDs:     failedIDs,
		CurrentBatch:  currentBatch,
		TotalBatches:  totalBatches,
		BackupCreated: backupCreated,
	}
	if err := p.checkpoints.WriteJSON(operationID.String(), cp); err != nil {
		p.log.Warn("reprocess: checkpoint write failed", "operation_id", operationID.String(), "error", err.Error())
	}
}

// LoadCheckpoint reads a previously written checkpoint for operationID, if
// one exists, so a restarted process can resume (§4.9).
func (p *Pipeline) LoadCheckpoint(operationID types.ID) (*types.Checkpoint, bool) {
	var cp types.Checkpoint
	if err := p.checkpoints.ReadJSON(operationID.String(), &cp); err != nil {
		return nil, false
	}
	return &cp, true
}

func (p *Pipeline) cleanup(operationID types.ID) {
	if err := p.checkpoints.Delete(operationID.String()); err != nil {
		p.log.Warn("reprocess: checkpoint cleanup failed", "operation_id", operationID.String(), "error", err.Error())
	}
}

func batchDocuments(docs []types.Document, batchSize int) [][]types.Document {
	var batches [][]types.Document
	for i := 0; i < len(docs); i += batchSize {
		end := i + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[i:end])
	}
	return batches
}

// processBatch processes up to maxConcurrentDocuments documents at once
// using a bounded semaphore (§4.9). A failed document never aborts the
// batch (error isolation).
func (p *Pipeline) processBatch(ctx context.Context, botID, callerID types.ID, meta *types.CollectionMetadata, batch []types.Document) []types.DocumentResult {
	sem := make(chan struct{}, p.maxConcurrentDocuments)
	results := make([]types.DocumentResult, len(batch))

	var wg sync.WaitGroup
	for i, doc := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, doc types.Document) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.processDocumentWithRetry(ctx, botID, callerID, meta, doc)
		}(i, doc)
	}
	wg.Wait()
	return results
}

func (p *Pipeline) processDocumentWithRetry(ctx context.Context, botID, callerID types.ID, meta *types.CollectionMetadata, doc types.Document) types.DocumentResult {
	var lastErr error
	for attempt := 0; attempt < maxAttemptsPerDocument; attempt++ {
		if attempt > 0 {
			backoff := p.retryBackoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return types.DocumentResult{DocumentID: doc.ID, Success: false, Error: ctx.Err().Error(), ErrorType: "cancelled"}
			}
		}

		chunksFound, err := p.processDocument(ctx, botID, callerID, meta, doc)
		if err == nil {
			return types.DocumentResult{DocumentID: doc.ID, Success: true, ChunksFound: chunksFound}
		}
		lastErr = err
		p.log.Warn("reprocess: document attempt failed", "document_id", doc.ID.String(), "attempt", attempt+1, "error", err.Error())
	}
	return types.DocumentResult{DocumentID: doc.ID, Success: false, Error: lastErr.Error(), ErrorType: "processing_error"}
}

func (p *Pipeline) processDocument(ctx context.Context, botID, callerID types.ID, meta *types.CollectionMetadata, doc types.Document) (int, error) {
	oldChunks, err := p.rdb.ListChunks(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("list existing chunks: %w", err)
	}

	data, err := p.files.ReadFile(ctx, doc.Path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	processed, _, err := p.processor.Process(ctx, data, doc.Filename, doc.ID.String())
	if err != nil {
		return 0, fmt.Errorf("parse document: %w", err)
	}
	if len(processed) == 0 {
		return 0, nil
	}

	uniqueTexts, textIndex := dedupeTexts(processed)

	resolution, err := p.credentials.Resolve(ctx, botID, callerID, meta.EmbeddingProvider, credentials.Options{Validate: false})
	if err != nil {
		return 0, fmt.Errorf("resolve embedding credential: %w", err)
	}

	vectors, err := p.embedder.GenerateEmbeddings(ctx, meta.EmbeddingModel, uniqueTexts, resolution.APIKey)
	if err != nil {
		return 0, fmt.Errorf("generate embeddings: %w", err)
	}

	chunks := make([]types.Chunk, len(processed))
	points := make([]ports.VectorPoint, len(processed))
	for i, pc := range processed {
		embeddingID := types.NewID().String()
		chunk := types.Chunk{
			ID:          types.NewID(),
			DocumentID:  doc.ID,
			BotID:       botID,
			Index:       pc.ChunkIndex,
			Content:     pc.Content,
			EmbeddingID: embeddingID,
		}
		chunks[i] = chunk
		points[i] = ports.VectorPoint{
			ID:     embeddingID,
			Vector: vectors[textIndex[i]],
			Payload: map[string]interface{}{
				ports.PayloadChunkID:    chunk.ID.String(),
				ports.PayloadDocumentID: doc.ID.String(),
				ports.PayloadBotID:      botID.String(),
				ports.PayloadChunkIndex: chunk.Index,
				ports.PayloadContent:    chunk.Content,
			},
		}
	}

	if staleIDs := embeddingIDs(oldChunks); len(staleIDs) > 0 {
		if err := p.vectors.Delete(ctx, meta.CollectionName, staleIDs); err != nil {
			p.log.Warn("reprocess: delete stale vectors failed", "document_id", doc.ID.String(), "error", err.Error())
		}
	}

	if err := p.vectors.Upsert(ctx, meta.CollectionName, points); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}

	if err := p.rdb.ReplaceChunks(ctx, doc.ID, botID, chunks); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}

	return len(chunks), nil
}

// dedupeTexts returns the unique chunk texts to embed plus, per original
// chunk index, the index into that unique slice — so two chunks with
// identical content only cost one embedding call.
func dedupeTexts(chunks []ports.ProcessedChunk) ([]string, []int) {
	seen := make(map[string]int, len(chunks))
	var unique []string
	mapping := make([]int, len(chunks))

	for i, c := range chunks {
		hash := contentHash(c.Content)
		idx, ok := seen[hash]
		if !ok {
			idx = len(unique)
			seen[hash] = idx
			unique = append(unique, c.Content)
		}
		mapping[i] = idx
	}
	return unique, mapping
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func embeddingIDs(chunks []types.Chunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.EmbeddingID != "" {
			ids = append(ids, c.EmbeddingID)
		}
	}
	return ids
}
