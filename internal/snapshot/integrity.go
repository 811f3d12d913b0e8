package snapshot

import (
	"context"
	"fmt"
	"sync"

	"ragcore/internal/types"
)

// VerifyIntegrity runs the requested subset of checks (AllChecks if
// checkSet is empty) against the bot's current state, at most
// maxConcurrency checks concurrently. The report passes iff no check
// produced a CRITICAL issue.
func (m *Manager) VerifyIntegrity(ctx context.Context, botID types.ID, checkSet []string) (*IntegrityReport, error) {
	if len(checkSet) == 0 {
		checkSet = AllChecks
	}

	report := &IntegrityReport{Results: make(map[string][]Issue), Passed: true}

	sem := make(chan struct{}, m.maxConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, check := range checkSet {
		check := check
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			issues := m.runCheck(ctx, botID, check)

			mu.Lock()
			report.Results[check] = issues
			for _, issue := range issues {
				if issue.Level == LevelCritical {
					report.Passed = false
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return report, nil
}

func (m *Manager) runCheck(ctx context.Context, botID types.ID, check string) []Issue {
	switch check {
	case CheckDocumentChunk:
		return m.checkDocumentChunk(ctx, botID)
	case CheckVectorStore:
		return m.checkVectorStore(ctx, botID)
	case CheckEmbeddingDim:
		return m.checkEmbeddingDim(ctx, botID)
	case CheckMetadata:
		return m.checkMetadata(ctx, botID)
	case CheckReferential:
		return m.checkReferential(ctx, botID)
	case CheckCollection:
		return m.checkCollectionHealth(ctx, botID)
	default:
		return []Issue{{Check: check, Level: LevelWarning, Message: "unknown check"}}
	}
}

// checkDocumentChunk verifies invariant I1: each document's chunk_count
// matches the number of stored chunks.
func (m *Manager) checkDocumentChunk(ctx context.Context, botID types.ID) []Issue {
	docs, err := m.rdb.ListDocuments(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckDocumentChunk, Level: LevelCritical, Message: fmt.Sprintf("failed to list documents: %v", err)}}
	}

	var issues []Issue
	for _, doc := range docs {
		chunks, err := m.rdb.ListChunks(ctx, doc.ID)
		if err != nil {
			issues = append(issues, Issue{Check: CheckDocumentChunk, Level: LevelCritical, Message: fmt.Sprintf("document %s: failed to list chunks: %v", doc.ID, err)})
			continue
		}
		if len(chunks) != doc.ChunkCount {
			issues = append(issues, Issue{
				Check:   CheckDocumentChunk,
				Level:   LevelCritical,
				Message: fmt.Sprintf("document %s: chunk_count=%d but %d chunks stored", doc.ID, doc.ChunkCount, len(chunks)),
			})
			continue
		}

		for i, c := range sortedByIndex(chunks) {
			if c.Index != i {
				issues = append(issues, Issue{
					Check:   CheckDocumentChunk,
					Level:   LevelCritical,
					Message: fmt.Sprintf("document %s: chunk index not contiguous at position %d (got %d)", doc.ID, i, c.Index),
				})
				break
			}
		}
	}
	return issues
}

// checkVectorStore verifies invariant I2/§4.8 vector_store_consistency:
// the bot's collection must exist, and its point count must match the
// number of chunks recorded in RDB. Connectivity failures are tolerated
// as warnings, not criticals — some deployments run rollback with no
// live vector store.
func (m *Manager) checkVectorStore(ctx context.Context, botID types.ID) []Issue {
	if m.vectors == nil {
		return []Issue{{Check: CheckVectorStore, Level: LevelWarning, Message: "no vector store configured"}}
	}

	collMeta, err := m.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckVectorStore, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection metadata: %v", err)}}
	}

	exists, err := m.vectors.CollectionExists(ctx, collMeta.CollectionName)
	if err != nil {
		return []Issue{{Check: CheckVectorStore, Level: LevelWarning, Message: fmt.Sprintf("vector store unreachable: %v", err)}}
	}
	if !exists {
		return []Issue{{Check: CheckVectorStore, Level: LevelCritical, Message: fmt.Sprintf("collection %s does not exist", collMeta.CollectionName)}}
	}

	dbChunkCount, err := m.rdb.CountChunks(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckVectorStore, Level: LevelWarning, Message: fmt.Sprintf("failed to count chunks: %v", err)}}
	}
	info, err := m.vectors.CollectionInfo(ctx, collMeta.CollectionName)
	if err != nil {
		return []Issue{{Check: CheckVectorStore, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection info: %v", err)}}
	}
	if dbChunkCount != info.PointsCount {
		return []Issue{{
			Check:   CheckVectorStore,
			Level:   LevelCritical,
			Message: fmt.Sprintf("db_chunk_count=%d does not match vector_count=%d", dbChunkCount, info.PointsCount),
		}}
	}
	return nil
}

// checkEmbeddingDim verifies invariant I4: the collection's declared
// embedding dimension is set, and matches the vector store's actual
// configured vector size.
func (m *Manager) checkEmbeddingDim(ctx context.Context, botID types.ID) []Issue {
	collMeta, err := m.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckEmbeddingDim, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection metadata: %v", err)}}
	}
	if collMeta.EmbeddingDim <= 0 {
		return []Issue{{Check: CheckEmbeddingDim, Level: LevelCritical, Message: "collection has no declared embedding dimension"}}
	}

	if m.vectors == nil {
		return nil
	}
	info, err := m.vectors.CollectionInfo(ctx, collMeta.CollectionName)
	if err != nil {
		return []Issue{{Check: CheckEmbeddingDim, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection info: %v", err)}}
	}
	if info.VectorSize > 0 && info.VectorSize != collMeta.EmbeddingDim {
		return []Issue{{
			Check:   CheckEmbeddingDim,
			Level:   LevelCritical,
			Message: fmt.Sprintf("vector store declares dimension %d but collection metadata declares %d", info.VectorSize, collMeta.EmbeddingDim),
		}}
	}
	return nil
}

// checkMetadata verifies collection metadata is internally consistent,
// including that its cached points_count matches the actual chunk count.
func (m *Manager) checkMetadata(ctx context.Context, botID types.ID) []Issue {
	collMeta, err := m.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckMetadata, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection metadata: %v", err)}}
	}
	var issues []Issue
	if collMeta.EmbeddingProvider == "" {
		issues = append(issues, Issue{Check: CheckMetadata, Level: LevelWarning, Message: "collection metadata missing embedding_provider"})
	}
	if collMeta.EmbeddingModel == "" {
		issues = append(issues, Issue{Check: CheckMetadata, Level: LevelWarning, Message: "collection metadata missing embedding_model"})
	}

	chunkCount, err := m.rdb.CountChunks(ctx, botID)
	if err != nil {
		issues = append(issues, Issue{Check: CheckMetadata, Level: LevelWarning, Message: fmt.Sprintf("failed to count chunks: %v", err)})
	} else if collMeta.PointsCount != chunkCount {
		issues = append(issues, Issue{
			Check:   CheckMetadata,
			Level:   LevelWarning,
			Message: fmt.Sprintf("metadata points_count=%d does not match actual chunk count=%d", collMeta.PointsCount, chunkCount),
		})
	}
	return issues
}

// checkReferential verifies invariant I3: every chunk has a non-empty
// embedding id, and every chunk/document belongs to botID.
func (m *Manager) checkReferential(ctx context.Context, botID types.ID) []Issue {
	docs, err := m.rdb.ListDocuments(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckReferential, Level: LevelCritical, Message: fmt.Sprintf("failed to list documents: %v", err)}}
	}

	var issues []Issue
	for _, doc := range docs {
		if doc.BotID != botID {
			issues = append(issues, Issue{Check: CheckReferential, Level: LevelCritical, Message: fmt.Sprintf("document %s references bot %s, expected %s", doc.ID, doc.BotID, botID)})
		}
		chunks, err := m.rdb.ListChunks(ctx, doc.ID)
		if err != nil {
			continue
		}
		for _, c := range chunks {
			if c.DocumentID != doc.ID {
				issues = append(issues, Issue{Check: CheckReferential, Level: LevelCritical, Message: fmt.Sprintf("chunk %s references document %s, expected %s", c.ID, c.DocumentID, doc.ID)})
			}
			if c.EmbeddingID == "" {
				issues = append(issues, Issue{Check: CheckReferential, Level: LevelCritical, Message: fmt.Sprintf("chunk %s has no embedding id", c.ID)})
			}
		}
	}
	return issues
}

// checkCollectionHealth verifies the collection is in a usable lifecycle
// state, and flags the case of a missing collection with chunks still
// recorded against it in RDB.
func (m *Manager) checkCollectionHealth(ctx context.Context, botID types.ID) []Issue {
	collMeta, err := m.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return []Issue{{Check: CheckCollection, Level: LevelWarning, Message: fmt.Sprintf("failed to load collection metadata: %v", err)}}
	}

	var issues []Issue
	if collMeta.Status == types.CollectionMigrating {
		issues = append(issues, Issue{Check: CheckCollection, Level: LevelWarning, Message: "collection is mid-migration"})
	}
	if collMeta.Status == types.CollectionInactive {
		issues = append(issues, Issue{Check: CheckCollection, Level: LevelInfo, Message: "collection is inactive"})
	}

	if m.vectors == nil {
		return issues
	}
	exists, err := m.vectors.CollectionExists(ctx, collMeta.CollectionName)
	if err != nil {
		issues = append(issues, Issue{Check: CheckCollection, Level: LevelWarning, Message: fmt.Sprintf("vector store unreachable: %v", err)})
		return issues
	}
	if !exists {
		chunkCount, cErr := m.rdb.CountChunks(ctx, botID)
		if cErr == nil && chunkCount > 0 {
			issues = append(issues, Issue{
				Check:   CheckCollection,
				Level:   LevelCritical,
				Message: fmt.Sprintf("collection %s does not exist but %d chunks are recorded", collMeta.CollectionName, chunkCount),
			})
		}
	}
	return issues
}

func sortedByIndex(chunks []types.Chunk) []types.Chunk {
	out := make([]types.Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Index > out[j].Index; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
