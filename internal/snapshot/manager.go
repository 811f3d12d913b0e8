package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/types"
)

// CheckLevel is the severity of one integrity issue.
type CheckLevel string

const (
	LevelCritical CheckLevel = "CRITICAL"
	LevelWarning  CheckLevel = "WARNING"
	LevelInfo     CheckLevel = "INFO"
)

// Issue is one finding from an integrity check.
type Issue struct {
	Check   string     `json:"check"`
	Level   CheckLevel `json:"level"`
	Message string     `json:"message"`
}

// IntegrityReport is the result of VerifyIntegrity: one issue list per
// check that ran.
type IntegrityReport struct {
	Results map[string][]Issue `json:"results"`
	Passed  bool               `json:"passed"`
}

// The six integrity checks named in spec §4.8.
const (
	CheckDocumentChunk = "document_chunk"
	CheckVectorStore   = "vector_store"
	CheckEmbeddingDim  = "embedding_dim"
	CheckMetadata      = "metadata"
	CheckReferential   = "referential"
	CheckCollection    = "collection_health"
)

// AllChecks is the full set of checks VerifyIntegrity can run.
var AllChecks = []string{CheckDocumentChunk, CheckVectorStore, CheckEmbeddingDim, CheckMetadata, CheckReferential, CheckCollection}

// coreChecks are the three checks post-rollback verification always runs.
var coreChecks = []string{CheckDocumentChunk, CheckReferential, CheckCollection}

// RDB is the slice of rdb.Store the snapshot manager needs: reads for
// checksumming and integrity checks, writes for rollback's destructive
// reset.
type RDB interface {
	ListDocuments(ctx context.Context, botID types.ID) ([]types.Document, error)
	ListChunks(ctx context.Context, documentID types.ID) ([]types.Chunk, error)
	CountChunks(ctx context.Context, botID types.ID) (int, error)
	GetCollectionMetadata(ctx context.Context, botID types.ID) (*types.CollectionMetadata, error)
	SaveCollectionMetadata(ctx context.Context, m *types.CollectionMetadata) error
	DeleteChunksForBot(ctx context.Context, botID types.ID) error
	ResetDocumentChunkCounts(ctx context.Context, botID types.ID) error
}

// Manager implements snapshot creation, integrity verification, and
// rollback (C8).
type Manager struct {
	rdb            RDB
	vectors        ports.VectorStore
	snapshots      *BlobStore
	log            logging.Logger
	retention      time.Duration
	maxSampleSize  int
	maxConcurrency int

	mu        sync.Mutex
	cache     map[string]*types.Snapshot
	rollbackMu sync.Mutex // global semaphore: at most one rollback in flight
}

// Config configures a Manager.
type Config struct {
	SnapshotDir    string
	Retention      time.Duration
	MaxSampleSize  int
	MaxConcurrency int
}

// NewManager constructs a snapshot manager backed by a blob store at
// cfg.SnapshotDir.
func NewManager(cfg Config, rdb RDB, vectors ports.VectorStore, log logging.Logger) (*Manager, error) {
	store, err := NewBlobStore(cfg.SnapshotDir)
	if err != nil {
		return nil, err
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.MaxSampleSize <= 0 {
		cfg.MaxSampleSize = 1000
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Manager{
		rdb:            rdb,
		vectors:        vectors,
		snapshots:      store,
		log:            log,
		retention:      cfg.Retention,
		maxSampleSize:  cfg.MaxSampleSize,
		maxConcurrency: cfg.MaxConcurrency,
		cache:          make(map[string]*types.Snapshot),
	}, nil
}

// CreateSnapshot assembles and durably stores a Snapshot record for botID.
// If snapshotID is the nil ID, one is generated.
func (m *Manager) CreateSnapshot(ctx context.Context, botID types.ID, snapshotID types.ID) (*types.Snapshot, error) {
	if snapshotID.IsNil() {
		snapshotID = types.NewID()
	}

	docs, err := m.rdb.ListDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for snapshot: %w", err)
	}

	collMeta, err := m.rdb.GetCollectionMetadata(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection metadata for snapshot: %w", err)
	}

	docChecksums := make(map[string]string, len(docs))
	chunkChecksums := make(map[string]string)
	totalChunks := 0
	for _, doc := range docs {
		docChecksums[doc.ID.String()] = checksumDocument(doc)

		chunks, err := m.rdb.ListChunks(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks for document %s: %w", doc.ID, err)
		}
		totalChunks += len(chunks)
		for _, c := range chunks {
			if len(chunkChecksums) >= m.maxSampleSize {
				break
			}
			chunkChecksums[c.ID.String()] = checksumChunk(c)
		}
	}

	snap := &types.Snapshot{
		SnapshotID:        snapshotID,
		BotID:             botID,
		CreatedAt:         time.Now(),
		DocCount:          len(docs),
		ChunkCount:        totalChunks,
		VectorCount:       collMeta.PointsCount,
		CollectionConfig:  *collMeta,
		DocumentChecksums: docChecksums,
		ChunkChecksums:    chunkChecksums,
	}

	if err := m.snapshots.WriteJSON(snap.SnapshotID.String(), snap); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	m.mu.Lock()
	m.cache[snap.SnapshotID.String()] = snap
	m.mu.Unlock()

	m.log.Info("created snapshot", "snapshot_id", snap.SnapshotID.String(), "bot_id", botID.String(), "doc_count", snap.DocCount)
	return snap, nil
}

// GetSnapshot loads a snapshot by id, preferring the in-memory cache.
func (m *Manager) GetSnapshot(snapshotID types.ID) (*types.Snapshot, error) {
	m.mu.Lock()
	if snap, ok := m.cache[snapshotID.String()]; ok {
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	var snap types.Snapshot
	if err := m.snapshots.ReadJSON(snapshotID.String(), &snap); err != nil {
		return nil, fmt.Errorf("snapshot %s not found: %w", snapshotID, err)
	}
	return &snap, nil
}

// ListSnapshots returns every retained snapshot for botID, most recent
// first.
func (m *Manager) ListSnapshots(botID types.ID) ([]*types.Snapshot, error) {
	ids, err := m.snapshots.List()
	if err != nil {
		return nil, err
	}

	var out []*types.Snapshot
	for _, id := range ids {
		var snap types.Snapshot
		if err := m.snapshots.ReadJSON(id, &snap); err != nil {
			m.log.Warn("skipping unreadable snapshot", "id", id, "error", err.Error())
			continue
		}
		if snap.BotID == botID {
			out = append(out, &snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CleanupOldSnapshots purges snapshots older than the configured
// retention period.
func (m *Manager) CleanupOldSnapshots() (int, error) {
	cutoff := time.Now().Add(-m.retention)
	return m.snapshots.CleanupOlderThan(cutoff)
}

func checksumDocument(d types.Document) string {
	payload := fmt.Sprintf("%s|%s|%d|%d", d.ID, d.Filename, d.ByteSize, d.ChunkCount)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func checksumChunk(c types.Chunk) string {
	sum := sha256.Sum256([]byte(c.Content))
	return hex.EncodeToString(sum[:])
}
