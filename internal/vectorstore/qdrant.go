// Package vectorstore adapts the Qdrant client to the ports.VectorStore
// capability: one collection per bot, points keyed by embedding id.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/ports"
	"ragcore/internal/storage/pool"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantConn adapts a *qdrant.Client to pool.Connection. Qdrant's gRPC
// client multiplexes calls over one connection just fine; pooling
// several gives concurrent Search/Upsert calls independent connections
// to fail over across instead of funneling every bot's traffic through
// a single one.
type qdrantConn struct {
	client *qdrant.Client
}

func (c *qdrantConn) IsAlive() bool { return c.client != nil }
func (c *qdrantConn) Close() error  { return c.client.Close() }
func (c *qdrantConn) Reset() error  { return nil }

// QdrantStore implements ports.VectorStore against a pool of Qdrant
// client connections.
type QdrantStore struct {
	pool *pool.ConnectionPool
	log  logging.Logger
}

// NewQdrantStore dials a pool of Qdrant connections per the given
// configuration.
func NewQdrantStore(cfg *config.QdrantConfig, log logging.Logger) (*QdrantStore, error) {
	if log == nil {
		log = logging.NewNoOpLogger()
	}

	factory := func(ctx context.Context) (pool.Connection, error) {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:                   cfg.Host,
			Port:                   cfg.Port,
			APIKey:                 cfg.APIKey,
			UseTLS:                 cfg.UseTLS,
			SkipCompatibilityCheck: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
		}
		return &qdrantConn{client: client}, nil
	}

	p, err := pool.NewConnectionPool(&pool.PoolConfig{
		MaxSize:             maxQdrantConns,
		MinSize:             0,
		MaxIdleTime:         30 * time.Minute,
		MaxLifetime:         2 * time.Hour,
		HealthCheckInterval: time.Minute,
	}, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant connection pool: %w", err)
	}

	return &QdrantStore{pool: p, log: log}, nil
}

const maxQdrantConns = 8

// withClient acquires a pooled connection, runs fn against its
// underlying client, and returns it to the pool regardless of outcome.
func (qs *QdrantStore) withClient(ctx context.Context, fn func(*qdrant.Client) error) error {
	conn, err := qs.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("acquire qdrant connection: %w", err)
	}
	wrapped, ok := conn.(*pool.WrappedConn)
	if !ok {
		return fmt.Errorf("unexpected pooled connection type %T", conn)
	}
	qc, ok := wrapped.Unwrap().(*qdrantConn)
	if !ok {
		return fmt.Errorf("unexpected unwrapped connection type")
	}
	defer func() { _ = wrapped.Close() }()
	return fn(qc.client)
}

// Close releases every pooled connection.
func (qs *QdrantStore) Close() error {
	return qs.pool.Close()
}

// CollectionExists reports whether the named collection exists.
func (qs *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		collections, err := client.ListCollections(ctx)
		if err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}
		for _, c := range collections {
			if c == collection {
				exists = true
				break
			}
		}
		return nil
	})
	return exists, err
}

// CreateCollection creates a collection sized for dim-dimensional cosine
// vectors.
func (qs *QdrantStore) CreateCollection(ctx context.Context, collection string, dim int) error {
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		return client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim), //nolint:gosec // dim is always a small positive embedding size
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	qs.log.Info("created vector collection", "collection", collection, "dim", dim)
	return nil
}

// DeleteCollection deletes a bot's collection, e.g. during reprocessing
// with ForceRecreateCollection.
func (qs *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		return client.DeleteCollection(ctx, collection)
	})
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collection, err)
	}
	qs.log.Info("deleted vector collection", "collection", collection)
	return nil
}

// Upsert writes or replaces points in a collection.
func (qs *QdrantStore) Upsert(ctx context.Context, collection string, points []ports.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &qdrant.PointStruct{
			Id:      qs.stringToPointID(p.ID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Vector}}},
			Payload: qs.mapToPayload(p.Payload),
		}
	}
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		_, err := client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         pbPoints,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search performs a similarity search, optionally filtered by a minimum
// score threshold.
func (qs *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float64) ([]ports.SearchHit, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)), //nolint:gosec // topK is a small positive bound
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold != nil {
		req.ScoreThreshold = qdrant.PtrOf(float32(*scoreThreshold))
	}

	var hits []ports.SearchHit
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		result, err := client.Query(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to search collection %s: %w", collection, err)
		}
		hits = make([]ports.SearchHit, 0, len(result))
		for _, point := range result {
			hits = append(hits, ports.SearchHit{
				ID:      qs.pointIDToString(point.GetId()),
				Score:   float64(point.GetScore()),
				Payload: qs.payloadToMap(point.GetPayload()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Delete removes points by id.
func (qs *QdrantStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qs.stringToPointID(id)
	}
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		_, err := client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d points from %s: %w", len(pointIDs), collection, err)
	}
	return nil
}

// CollectionInfo reports the collection's point count and its declared
// vector size, the latter compared against CollectionMetadata's
// EmbeddingDim by C8's embedding_dimension_consistency check.
func (qs *QdrantStore) CollectionInfo(ctx context.Context, collection string) (*ports.CollectionInfo, error) {
	var out *ports.CollectionInfo
	err := qs.withClient(ctx, func(client *qdrant.Client) error {
		info, err := client.GetCollectionInfo(ctx, collection)
		if err != nil {
			return fmt.Errorf("failed to get collection info for %s: %w", collection, err)
		}
		out = &ports.CollectionInfo{
			PointsCount: int(info.GetPointsCount()),                                                      //nolint:gosec // bounded by realistic corpus sizes
			VectorSize:  int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), //nolint:gosec // embedding dims are small
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (qs *QdrantStore) stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func (qs *QdrantStore) pointIDToString(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func (qs *QdrantStore) mapToPayload(m map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func (qs *QdrantStore) payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		default:
			out[k] = v.String()
		}
	}
	return out
}
