package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"resource-rag/internal/contextutil"
)

const upsertBatchSize = 256

// tieSlack is how many extra hits a search asks Qdrant for, so points tied at
// the k-th distance can still be ordered by chunk index before trimming.
const tieSlack = 8

// QdrantBuilder builds indexes backed by a dedicated Qdrant collection per build.
// Collections use Euclidean distance and are searched exactly, so results match
// FlatIndex unless more than tieSlack extra points tie at the k-th distance.
type QdrantBuilder struct {
	client           *qdrant.Client
	collectionPrefix string
}

// NewQdrantBuilder creates a new Qdrant-backed builder.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func NewQdrantBuilder(urlStr, collectionPrefix string) (*QdrantBuilder, error) {
	host, port, err := grpcAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantBuilder{
		client:           client,
		collectionPrefix: collectionPrefix,
	}, nil
}

// grpcAddress derives the Qdrant gRPC host and port from its HTTP URL.
func grpcAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// Build creates a new collection sized to the vectors and upserts them.
// Point IDs are chunk positions.
func (b *QdrantBuilder) Build(ctx context.Context, vectors [][]float32) (Index, error) {
	logger := contextutil.LoggerFromContext(ctx)

	dim, err := checkDimensions(vectors)
	if err != nil {
		return nil, err
	}

	collection := collectionName(b.collectionPrefix)
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", dim)

	idx := &qdrantIndex{client: b.client, collection: collection, dim: dim, n: len(vectors)}

	wait := true
	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(vectors))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(vectors[i]...),
			})
		}

		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to upsert points", "collection", collection, "count", len(points), "error", err)
			_ = idx.Release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("failed to upsert points: %w", err)
		}
	}

	logger.InfoContext(ctx, "upserted points", "collection", collection, "count", len(vectors))
	return idx, nil
}

// Ping checks that the Qdrant server answers.
func (b *QdrantBuilder) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (b *QdrantBuilder) Close() error {
	return b.client.Close()
}

func collectionName(prefix string) string {
	if prefix == "" {
		prefix = "resource"
	}
	return prefix + "-" + uuid.NewString()
}

type qdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
	n          int
}

// Search runs an exact query and converts Euclidean scores to squared distances.
func (x *qdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(query) != x.dim {
		return nil, &DimensionMismatchError{Position: -1, Want: x.dim, Got: len(query)}
	}

	limit := searchLimit(k, x.n)
	exact := true
	scoredPoints, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		Params:         &qdrant.SearchParams{Exact: &exact},
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", x.collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	neighbors := neighborsFromScored(scoredPoints)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	logger.DebugContext(ctx, "search completed", "collection", x.collection, "k", k, "results", len(neighbors))
	return neighbors, nil
}

// searchLimit is the number of hits requested for a top-k query over n points.
func searchLimit(k, n int) uint64 {
	return uint64(min(k+tieSlack, n))
}

func (x *qdrantIndex) Len() int { return x.n }

func (x *qdrantIndex) Dim() int { return x.dim }

// Release drops the backing collection.
func (x *qdrantIndex) Release(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", x.collection, err)
	}
	return nil
}

// neighborsFromScored maps Qdrant hits to neighbors. Points without a numeric ID are skipped.
func neighborsFromScored(points []*qdrant.ScoredPoint) []Neighbor {
	neighbors := make([]Neighbor, 0, len(points))
	for _, p := range points {
		if p == nil || p.Id == nil {
			continue
		}
		num, ok := p.Id.PointIdOptions.(*qdrant.PointId_Num)
		if !ok {
			continue
		}
		d := float64(p.Score)
		neighbors = append(neighbors, Neighbor{ChunkIndex: int(num.Num), Distance: d * d})
	}
	SortNeighbors(neighbors)
	return neighbors
}
