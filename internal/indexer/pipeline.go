package indexer

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/vectorstore"
)

// Embedder converts one text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingError reports which chunk failed to embed.
type EmbeddingError struct {
	ChunkIndex int
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("failed to embed chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Result is a fully built index over one document.
type Result struct {
	Chunks []Chunk
	Index  vectorstore.Index
	Stats  Stats
}

// Pipeline turns raw text into chunks and an index: chunk, embed every chunk, build.
type Pipeline struct {
	embedder    Embedder
	builder     vectorstore.Builder
	chunkSize   int
	concurrency int
}

// NewPipeline creates a new indexing pipeline.
// concurrency bounds the number of in-flight embedding requests.
func NewPipeline(embedder Embedder, builder vectorstore.Builder, chunkSize, concurrency int) *Pipeline {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		embedder:    embedder,
		builder:     builder,
		chunkSize:   chunkSize,
		concurrency: concurrency,
	}
}

// ChunkSize returns the configured chunk size.
func (p *Pipeline) ChunkSize() int {
	return p.chunkSize
}

// Build chunks text, embeds all chunks and builds a fresh index.
// Empty text fails with ErrEmptyDocument since an index needs at least one vector.
func (p *Pipeline) Build(ctx context.Context, text string) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	chunks, err := ChunkText(text, p.chunkSize)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "document chunked", "characters", utf8.RuneCountInString(text), "chunks", len(chunks), "chunk_size", p.chunkSize)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	index, err := p.Reindex(ctx, chunks)
	if err != nil {
		return nil, err
	}

	return &Result{
		Chunks: chunks,
		Index:  index,
		Stats:  ComputeStats(chunks, index.Dim()),
	}, nil
}

// Reindex embeds chunks and builds a new index from the vectors.
func (p *Pipeline) Reindex(ctx context.Context, chunks []Chunk) (vectorstore.Index, error) {
	logger := contextutil.LoggerFromContext(ctx)

	start := time.Now()
	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed chunks", "chunks", len(chunks), "error", err)
		return nil, err
	}

	index, err := p.builder.Build(ctx, vectors)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build index", "vectors", len(vectors), "error", err)
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	logger.InfoContext(ctx, "index built",
		"vectors", index.Len(),
		"dimension", index.Dim(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return index, nil
}

// embedAll embeds chunks concurrently; vectors[i] always belongs to chunks[i].
// The first failure cancels the remaining requests.
func (p *Pipeline) embedAll(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, chunk.Text)
			if err != nil {
				return &EmbeddingError{ChunkIndex: i, Err: err}
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}
