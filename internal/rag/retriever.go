// Package rag ingests a resource into a searchable snapshot and answers
// questions against it with retrieval-augmented prompts.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/indexer"
	"resource-rag/internal/llm"
	"resource-rag/internal/vectorstore"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 2

// Retriever runs the ingest and question flows. It holds no document state;
// callers keep the Snapshot returned by Ingest and pass it to Answer.
type Retriever struct {
	fetcher        Fetcher
	embedder       Embedder
	completer      Completer
	pipeline       *indexer.Pipeline
	topK           int
	rebuildOnQuery bool
	now            func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithRebuildOnQuery re-embeds every chunk and rebuilds the index for each
// question instead of reusing the index built at ingest.
func WithRebuildOnQuery(enabled bool) Option {
	return func(r *Retriever) { r.rebuildOnQuery = enabled }
}

// WithClock overrides the ingestion timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRetriever creates a Retriever. The pipeline must embed with the same embedder used for questions.
func NewRetriever(fetcher Fetcher, embedder Embedder, completer Completer, pipeline *indexer.Pipeline, opts ...Option) *Retriever {
	r := &Retriever{
		fetcher:   fetcher,
		embedder:  embedder,
		completer: completer,
		pipeline:  pipeline,
		topK:      DefaultTopK,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TopK returns the number of chunks retrieved per question.
func (r *Retriever) TopK() int {
	return r.topK
}

// Ingest fetches sourceURL, chunks and embeds it, and builds a fresh index.
// On any failure it returns nil and whatever was partially built is released.
func (r *Retriever) Ingest(ctx context.Context, sourceURL string) (*Snapshot, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	logger.InfoContext(ctx, "ingest started", slog.String("url", sourceURL))

	text, err := r.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fetch resource", slog.String("url", sourceURL), slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to fetch resource: %w", err)
	}

	result, err := r.pipeline.Build(ctx, text)
	if err != nil {
		logger.ErrorContext(ctx, "failed to index resource", slog.String("url", sourceURL), slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to index resource: %w", err)
	}

	snap := &Snapshot{
		Document: Document{
			ID:         uuid.NewString(),
			SourceURL:  sourceURL,
			RawText:    text,
			IngestedAt: r.now(),
		},
		Chunks: result.Chunks,
		Index:  result.Index,
		Stats:  result.Stats,
	}

	logger.InfoContext(ctx, "ingest completed",
		slog.String("document_id", snap.Document.ID),
		slog.Int("characters", result.Stats.Characters),
		slog.Int("chunks", result.Stats.Chunks),
		slog.Int("dimension", result.Stats.Dimension),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return snap, nil
}

// Answer embeds question, retrieves the nearest chunks of snap, builds the
// augmented prompt and returns the completion model's reply verbatim.
// Failures are *QueryError; a nil snap yields kind NoDocument.
func (r *Retriever) Answer(ctx context.Context, snap *Snapshot, question string) (Answer, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if snap == nil || snap.Index == nil {
		return Answer{}, &QueryError{Kind: NoDocument}
	}

	queryVec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed question", slog.String("error", err.Error()))
		return Answer{}, &QueryError{Kind: EmbeddingFailure, Err: fmt.Errorf("failed to embed question: %w", err)}
	}

	index := snap.Index
	if r.rebuildOnQuery {
		rebuilt, err := r.pipeline.Reindex(ctx, snap.Chunks)
		if err != nil {
			kind := RetrievalFailure
			var embedErr *indexer.EmbeddingError
			if errors.As(err, &embedErr) {
				kind = EmbeddingFailure
			}
			return Answer{}, &QueryError{Kind: kind, Err: fmt.Errorf("failed to rebuild index: %w", err)}
		}
		defer func() {
			if err := rebuilt.Release(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "failed to release rebuilt index", slog.String("error", err.Error()))
			}
		}()
		index = rebuilt
	}

	neighbors, err := index.Search(ctx, queryVec, r.topK)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search index", slog.String("error", err.Error()))
		return Answer{}, &QueryError{Kind: RetrievalFailure, Err: fmt.Errorf("failed to search index: %w", err)}
	}

	sources := make([]Source, 0, len(neighbors))
	texts := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ChunkIndex < 0 || n.ChunkIndex >= len(snap.Chunks) {
			return Answer{}, &QueryError{Kind: RetrievalFailure, Err: fmt.Errorf("index returned unknown chunk %d", n.ChunkIndex)}
		}
		text := snap.Chunks[n.ChunkIndex].Text
		sources = append(sources, Source{ChunkIndex: n.ChunkIndex, Distance: n.Distance, Text: text})
		texts = append(texts, text)
	}
	logger.DebugContext(ctx, "chunks retrieved", slog.Any("chunk_indexes", chunkIndexes(neighbors)), slog.Int("k", r.topK))

	prompt := BuildPrompt(texts, question)

	reply, err := r.completer.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		logger.ErrorContext(ctx, "failed to get completion", slog.String("error", err.Error()))
		return Answer{Prompt: prompt, Sources: sources}, &QueryError{Kind: CompletionFailure, Err: fmt.Errorf("failed to get completion: %w", err)}
	}

	logger.InfoContext(ctx, "question answered",
		slog.Int("prompt_length", len(prompt)),
		slog.Int("answer_length", len(reply)),
		slog.Int("sources", len(sources)),
	)
	return Answer{Text: reply, Prompt: prompt, Sources: sources}, nil
}

func chunkIndexes(neighbors []vectorstore.Neighbor) []int {
	out := make([]int, len(neighbors))
	for i, n := range neighbors {
		out[i] = n.ChunkIndex
	}
	return out
}
