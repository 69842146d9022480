package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"resource-rag/internal/vectorstore"
	vectorstore_mocks "resource-rag/internal/vectorstore/mocks"

	"go.uber.org/mock/gomock"
)

// letterEmbedder maps a text to counts of a, b, c and d. It is deterministic.
type letterEmbedder struct {
	calls   atomic.Int32
	delay   func(text string) time.Duration
	failOn  string
	failErr error
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.delay != nil {
		select {
		case <-time.After(e.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, e.failErr
	}
	vec := make([]float32, 4)
	for _, r := range text {
		switch r {
		case 'a', 'A':
			vec[0]++
		case 'b', 'B':
			vec[1]++
		case 'c', 'C':
			vec[2]++
		case 'd', 'D':
			vec[3]++
		}
	}
	return vec, nil
}

func TestNewPipeline(t *testing.T) {
	p := NewPipeline(&letterEmbedder{}, vectorstore.NewFlatBuilder(), 0, 0)
	if p == nil {
		t.Fatal("NewPipeline() returned nil")
	}
	if p.ChunkSize() != DefaultChunkSize {
		t.Errorf("ChunkSize() = %d, want %d", p.ChunkSize(), DefaultChunkSize)
	}
	if p.concurrency != 1 {
		t.Errorf("concurrency = %d, want 1", p.concurrency)
	}
}

func TestPipeline_Build(t *testing.T) {
	embedder := &letterEmbedder{}
	p := NewPipeline(embedder, vectorstore.NewFlatBuilder(), DefaultChunkSize, 4)

	text := strings.Repeat("ABCD", 1000)
	result, err := p.Build(context.Background(), text)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(result.Chunks) != 2 {
		t.Fatalf("Build() chunks = %d, want 2", len(result.Chunks))
	}
	if len(result.Chunks[0].Text) != 2048 || len(result.Chunks[1].Text) != 1952 {
		t.Errorf("chunk sizes = %d, %d, want 2048, 1952", len(result.Chunks[0].Text), len(result.Chunks[1].Text))
	}
	if result.Index.Len() != 2 || result.Index.Dim() != 4 {
		t.Errorf("index len/dim = %d/%d, want 2/4", result.Index.Len(), result.Index.Dim())
	}
	if got := embedder.calls.Load(); got != 2 {
		t.Errorf("embedder calls = %d, want 2", got)
	}
	if result.Stats.Chunks != 2 || result.Stats.Characters != 4000 || result.Stats.Dimension != 4 {
		t.Errorf("Stats = %+v", result.Stats)
	}
}

func TestPipeline_Build_EmptyDocument(t *testing.T) {
	embedder := &letterEmbedder{}
	p := NewPipeline(embedder, vectorstore.NewFlatBuilder(), 8, 2)

	_, err := p.Build(context.Background(), "")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("Build() error = %v, want ErrEmptyDocument", err)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ErrEmptyDocument should wrap ErrInvalidInput")
	}
	if embedder.calls.Load() != 0 {
		t.Error("Build() should not embed an empty document")
	}
}

func TestPipeline_Build_PreservesChunkOrder(t *testing.T) {
	// Earlier chunks finish last so completion order is the reverse of chunk order.
	embedder := &letterEmbedder{
		delay: func(text string) time.Duration {
			switch text[0] {
			case 'a':
				return 30 * time.Millisecond
			case 'b':
				return 20 * time.Millisecond
			case 'c':
				return 10 * time.Millisecond
			}
			return 0
		},
	}
	p := NewPipeline(embedder, vectorstore.NewFlatBuilder(), 4, 4)

	result, err := p.Build(context.Background(), "aaaabbbbccccdddd")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for i, query := range [][]float32{{4, 0, 0, 0}, {0, 4, 0, 0}, {0, 0, 4, 0}, {0, 0, 0, 4}} {
		got, err := result.Index.Search(context.Background(), query, 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if got[0].ChunkIndex != i || got[0].Distance != 0 {
			t.Errorf("query %d matched %+v, want chunk %d at distance 0", i, got[0], i)
		}
	}
}

func TestPipeline_Build_EmbeddingFailure(t *testing.T) {
	providerErr := errors.New("provider unavailable")
	embedder := &letterEmbedder{failOn: "cc", failErr: providerErr}
	p := NewPipeline(embedder, vectorstore.NewFlatBuilder(), 4, 2)

	result, err := p.Build(context.Background(), "aaaabbbbccccdddd")
	if err == nil {
		t.Fatal("Build() expected error, got nil")
	}
	if result != nil {
		t.Error("Build() should not return a partial result")
	}

	var embedErr *EmbeddingError
	if !errors.As(err, &embedErr) {
		t.Fatalf("Build() error = %T, want *EmbeddingError", err)
	}
	if embedErr.ChunkIndex != 2 {
		t.Errorf("EmbeddingError.ChunkIndex = %d, want 2", embedErr.ChunkIndex)
	}
	if !errors.Is(err, providerErr) {
		t.Error("EmbeddingError should unwrap to the provider error")
	}
}

func TestPipeline_Build_BoundedConcurrency(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	embedder := &trackingEmbedder{
		before: func() {
			mu.Lock()
			inFlight++
			peak = max(peak, inFlight)
			mu.Unlock()
		},
		after: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}
	p := NewPipeline(embedder, vectorstore.NewFlatBuilder(), 1, 3)

	if _, err := p.Build(context.Background(), strings.Repeat("x", 20)); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if peak > 3 {
		t.Errorf("peak concurrent embeddings = %d, want <= 3", peak)
	}
}

type trackingEmbedder struct {
	before func()
	after  func()
}

func (e *trackingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.before()
	defer e.after()
	time.Sleep(2 * time.Millisecond)
	return []float32{float32(len(text))}, nil
}

func TestPipeline_Build_BuilderFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockBuilder := vectorstore_mocks.NewMockBuilder(ctrl)
	mockBuilder.EXPECT().
		Build(gomock.Any(), gomock.Len(2)).
		Return(nil, &vectorstore.DimensionMismatchError{Position: 1, Want: 4, Got: 3})

	p := NewPipeline(&letterEmbedder{}, mockBuilder, 4, 2)

	_, err := p.Build(context.Background(), "aaaabbbb")
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Build() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestPipeline_Reindex_Deterministic(t *testing.T) {
	p := NewPipeline(&letterEmbedder{}, vectorstore.NewFlatBuilder(), 4, 2)
	chunks, _ := ChunkText("aabbccddabcdaaaa", 4)

	first, err := p.Reindex(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	second, err := p.Reindex(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}

	query := []float32{2, 1, 1, 0}
	a, _ := first.Search(context.Background(), query, 4)
	b, _ := second.Search(context.Background(), query, 4)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("ranking %d differs between rebuilds: %+v vs %+v", i, a[i], b[i])
		}
	}
}
