package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_rag.go -package=mocks resource-rag/internal/rag Fetcher,Embedder,Completer

import (
	"context"
	"time"

	"resource-rag/internal/indexer"
	"resource-rag/internal/llm"
	"resource-rag/internal/vectorstore"
)

// Fetcher retrieves the text of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Embedder converts one text into a vector. Chunks and questions must go through the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer sends chat messages to a completion model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Document is an ingested resource.
type Document struct {
	// ID identifies this ingestion; a re-ingest of the same URL gets a new ID.
	ID         string
	SourceURL  string
	RawText    string
	IngestedAt time.Time
}

// Snapshot is everything needed to answer questions about one document.
// It is immutable once returned by Ingest.
type Snapshot struct {
	Document Document
	Chunks   []indexer.Chunk
	Index    vectorstore.Index
	Stats    indexer.Stats
}

// Source is a retrieved chunk together with its distance to the question.
type Source struct {
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
	Text       string  `json:"text"`
}

// Answer is the result of a question.
type Answer struct {
	// Text is the completion model's reply, verbatim.
	Text string
	// Prompt is the augmented prompt sent to the model.
	Prompt string
	// Sources are the retrieved chunks, nearest first.
	Sources []Source
}
