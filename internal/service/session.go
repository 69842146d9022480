package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_retriever.go -package=mocks resource-rag/internal/service Retriever
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_session.go -package=mocks -mock_names=Session=MockSession resource-rag/internal/service Session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/indexer"
	"resource-rag/internal/metrics"
	"resource-rag/internal/rag"
	"resource-rag/internal/resource"
	"resource-rag/internal/storage"
)

// Retriever runs the ingest and question flows.
// This interface is defined from the service layer's perspective (consumer-first).
type Retriever interface {
	// Ingest fetches and indexes a resource. It returns nil on any failure.
	Ingest(ctx context.Context, sourceURL string) (*rag.Snapshot, error)
	// Answer answers a question against snap; a nil snap is a NoDocument error.
	Answer(ctx context.Context, snap *rag.Snapshot, question string) (rag.Answer, error)
}

// IngestResult describes a successfully ingested resource.
type IngestResult struct {
	DocumentID string
	SourceURL  string
	Characters int
	Chunks     int
	Dimension  int
	IngestedAt time.Time
}

// AskResult is the answer to a question.
type AskResult struct {
	Answer  string
	Sources []rag.Source
}

// Status is a point-in-time view of the session.
type Status struct {
	Ingested   bool      `json:"ingested"`
	DocumentID string    `json:"document_id,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	Chunks     int       `json:"chunks,omitempty"`
	Dimension  int       `json:"dimension,omitempty"`
	IngestedAt time.Time `json:"ingested_at,omitzero"`
}

// Session owns the most recently ingested document and answers questions against it.
type Session interface {
	// Ingest replaces the current document with sourceURL. On failure the
	// previous document, if any, stays in place.
	Ingest(ctx context.Context, sourceURL string) (IngestResult, error)
	// Ask answers question against the current document.
	Ask(ctx context.Context, question string) (AskResult, error)
	// Status describes the current document.
	Status() Status
	// LastPrompt returns the most recent augmented prompt, or "" if none was built.
	LastPrompt() string
	// Close releases the current index. Later asks fail with rag.ErrNoDocument.
	Close(ctx context.Context) error
}

// session implements Session.
//
// Ingests are serialized by ingestMu and do their slow work without holding mu.
// The finished snapshot is swapped in under mu's write lock; asks hold the read
// lock for their whole duration, so an index released after the swap has no readers.
// lastPrompt is written by asks under the read lock and cleared by the swap, so it
// never holds a prompt built from a replaced document.
type session struct {
	retriever Retriever
	history   storage.DocumentStore
	metrics   *metrics.Metrics

	ingestMu sync.Mutex

	mu   sync.RWMutex
	snap *rag.Snapshot

	promptMu   sync.Mutex
	lastPrompt string
}

// SessionOption configures a Session.
type SessionOption func(*session)

// WithHistory records every successful ingestion in store.
func WithHistory(store storage.DocumentStore) SessionOption {
	return func(s *session) { s.history = store }
}

// WithMetrics records ingest and ask outcomes.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *session) { s.metrics = m }
}

// NewSession creates an empty Session.
func NewSession(retriever Retriever, opts ...SessionOption) Session {
	s := &session{
		retriever: retriever,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest replaces the current document with sourceURL.
func (s *session) Ingest(ctx context.Context, sourceURL string) (IngestResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		logger.WarnContext(ctx, "empty url in ingest request")
		s.metrics.RecordIngest(ingestResultLabel(ErrInvalidInput), 0)
		return IngestResult{}, &ValidationError{
			Field:   "url",
			Message: "cannot be empty",
		}
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	snap, err := s.retriever.Ingest(ctx, sourceURL)
	if err != nil {
		s.metrics.RecordIngest(ingestResultLabel(err), time.Since(start))
		return IngestResult{}, WrapError(err, "failed to ingest resource")
	}

	s.mu.Lock()
	old := s.snap
	s.snap = snap
	s.setLastPrompt("")
	s.mu.Unlock()

	s.release(ctx, old)

	s.metrics.RecordIngest(metrics.ResultOK, time.Since(start))
	s.metrics.SetIndex(len(snap.Chunks), snap.Index.Dim())

	s.recordHistory(ctx, snap)

	return IngestResult{
		DocumentID: snap.Document.ID,
		SourceURL:  snap.Document.SourceURL,
		Characters: snap.Stats.Characters,
		Chunks:     len(snap.Chunks),
		Dimension:  snap.Index.Dim(),
		IngestedAt: snap.Document.IngestedAt,
	}, nil
}

// Ask answers question against the current document.
func (s *session) Ask(ctx context.Context, question string) (AskResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	if strings.TrimSpace(question) == "" {
		logger.WarnContext(ctx, "empty question in chat request")
		s.metrics.RecordAsk(askResultLabel(ErrInvalidInput), 0)
		return AskResult{}, &ValidationError{
			Field:   "message",
			Message: "cannot be empty",
		}
	}

	// The prompt is recorded before the read lock is released so that a
	// concurrent ingest clears it after, never before.
	s.mu.RLock()
	answer, err := s.retriever.Answer(ctx, s.snap, question)
	if answer.Prompt != "" {
		s.setLastPrompt(answer.Prompt)
	}
	s.mu.RUnlock()

	if err != nil {
		s.metrics.RecordAsk(askResultLabel(err), time.Since(start))
		return AskResult{}, WrapError(err, "failed to answer question")
	}

	s.metrics.RecordAsk(metrics.ResultOK, time.Since(start))
	return AskResult{
		Answer:  answer.Text,
		Sources: answer.Sources,
	}, nil
}

// Status describes the current document.
func (s *session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return Status{}
	}
	return Status{
		Ingested:   true,
		DocumentID: s.snap.Document.ID,
		SourceURL:  s.snap.Document.SourceURL,
		Chunks:     len(s.snap.Chunks),
		Dimension:  s.snap.Index.Dim(),
		IngestedAt: s.snap.Document.IngestedAt,
	}
}

// LastPrompt returns the most recent augmented prompt.
func (s *session) LastPrompt() string {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	return s.lastPrompt
}

func (s *session) setLastPrompt(prompt string) {
	s.promptMu.Lock()
	s.lastPrompt = prompt
	s.promptMu.Unlock()
}

// Close releases the current index.
func (s *session) Close(ctx context.Context) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	old := s.snap
	s.snap = nil
	s.mu.Unlock()

	s.metrics.SetIndex(0, 0)

	if old == nil || old.Index == nil {
		return nil
	}
	return WrapError(old.Index.Release(ctx), "failed to release index")
}

func (s *session) release(ctx context.Context, snap *rag.Snapshot) {
	if snap == nil || snap.Index == nil {
		return
	}
	if err := snap.Index.Release(context.WithoutCancel(ctx)); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to release previous index",
			slog.String("document_id", snap.Document.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recordHistory stores the ingestion. Failures are logged and otherwise ignored.
func (s *session) recordHistory(ctx context.Context, snap *rag.Snapshot) {
	if s.history == nil {
		return
	}
	rec := &storage.DocumentRecord{
		ID:          snap.Document.ID,
		SourceURL:   snap.Document.SourceURL,
		CharCount:   snap.Stats.Characters,
		ChunkCount:  len(snap.Chunks),
		ContentHash: storage.ContentHash(snap.Document.RawText),
		RawText:     snap.Document.RawText,
		IngestedAt:  snap.Document.IngestedAt,
	}
	if err := s.history.Insert(context.WithoutCancel(ctx), rec); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to record ingestion",
			slog.String("document_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func ingestResultLabel(err error) string {
	var fetchErr *resource.FetchError
	var embedErr *indexer.EmbeddingError
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, indexer.ErrInvalidInput):
		return "invalid_input"
	case errors.As(err, &fetchErr):
		return "fetch_" + fetchErr.Kind.String()
	case errors.As(err, &embedErr):
		return "embedding_failure"
	default:
		return "index_failure"
	}
}

func askResultLabel(err error) string {
	if errors.Is(err, ErrInvalidInput) {
		return "invalid_input"
	}
	if kind, ok := rag.KindOf(err); ok {
		return kind.String()
	}
	return "unknown"
}
