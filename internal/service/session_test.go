package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"resource-rag/internal/indexer"
	"resource-rag/internal/llm"
	"resource-rag/internal/metrics"
	"resource-rag/internal/rag"
	rag_mocks "resource-rag/internal/rag/mocks"
	"resource-rag/internal/resource"
	"resource-rag/internal/service"
	"resource-rag/internal/service/mocks"
	"resource-rag/internal/storage"
	storage_mocks "resource-rag/internal/storage/mocks"
	"resource-rag/internal/vectorstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"
)

func init() {
	// Set default logger to discard output for cleaner test output
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testContext returns a context for testing.
func testContext() context.Context {
	return context.Background()
}

// trackedIndex counts Release calls on top of a flat index.
type trackedIndex struct {
	vectorstore.Index
	released atomic.Int32
}

func (i *trackedIndex) Release(ctx context.Context) error {
	i.released.Add(1)
	return i.Index.Release(ctx)
}

func newSnapshot(t *testing.T, id, url string) (*rag.Snapshot, *trackedIndex) {
	t.Helper()
	flat, err := vectorstore.NewFlatBuilder().Build(context.Background(), [][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	idx := &trackedIndex{Index: flat}
	return &rag.Snapshot{
		Document: rag.Document{ID: id, SourceURL: url, RawText: "abcd", IngestedAt: time.Unix(100, 0).UTC()},
		Chunks:   []indexer.Chunk{{Index: 0, Text: "ab"}, {Index: 1, Text: "cd"}},
		Index:    idx,
		Stats:    indexer.Stats{Chunks: 2, Characters: 4, Dimension: 2},
	}, idx
}

func TestNewSession(t *testing.T) {
	ctrl := gomock.NewController(t)

	svc := service.NewSession(mocks.NewMockRetriever(ctrl))
	if svc == nil {
		t.Fatal("NewSession() returned nil")
	}
	if st := svc.Status(); st.Ingested {
		t.Errorf("Status() = %+v, want empty", st)
	}
	if svc.LastPrompt() != "" {
		t.Error("LastPrompt() should be empty before any question")
	}
}

func TestSession_Ingest(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)
	history := storage_mocks.NewMockDocumentStore(ctrl)

	snap, _ := newSnapshot(t, "doc-1", "http://example.com")
	retriever.EXPECT().Ingest(gomock.Any(), "http://example.com").Return(snap, nil)
	history.EXPECT().Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec *storage.DocumentRecord) error {
			if rec.ID != "doc-1" || rec.SourceURL != "http://example.com" || rec.ChunkCount != 2 || rec.CharCount != 4 {
				t.Errorf("history record = %+v", rec)
			}
			if rec.ContentHash != storage.ContentHash("abcd") {
				t.Errorf("ContentHash = %q", rec.ContentHash)
			}
			return nil
		})

	svc := service.NewSession(retriever, service.WithHistory(history))
	res, err := svc.Ingest(testContext(), "  http://example.com ")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.DocumentID != "doc-1" || res.Chunks != 2 || res.Dimension != 2 || res.Characters != 4 {
		t.Errorf("Ingest() = %+v", res)
	}

	st := svc.Status()
	if !st.Ingested || st.DocumentID != "doc-1" || st.SourceURL != "http://example.com" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestSession_Ingest_EmptyURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	svc := service.NewSession(retriever)
	for _, url := range []string{"", "   "} {
		_, err := svc.Ingest(testContext(), url)
		var ve *service.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Ingest(%q) error = %v, want *ValidationError", url, err)
		}
	}
}

func TestSession_Ingest_FailureKeepsPreviousDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	snap, idx := newSnapshot(t, "doc-1", "http://good")
	fetchErr := &resource.FetchError{Kind: resource.FetchHTTPStatus, URL: "http://missing", StatusCode: 404}
	gomock.InOrder(
		retriever.EXPECT().Ingest(gomock.Any(), "http://good").Return(snap, nil),
		retriever.EXPECT().Ingest(gomock.Any(), "http://missing").Return(nil, fetchErr),
	)

	svc := service.NewSession(retriever)
	if _, err := svc.Ingest(testContext(), "http://good"); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	_, err := svc.Ingest(testContext(), "http://missing")
	var fe *resource.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 404 {
		t.Fatalf("Ingest() error = %v, want wrapped 404 FetchError", err)
	}

	if st := svc.Status(); st.DocumentID != "doc-1" {
		t.Errorf("Status().DocumentID = %q, want doc-1 after failed re-ingest", st.DocumentID)
	}
	if idx.released.Load() != 0 {
		t.Error("previous index should not be released after a failed ingest")
	}
}

func TestSession_Ingest_ReleasesReplacedIndex(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	first, firstIdx := newSnapshot(t, "doc-1", "http://a")
	second, secondIdx := newSnapshot(t, "doc-2", "http://b")
	retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(first, nil)
	retriever.EXPECT().Ingest(gomock.Any(), "http://b").Return(second, nil)

	svc := service.NewSession(retriever)
	_, _ = svc.Ingest(testContext(), "http://a")
	_, _ = svc.Ingest(testContext(), "http://b")

	if firstIdx.released.Load() != 1 {
		t.Errorf("replaced index released %d times, want 1", firstIdx.released.Load())
	}
	if secondIdx.released.Load() != 0 {
		t.Error("active index should not be released")
	}

	if err := svc.Close(testContext()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if secondIdx.released.Load() != 1 {
		t.Error("Close() should release the active index")
	}
	if svc.Status().Ingested {
		t.Error("Status() should be empty after Close()")
	}
}

func TestSession_Ingest_HistoryFailureIsIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)
	history := storage_mocks.NewMockDocumentStore(ctrl)

	snap, _ := newSnapshot(t, "doc-1", "http://a")
	retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(snap, nil)
	history.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	svc := service.NewSession(retriever, service.WithHistory(history))
	if _, err := svc.Ingest(testContext(), "http://a"); err != nil {
		t.Fatalf("Ingest() error = %v, want history failure ignored", err)
	}
}

func TestSession_Ask(t *testing.T) {
	tests := []struct {
		name       string
		question   string
		setup      func(r *mocks.MockRetriever, snap *rag.Snapshot)
		wantAnswer string
		wantPrompt string
		checkErr   func(t *testing.T, err error)
	}{
		{
			name:     "success",
			question: "what?",
			setup: func(r *mocks.MockRetriever, snap *rag.Snapshot) {
				r.EXPECT().Answer(gomock.Any(), snap, "what?").
					Return(rag.Answer{Text: "answer", Prompt: "prompt"}, nil)
			},
			wantAnswer: "answer",
			wantPrompt: "prompt",
		},
		{
			name:     "empty question",
			question: " ",
			setup:    func(r *mocks.MockRetriever, snap *rag.Snapshot) {},
			checkErr: func(t *testing.T, err error) {
				if !errors.Is(err, service.ErrInvalidInput) {
					t.Errorf("error = %v, want ErrInvalidInput", err)
				}
			},
		},
		{
			name:     "completion failure keeps prompt",
			question: "what?",
			setup: func(r *mocks.MockRetriever, snap *rag.Snapshot) {
				r.EXPECT().Answer(gomock.Any(), snap, "what?").
					Return(rag.Answer{Prompt: "prompt"}, &rag.QueryError{Kind: rag.CompletionFailure, Err: errors.New("down")})
			},
			wantPrompt: "prompt",
			checkErr: func(t *testing.T, err error) {
				if kind, ok := rag.KindOf(err); !ok || kind != rag.CompletionFailure {
					t.Errorf("error = %v, want CompletionFailure", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			retriever := mocks.NewMockRetriever(ctrl)

			snap, _ := newSnapshot(t, "doc-1", "http://a")
			retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(snap, nil)
			tt.setup(retriever, snap)

			svc := service.NewSession(retriever)
			if _, err := svc.Ingest(testContext(), "http://a"); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}

			res, err := svc.Ask(testContext(), tt.question)
			if tt.checkErr != nil {
				if err == nil {
					t.Fatal("Ask() expected error")
				}
				tt.checkErr(t, err)
			} else if err != nil {
				t.Fatalf("Ask() error = %v", err)
			}
			if res.Answer != tt.wantAnswer {
				t.Errorf("Ask() answer = %q, want %q", res.Answer, tt.wantAnswer)
			}
			if got := svc.LastPrompt(); got != tt.wantPrompt {
				t.Errorf("LastPrompt() = %q, want %q", got, tt.wantPrompt)
			}
		})
	}
}

func TestSession_Ask_NoDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)
	retriever.EXPECT().Answer(gomock.Any(), gomock.Nil(), "anything?").
		Return(rag.Answer{}, &rag.QueryError{Kind: rag.NoDocument})

	svc := service.NewSession(retriever)
	_, err := svc.Ask(testContext(), "anything?")
	if !errors.Is(err, rag.ErrNoDocument) {
		t.Errorf("Ask() error = %v, want ErrNoDocument", err)
	}
}

func TestSession_AskDuringIngestSeesPreviousSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	first, _ := newSnapshot(t, "doc-1", "http://a")
	second, _ := newSnapshot(t, "doc-2", "http://b")

	ingestStarted := make(chan struct{})
	unblock := make(chan struct{})
	retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(first, nil)
	retriever.EXPECT().Ingest(gomock.Any(), "http://b").
		DoAndReturn(func(ctx context.Context, url string) (*rag.Snapshot, error) {
			close(ingestStarted)
			<-unblock
			return second, nil
		})
	retriever.EXPECT().Answer(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, snap *rag.Snapshot, _ string) (rag.Answer, error) {
			return rag.Answer{Text: snap.Document.ID}, nil
		}).AnyTimes()

	svc := service.NewSession(retriever)
	if _, err := svc.Ingest(testContext(), "http://a"); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.Ingest(testContext(), "http://b"); err != nil {
			t.Errorf("Ingest() error = %v", err)
		}
	}()

	<-ingestStarted
	for range 10 {
		res, err := svc.Ask(testContext(), "which?")
		if err != nil {
			t.Fatalf("Ask() error = %v", err)
		}
		if res.Answer != "doc-1" {
			t.Fatalf("Ask() during ingest saw %q, want doc-1", res.Answer)
		}
	}

	close(unblock)
	wg.Wait()

	res, err := svc.Ask(testContext(), "which?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Answer != "doc-2" {
		t.Errorf("Ask() after ingest saw %q, want doc-2", res.Answer)
	}
}

func TestSession_LastPromptNotRestoredByAskRacingIngest(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	first, _ := newSnapshot(t, "doc-1", "http://a")
	second, _ := newSnapshot(t, "doc-2", "http://b")

	answerStarted := make(chan struct{})
	releaseAnswer := make(chan struct{})
	ingestFetched := make(chan struct{})
	retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(first, nil)
	retriever.EXPECT().Ingest(gomock.Any(), "http://b").
		DoAndReturn(func(ctx context.Context, url string) (*rag.Snapshot, error) {
			close(ingestFetched)
			return second, nil
		})
	retriever.EXPECT().Answer(gomock.Any(), first, "q").
		DoAndReturn(func(_ context.Context, snap *rag.Snapshot, _ string) (rag.Answer, error) {
			close(answerStarted)
			<-releaseAnswer
			return rag.Answer{Text: "a", Prompt: "prompt for " + snap.Document.ID}, nil
		})

	svc := service.NewSession(retriever)
	if _, err := svc.Ingest(testContext(), "http://a"); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := svc.Ask(testContext(), "q"); err != nil {
			t.Errorf("Ask() error = %v", err)
		}
	}()
	<-answerStarted
	go func() {
		defer wg.Done()
		if _, err := svc.Ingest(testContext(), "http://b"); err != nil {
			t.Errorf("Ingest() error = %v", err)
		}
	}()
	<-ingestFetched
	time.Sleep(10 * time.Millisecond)
	close(releaseAnswer)
	wg.Wait()

	if got := svc.LastPrompt(); got != "" {
		t.Errorf("LastPrompt() = %q after doc-2 replaced doc-1, want empty", got)
	}
	if got := svc.Status().DocumentID; got != "doc-2" {
		t.Errorf("Status().DocumentID = %q, want doc-2", got)
	}
}

func TestSession_ConcurrentIngestsAreSerialized(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)

	var inFlight, maxInFlight atomic.Int32
	retriever.EXPECT().Ingest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url string) (*rag.Snapshot, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			snap, _ := newSnapshot(t, url, url)
			return snap, nil
		}).Times(5)

	svc := service.NewSession(retriever)

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Ingest(testContext(), "http://doc/"+string(rune('a'+i)))
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent ingests = %d, want 1", got)
	}
}

func TestSession_Metrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	retriever := mocks.NewMockRetriever(ctrl)
	m := metrics.New(prometheus.NewRegistry())

	snap, _ := newSnapshot(t, "doc-1", "http://a")
	retriever.EXPECT().Ingest(gomock.Any(), "http://a").Return(snap, nil)
	retriever.EXPECT().Ingest(gomock.Any(), "http://b").
		Return(nil, &resource.FetchError{Kind: resource.FetchNetwork, URL: "http://b", Err: errors.New("refused")})
	retriever.EXPECT().Answer(gomock.Any(), snap, "q").Return(rag.Answer{Text: "a", Prompt: "p"}, nil)

	svc := service.NewSession(retriever, service.WithMetrics(m))
	_, _ = svc.Ingest(testContext(), "http://a")
	_, _ = svc.Ingest(testContext(), "http://b")
	_, _ = svc.Ingest(testContext(), "")
	_, _ = svc.Ask(testContext(), "q")

	checks := []struct {
		vec   *prometheus.CounterVec
		label string
		want  float64
	}{
		{m.IngestsTotal, "ok", 1},
		{m.IngestsTotal, "fetch_network", 1},
		{m.IngestsTotal, "invalid_input", 1},
		{m.AsksTotal, "ok", 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.vec.WithLabelValues(c.label)); got != c.want {
			t.Errorf("counter{%s} = %v, want %v", c.label, got, c.want)
		}
	}
	if got := testutil.ToFloat64(m.IndexChunks); got != 2 {
		t.Errorf("index chunks = %v, want 2", got)
	}
}

// letterEmbedder maps a text to counts of a, b, c and d.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'd' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func TestSession_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("ABCD", 1000)))
	}))
	defer server.Close()

	ctrl := gomock.NewController(t)
	completer := rag_mocks.NewMockCompleter(ctrl)

	embedder := letterEmbedder{}
	pipeline := indexer.NewPipeline(embedder, vectorstore.NewFlatBuilder(), 2048, 4)
	fetcher := resource.NewHTTPFetcher(time.Second, 0, resource.WithMaxRetries(0))
	retriever := rag.NewRetriever(fetcher, embedder, completer, pipeline)
	svc := service.NewSession(retriever)

	// Asking before any ingest fails without calling the model.
	if _, err := svc.Ask(testContext(), "what?"); !errors.Is(err, rag.ErrNoDocument) {
		t.Fatalf("Ask() before ingest error = %v, want ErrNoDocument", err)
	}

	res, err := svc.Ingest(testContext(), server.URL+"/essay")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Chunks != 2 || res.Characters != 4000 {
		t.Errorf("Ingest() = %+v, want 2 chunks of 4000 characters", res)
	}

	completer.EXPECT().Complete(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, messages []llm.Message) (string, error) {
			if !strings.Contains(messages[0].Content, "Query: which letters?\nAnswer:") {
				t.Errorf("prompt missing query line: %q", messages[0].Content[len(messages[0].Content)-60:])
			}
			return "A, B, C and D", nil
		})

	ans, err := svc.Ask(testContext(), "which letters?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Answer != "A, B, C and D" {
		t.Errorf("Ask() = %q", ans.Answer)
	}
	if len(ans.Sources) != 2 {
		t.Errorf("len(Sources) = %d, want 2", len(ans.Sources))
	}
	if !strings.HasPrefix(svc.LastPrompt(), "Context information is below.") {
		t.Error("LastPrompt() should hold the augmented prompt")
	}

	// A 404 re-ingest fails and leaves the document in place.
	if _, err := svc.Ingest(testContext(), server.URL+"/missing"); err == nil {
		t.Fatal("Ingest() of missing resource expected error")
	}
	if st := svc.Status(); st.DocumentID != res.DocumentID {
		t.Errorf("Status().DocumentID = %q, want %q", st.DocumentID, res.DocumentID)
	}
}
