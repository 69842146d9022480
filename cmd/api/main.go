package main

import (
	"context"
	_ "embed"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"resource-rag/internal/config"
	"resource-rag/internal/handlers"
	"resource-rag/internal/http"
	"resource-rag/internal/indexer"
	"resource-rag/internal/llm"
	"resource-rag/internal/metrics"
	"resource-rag/internal/rag"
	"resource-rag/internal/resource"
	"resource-rag/internal/service"
	"resource-rag/internal/storage"
	"resource-rag/internal/vectorstore"
)

//go:embed index.html
var indexHTML string

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	documentRepo := storage.NewDocumentRepo(db)
	m := metrics.New(prometheus.DefaultRegisterer)

	llmOpts := []llm.Option{
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithMaxRetries(cfg.LLMMaxRetries),
		llm.WithRateLimit(cfg.LLMRateLimit, max(int(cfg.LLMRateLimit), 1)),
	}
	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingVectorSize, llmOpts...)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, llmOpts...)

	// Validate embedding client vector size (fail-fast)
	if cfg.EmbeddingVectorSize > 0 {
		if _, err := embedder.Embed(ctx, "test"); err != nil {
			log.Fatalf("Failed to validate embedding client: %v", err)
		}
		slog.Info("Embedding client validated", "vector_size", cfg.EmbeddingVectorSize)
	}

	checks := []handlers.Check{
		{
			Name:     "database",
			Critical: true,
			Probe: func(ctx context.Context) error {
				return storage.Ping(ctx, db)
			},
		},
		{
			Name:  "llm",
			Probe: llmClient.Ping,
		},
	}

	builder, closeBuilder := newBuilder(ctx, cfg, &checks)
	defer closeBuilder()

	pipeline := indexer.NewPipeline(embedder, builder, cfg.ChunkSize, cfg.EmbedConcurrency)
	fetcher := resource.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes)
	retriever := rag.NewRetriever(fetcher, embedder, llmClient, pipeline,
		rag.WithTopK(cfg.TopK),
		rag.WithRebuildOnQuery(cfg.RebuildIndexOnQuery),
	)
	session := service.NewSession(retriever,
		service.WithHistory(documentRepo),
		service.WithMetrics(m),
	)
	slog.Info("Session initialized",
		"backend", cfg.IndexBackend,
		"chunk_size", cfg.ChunkSize,
		"top_k", cfg.TopK,
		"rebuild_on_query", cfg.RebuildIndexOnQuery,
	)

	// Create router with dependencies
	deps := &http.Deps{
		Session:      session,
		History:      documentRepo,
		HealthChecks: checks,
		Metrics:      m,
		Gatherer:     prometheus.DefaultGatherer,
		IndexHTML:    indexHTML,
	}
	router := http.NewRouter(deps)

	addr := ":" + cfg.APIPort
	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", addr)
		slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
	if err := session.Close(shutdownCtx); err != nil {
		slog.Error("Failed to release index", "error", err)
	}
}

// newBuilder returns the index builder for the configured backend and a cleanup func.
// A qdrant backend adds a critical health check to checks.
func newBuilder(ctx context.Context, cfg *config.Config, checks *[]handlers.Check) (vectorstore.Builder, func()) {
	if cfg.IndexBackend != config.IndexBackendQdrant {
		return vectorstore.NewFlatBuilder(), func() {}
	}

	qb, err := vectorstore.NewQdrantBuilder(cfg.QdrantURL, cfg.QdrantCollectionPrefix)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}
	if err := qb.Ping(ctx); err != nil {
		log.Fatalf("Failed to reach Qdrant: %v", err)
	}
	slog.Info("Qdrant backend ready", "url", cfg.QdrantURL, "collection_prefix", cfg.QdrantCollectionPrefix)

	*checks = append(*checks, handlers.Check{
		Name:     "vector_store",
		Critical: true,
		Probe:    qb.Ping,
	})
	return qb, func() {
		_ = qb.Close()
	}
}
