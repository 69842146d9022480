package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Index backends accepted by INDEX_BACKEND.
const (
	IndexBackendMemory = "memory"
	IndexBackendQdrant = "qdrant"
)

// Config holds all configuration for the application.
type Config struct {
	LLMBaseURL         string
	LLMModelName       string
	LLMAPIKey          string
	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingAPIKey    string
	// EmbeddingVectorSize is validated against every embedding when > 0.
	EmbeddingVectorSize int

	ChunkSize              int
	TopK                   int
	EmbedConcurrency       int
	RebuildIndexOnQuery    bool
	IndexBackend           string
	QdrantURL              string
	QdrantCollectionPrefix string

	FetchTimeout  time.Duration
	FetchMaxBytes int64
	LLMTimeout    time.Duration
	LLMMaxRetries int
	LLMRateLimit  float64

	DBPath    string
	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates the rest.
// A .env file in the current directory or one of its parents is loaded first;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	llmAPIKey := getEnv("LLM_API_KEY", "dummy-key")

	cfg := &Config{
		LLMBaseURL:             getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModelName:           getEnv("LLM_MODEL", "Phi-3-medium-4k-instruct"),
		LLMAPIKey:              llmAPIKey,
		EmbeddingBaseURL:       getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName:     getEnv("EMBEDDING_MODEL_NAME", "text-embedding-3-small"),
		EmbeddingAPIKey:        getEnv("EMBEDDING_API_KEY", llmAPIKey),
		IndexBackend:           strings.ToLower(getEnv("INDEX_BACKEND", IndexBackendMemory)),
		QdrantURL:              getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollectionPrefix: getEnv("QDRANT_COLLECTION_PREFIX", "resource"),
		DBPath:                 getEnv("DB_PATH", "./data/resource-rag.db"),
		APIPort:                getEnv("API_PORT", "5000"),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"EMBEDDING_VECTOR_SIZE", 0, 0, &cfg.EmbeddingVectorSize},
		{"CHUNK_SIZE", 2048, 1, &cfg.ChunkSize},
		{"RAG_TOP_K", 2, 1, &cfg.TopK},
		{"EMBED_CONCURRENCY", 4, 1, &cfg.EmbedConcurrency},
		{"LLM_MAX_RETRIES", 3, 0, &cfg.LLMMaxRetries},
	}
	for _, f := range ints {
		v, err := getEnvInt(f.key, f.def)
		if err != nil {
			return nil, err
		}
		if v < f.min {
			return nil, fmt.Errorf("%s must be at least %d", f.key, f.min)
		}
		*f.dest = v
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"FETCH_TIMEOUT", 30 * time.Second, &cfg.FetchTimeout},
		{"LLM_TIMEOUT", 120 * time.Second, &cfg.LLMTimeout},
	}
	for _, f := range durations {
		v, err := getEnvDuration(f.key, f.def)
		if err != nil {
			return nil, err
		}
		*f.dest = v
	}

	maxBytesStr := getEnv("FETCH_MAX_BYTES", "10485760")
	maxBytes, err := strconv.ParseInt(maxBytesStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("FETCH_MAX_BYTES must be a valid integer: %w", err)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("FETCH_MAX_BYTES must be greater than 0")
	}
	cfg.FetchMaxBytes = maxBytes

	rateStr := getEnv("LLM_RATE_LIMIT", "10")
	rateLimit, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("LLM_RATE_LIMIT must be a valid number: %w", err)
	}
	if rateLimit <= 0 {
		return nil, fmt.Errorf("LLM_RATE_LIMIT must be greater than 0")
	}
	cfg.LLMRateLimit = rateLimit

	rebuild, err := strconv.ParseBool(getEnv("RAG_REBUILD_INDEX_ON_QUERY", "false"))
	if err != nil {
		return nil, fmt.Errorf("RAG_REBUILD_INDEX_ON_QUERY must be a boolean: %w", err)
	}
	cfg.RebuildIndexOnQuery = rebuild

	switch cfg.IndexBackend {
	case IndexBackendMemory, IndexBackendQdrant:
	default:
		return nil, fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", IndexBackendMemory, IndexBackendQdrant, cfg.IndexBackend)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\", got %q", cfg.LogFormat)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return d, nil
}
