package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/storage"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 100

// ResourceSummary is one entry of the ingestion history.
type ResourceSummary struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	CharCount   int       `json:"char_count"`
	ChunkCount  int       `json:"chunk_count"`
	ContentHash string    `json:"content_hash"`
	IngestedAt  time.Time `json:"ingested_at"`
	Text        string    `json:"text,omitempty"`
}

// ResourcesResponse represents the response of GET /api/resources.
type ResourcesResponse struct {
	Resources []ResourceSummary `json:"resources"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ResourcesHandler serves the ingestion history.
type ResourcesHandler struct {
	store storage.DocumentStore
}

// NewResourcesHandler creates a new ResourcesHandler.
func NewResourcesHandler(store storage.DocumentStore) *ResourcesHandler {
	return &ResourcesHandler{store: store}
}

// List handles GET /api/resources?limit=N, newest first.
func (h *ResourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	limit := storage.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	docs, err := h.store.ListRecent(ctx, limit)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list resources", "error", err)
		_ = writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to list resources"})
		return
	}

	resp := ResourcesResponse{Resources: make([]ResourceSummary, 0, len(docs))}
	for _, d := range docs {
		resp.Resources = append(resp.Resources, summaryOf(d))
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Get handles GET /api/resources/{id}, including the ingested text.
func (h *ResourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	id := chi.URLParam(r, "id")
	doc, err := h.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		_ = writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Resource not found"})
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to get resource", "id", id, "error", err)
		_ = writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to get resource"})
		return
	}

	summary := summaryOf(*doc)
	summary.Text = doc.RawText
	if err := writeJSON(w, http.StatusOK, summary); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func summaryOf(d storage.DocumentRecord) ResourceSummary {
	return ResourceSummary{
		ID:          d.ID,
		SourceURL:   d.SourceURL,
		CharCount:   d.CharCount,
		ChunkCount:  d.ChunkCount,
		ContentHash: d.ContentHash,
		IngestedAt:  d.IngestedAt,
	}
}
