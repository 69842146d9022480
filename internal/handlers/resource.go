package handlers

import (
	"log/slog"
	"net/http"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/service"
)

// Resource endpoint messages.
const (
	ResourceOK         = "it works"
	ResourceEmpty      = "Empty message received"
	ResourceNotWorking = "it doesn't work"
)

// ResourceResponse represents the HTTP response payload for POST /resource.
type ResourceResponse struct {
	Status string `json:"status"`
}

// ResourceHandler ingests the resource named by the request message.
type ResourceHandler struct {
	session service.Session
}

// NewResourceHandler creates a new ResourceHandler.
func NewResourceHandler(session service.Session) *ResourceHandler {
	return &ResourceHandler{session: session}
}

// ServeHTTP handles POST /resource.
func (h *ResourceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeMessage(w, r)
	if err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		h.write(w, r, http.StatusBadRequest, ResourceEmpty)
		return
	}

	res, err := h.session.Ingest(ctx, req.Message)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusBadRequest {
			h.write(w, r, status, ResourceEmpty)
			return
		}
		logger.ErrorContext(ctx, "ingest failed", "url", req.Message, "error", err)
		h.write(w, r, status, ResourceNotWorking)
		return
	}

	logger.InfoContext(ctx, "resource ingested",
		slog.String("document_id", res.DocumentID),
		slog.String("url", res.SourceURL),
		slog.Int("chunks", res.Chunks),
	)
	h.write(w, r, http.StatusOK, ResourceOK)
}

func (h *ResourceHandler) write(w http.ResponseWriter, r *http.Request, statusCode int, status string) {
	if err := writeJSON(w, statusCode, ResourceResponse{Status: status}); err != nil {
		contextutil.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
