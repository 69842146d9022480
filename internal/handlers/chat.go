package handlers

import (
	"net/http"

	"resource-rag/internal/contextutil"
	"resource-rag/internal/service"
)

// Chat endpoint messages.
const (
	ChatEmpty = "Empty message received"
	ChatError = "An error occurred processing your request"
)

// ChatResponse represents the HTTP response payload for POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ChatHandler answers the question in the request message against the current resource.
type ChatHandler struct {
	session service.Session
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(session service.Session) *ChatHandler {
	return &ChatHandler{session: session}
}

// ServeHTTP handles POST /chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		h.write(w, r, http.StatusBadRequest, ChatEmpty)
		return
	}

	res, err := h.session.Ask(ctx, req.Message)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusBadRequest {
			h.write(w, r, status, ChatEmpty)
			return
		}
		logger.ErrorContext(ctx, "chat failed", "error", err)
		h.write(w, r, status, ChatError)
		return
	}

	logger.InfoContext(ctx, "chat request processed successfully", "message_length", len(req.Message), "reply_length", len(res.Answer))
	h.write(w, r, http.StatusOK, res.Answer)
}

func (h *ChatHandler) write(w http.ResponseWriter, r *http.Request, statusCode int, response string) {
	if err := writeJSON(w, statusCode, ChatResponse{Response: response}); err != nil {
		contextutil.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// PromptResponse represents the response of GET /api/prompt.
type PromptResponse struct {
	Prompt string `json:"prompt"`
}

// LastPrompt handles GET /api/prompt with the most recent augmented prompt.
func (h *ChatHandler) LastPrompt(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, PromptResponse{Prompt: h.session.LastPrompt()}); err != nil {
		contextutil.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
