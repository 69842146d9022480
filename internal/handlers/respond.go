package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"resource-rag/internal/service"
)

// MessageRequest is the request payload of both POST /resource and POST /chat.
type MessageRequest struct {
	Message string `json:"message"`
}

// maxRequestBytes caps request bodies.
const maxRequestBytes = 1 << 20

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}

// decodeMessage reads a MessageRequest from the request body.
func decodeMessage(w http.ResponseWriter, r *http.Request) (MessageRequest, error) {
	var req MessageRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	return req, err
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) || errors.Is(err, service.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
