package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	app_errors "arena-ai/backend/internal/errors"
	"arena-ai/backend/internal/model"
)

// This file contains shared DTOs (Data Transfer Objects) for API requests and
// responses, and helper functions for sending consistent HTTP responses.

// --- Response DTOs ---

// ErrorResponse defines the standard JSON structure for error messages.
type ErrorResponse struct {
	Error string `json:"error"`
}

// --- Request DTOs ---

// CreateSessionRequest is the DTO for opening a session.
// Without providers the server's default provider set is enabled.
type CreateSessionRequest struct {
	UserID    string             `json:"userId" validate:"omitempty,max=128" example:"user-42"`
	Providers []model.ProviderID `json:"providers" validate:"omitempty,dive,required" example:"openai,deepseek"`
}

// SubmitPromptRequest is the DTO for fanning a prompt out to providers.
type SubmitPromptRequest struct {
	Prompt string `json:"prompt" validate:"required,max=32000" example:"Explain goroutines in one paragraph."`
	// Providers overrides the session's enabled providers for this prompt only.
	Providers []model.ProviderID `json:"providers" validate:"omitempty,dive,required"`
	// Context is sent ahead of the prompt. Omit it to build the context from the session history;
	// send an empty array to send none.
	Context []model.Message `json:"context" validate:"omitempty,dive"`
	// Async returns the pending snapshot immediately; progress arrives on the events stream.
	Async bool `json:"async"`
}

// SelectResponseRequest is the DTO for closing a turn with the chosen response.
type SelectResponseRequest struct {
	ResponseID string `json:"responseId" validate:"required" example:"0b8f6c1e-8a53-4a43-9d1c-7d3f3b0c2a11"`
}

// --- Response Helpers ---

// respondWithError is the centralized error handling function for the API layer.
// It maps business-layer errors to HTTP status codes and writes a standard JSON error body.
func respondWithError(w http.ResponseWriter, err error) {
	var statusCode int
	var message string

	switch {
	case errors.Is(err, app_errors.ErrNotFound):
		statusCode = http.StatusNotFound
		message = "The requested resource was not found."
	case errors.Is(err, app_errors.ErrValidation):
		statusCode = http.StatusBadRequest
		// Validation messages from the service layer are already user-facing.
		message = err.Error()
	case errors.Is(err, app_errors.ErrConflict):
		statusCode = http.StatusConflict
		message = "A conflict occurred with the current state of the resource."
	case errors.Is(err, app_errors.ErrAggregation):
		statusCode = http.StatusInternalServerError
		message = "One or more providers could not be processed."
	default:
		// Unhandled errors are internal so implementation details do not leak.
		statusCode = http.StatusInternalServerError
		message = "An unexpected internal server error occurred."
	}

	slog.Warn("Responding with error", "status_code", statusCode, "client_message", message, "internal_error", err)

	respondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondWithJSON marshals a payload to JSON and writes it with the given status code.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

// --- Streaming Helpers ---

// sendStreamError sends a structured error message over a Server-Sent Events (SSE) stream.
func sendStreamError(w http.ResponseWriter, message string) {
	slog.Warn("Sending stream error to client", "message", message)
	jsonData, err := json.Marshal(ErrorResponse{Error: message})
	if err != nil {
		slog.Error("Failed to marshal stream error payload", "error", err)
		return
	}

	// `event: error` lets clients register a dedicated listener.
	if _, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", string(jsonData)); err != nil {
		slog.Warn("Failed to write stream error, client might have disconnected", "error", err)
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// writeStreamEvent writes one named SSE frame with a pre-encoded payload.
// A write failure means the client has disconnected.
func writeStreamEvent(w http.ResponseWriter, name string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("failed to write data to stream: %w", err)
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
