package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	app_errors "arena-ai/backend/internal/errors"
	"arena-ai/backend/internal/model"
)

// ErrorClass groups provider failures by what the user can do about them.
type ErrorClass string

const (
	ClassUnauthorized ErrorClass = "unauthorized"
	ClassRateLimited  ErrorClass = "rate-limited"
	ClassNotFound     ErrorClass = "not-found"
	ClassGeneric      ErrorClass = "generic"
)

// CredentialError is returned when a provider's credential is not configured.
type CredentialError struct {
	Provider    model.ProviderID
	DisplayName string
	EnvKey      string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("llm %s: missing credential %s", e.Provider, e.EnvKey)
}

func (e *CredentialError) Unwrap() error { return app_errors.ErrConfiguration }

// UserMessage is the explanation shown in place of an answer.
func (e *CredentialError) UserMessage() string {
	return fmt.Sprintf("%s is not configured yet. Set %s on the server to enable this provider.", e.DisplayName, e.EnvKey)
}

// ProviderError is a non-2xx reply (or an in-stream error) from a provider.
type ProviderError struct {
	Provider    model.ProviderID
	DisplayName string
	Model       string
	Class       ErrorClass
	StatusCode  int
	Message     string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s: http %d (%s): %s", e.Provider, e.StatusCode, e.Class, e.Message)
	}
	return fmt.Sprintf("llm %s: %s: %s", e.Provider, e.Class, e.Message)
}

// UserMessage maps the error class onto a polite, user-facing template.
func (e *ProviderError) UserMessage() string {
	switch e.Class {
	case ClassUnauthorized:
		return fmt.Sprintf("%s rejected the configured API key. Check the credential and try again.", e.DisplayName)
	case ClassRateLimited:
		return fmt.Sprintf("%s is rate limited or out of quota right now. Please try again in a moment.", e.DisplayName)
	case ClassNotFound:
		return fmt.Sprintf("%s could not find the model %q. It may have been renamed or withdrawn.", e.DisplayName, e.Model)
	default:
		return fmt.Sprintf("%s is currently unavailable.", e.DisplayName)
	}
}

// Classify decides the error class from the status code first and the message second.
func Classify(status int, message string) ErrorClass {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassUnauthorized
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return ClassRateLimited
	case http.StatusNotFound:
		return ClassNotFound
	}

	msg := strings.ToLower(message)
	switch {
	case containsAny(msg, "rate limit", "rate-limit", "too many requests", "quota", "balance", "credits", "insufficient"):
		return ClassRateLimited
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "incorrect api key", "authentication"):
		return ClassUnauthorized
	case containsAny(msg, "model not found", "model_not_found", "no endpoints found", "does not exist", "not a valid model"):
		return ClassNotFound
	}
	return ClassGeneric
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// errorEnvelope covers {"error": {"message": ...}} and {"error": "..."} bodies.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

// parseErrorMessage extracts a readable message from an error body, falling back to the raw text.
func parseErrorMessage(raw []byte) string {
	if msg := errorFromJSON(raw); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(raw))
}

func errorFromJSON(raw []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Error) == 0 || string(env.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(env.Error)
}
