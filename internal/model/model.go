package model

import (
	"time"
)

// ProviderID identifies an upstream completion backend (e.g. "openai", "ollama").
type ProviderID string

// ResponseStatus is the lifecycle state of one provider's answer.
type ResponseStatus string

const (
	StatusPending     ResponseStatus = "pending"
	StatusStreaming   ResponseStatus = "streaming"
	StatusSuccess     ResponseStatus = "success"
	StatusError       ResponseStatus = "error"
	StatusRateLimited ResponseStatus = "rate-limited"
	StatusTimeout     ResponseStatus = "timeout"
)

// IsTerminal reports whether no further delta can arrive without a retry.
func (s ResponseStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusRateLimited, StatusTimeout:
		return true
	}
	return false
}

// Message is one entry of the conversation context sent to a provider.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ResponseMetrics holds timing and throughput figures. Nil fields are not yet measurable.
type ResponseMetrics struct {
	LatencyMs           *int64   `json:"latencyMs"`
	TokenCountEstimate  *int     `json:"tokenCountEstimate"`
	ResponseLength      int      `json:"responseLength"`
	FirstTokenLatencyMs *int64   `json:"firstTokenLatencyMs"`
	TokensPerSecond     *float64 `json:"tokensPerSecond"`
}

// ProviderResponse is one provider's answer to one prompt.
type ProviderResponse struct {
	ID                string          `json:"id"`
	Provider          ProviderID      `json:"provider"`
	Model             string          `json:"model,omitempty"`
	Prompt            string          `json:"prompt"`
	ResponseText      string          `json:"responseText"`
	Status            ResponseStatus  `json:"status"`
	Metrics           ResponseMetrics `json:"metrics"`
	RetryCount        int             `json:"retryCount"`
	ErrorMessage      *string         `json:"errorMessage"`
	StreamingProgress int             `json:"streamingProgress"`
	IsStreaming       bool            `json:"isStreaming"`
	Timestamp         time.Time       `json:"timestamp"`
}

// ConversationTurn is a closed round: the prompt, the chosen answer and everything offered.
type ConversationTurn struct {
	ID               string             `json:"id"`
	SessionID        string             `json:"sessionId"`
	UserPrompt       string             `json:"userPrompt"`
	SelectedResponse *ProviderResponse  `json:"selectedResponse"`
	AllResponses     []ProviderResponse `json:"allResponses"`
	Timestamp        time.Time          `json:"timestamp"`
}

// SessionState is the document the orchestrator reads and writes.
type SessionState struct {
	ID                  string             `json:"id"`
	UserID              string             `json:"userId,omitempty"`
	ConversationHistory []ConversationTurn `json:"conversationHistory"`
	CurrentPrompt       string             `json:"currentPrompt"`
	CurrentContext      []Message          `json:"currentContext,omitempty"`
	CurrentResponses    []ProviderResponse `json:"currentResponses"`
	IsProcessing        bool               `json:"isProcessing"`
	SelectedResponseID  *string            `json:"selectedResponseId"`
	EnabledProviders    []ProviderID       `json:"enabledProviders"`
	Generation          int64              `json:"generation"`
	Version             int64              `json:"version"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}
