package interfaces

import (
	"context"

	"arena-ai/backend/internal/events"
	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/service"
)

// This file defines the interfaces for our core services.
// The API layer depends on these rather than on concrete implementations,
// so handlers can be tested against mocks.

// SessionService defines the contract for session lifecycle and prompt fan-out.
type SessionService interface {
	CreateSession(ctx context.Context, userID string, providers []model.ProviderID) (*model.SessionState, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	SubmitPrompt(ctx context.Context, sessionID string, req service.SubmitRequest) (*model.SessionState, error)
	SelectBest(ctx context.Context, sessionID, responseID string) (*model.SessionState, error)
	ToggleProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error)
	RetryProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error)
	Reset(ctx context.Context, sessionID string) (*model.SessionState, error)
	ListProviders(ctx context.Context) []llm.ProviderInfo
	ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error)
}

// EventSource defines the contract for subscribing to session updates.
type EventSource interface {
	Subscribe(sessionID string) (*events.Subscriber, func())
}
