package repository

import (
	"context"

	"arena-ai/backend/internal/model"
)

// MutateFunc edits a session in place. Returning an error aborts the update and
// the error is returned unchanged from UpdateSession. Drivers may call it more
// than once when a concurrent writer wins, so it must only depend on its argument.
type MutateFunc func(s *model.SessionState) error

// Repository defines the interface for session and conversation storage.
// This interface makes it easy to switch database implementations.
type Repository interface {
	CreateSession(ctx context.Context, s *model.SessionState) error
	GetSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	// UpdateSession applies mutate to the freshest stored copy atomically with
	// respect to other writers and returns the stored result.
	UpdateSession(ctx context.Context, sessionID string, mutate MutateFunc) (*model.SessionState, error)

	CreateConversation(ctx context.Context, turn *model.ConversationTurn) error
	ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error)

	CreateResponse(ctx context.Context, conversationID string, resp *model.ProviderResponse) error
	ListResponses(ctx context.Context, conversationID string) ([]model.ProviderResponse, error)
}
