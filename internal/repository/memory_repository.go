package repository

import (
	"context"
	"sort"
	"sync"

	"arena-ai/backend/internal/model"
)

type memoryRepository struct {
	mu            sync.Mutex
	sessions      map[string]*model.SessionState
	conversations map[string][]model.ConversationTurn
	responses     map[string][]model.ProviderResponse
}

// NewMemoryRepository returns a process-local store. Data is lost on restart.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		sessions:      make(map[string]*model.SessionState),
		conversations: make(map[string][]model.ConversationTurn),
		responses:     make(map[string][]model.ProviderResponse),
	}
}

func (r *memoryRepository) CreateSession(_ context.Context, s *model.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *memoryRepository) GetSession(_ context.Context, sessionID string) (*model.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *memoryRepository) UpdateSession(_ context.Context, sessionID string, mutate MutateFunc) (*model.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	next := s.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	r.sessions[sessionID] = next
	return next.Clone(), nil
}

func (r *memoryRepository) CreateConversation(_ context.Context, turn *model.ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[turn.SessionID] = append(r.conversations[turn.SessionID], turn.Clone())
	return nil
}

func (r *memoryRepository) ListConversations(_ context.Context, sessionID string) ([]model.ConversationTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.conversations[sessionID]
	out := make([]model.ConversationTurn, len(stored))
	for i, t := range stored {
		out[i] = t.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memoryRepository) CreateResponse(_ context.Context, conversationID string, resp *model.ProviderResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[conversationID] = append(r.responses[conversationID], resp.Clone())
	return nil
}

func (r *memoryRepository) ListResponses(_ context.Context, conversationID string) ([]model.ProviderResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := model.CloneResponses(r.responses[conversationID])
	if out == nil {
		out = []model.ProviderResponse{}
	}
	return out, nil
}
