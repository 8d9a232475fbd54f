package model

import (
	"errors"
	"slices"
	"time"
)

// ErrNotTerminal is returned by Retry when the response can still change on its own.
var ErrNotTerminal = errors.New("response is not in a terminal state")

// NewProviderResponse returns a pending response whose timestamp is the latency epoch.
func NewProviderResponse(id string, provider ProviderID, modelID, prompt string, now time.Time) ProviderResponse {
	return ProviderResponse{
		ID:        id,
		Provider:  provider,
		Model:     modelID,
		Prompt:    prompt,
		Status:    StatusPending,
		Timestamp: now,
	}
}

// Retry moves a terminal response back to pending and starts a fresh lifecycle.
// The id is kept so the (session, turn, provider) slot stays unique.
func (r *ProviderResponse) Retry(now time.Time) error {
	if !r.Status.IsTerminal() {
		return ErrNotTerminal
	}
	r.RetryCount++
	r.Status = StatusPending
	r.ErrorMessage = nil
	r.StreamingProgress = 0
	r.IsStreaming = false
	r.ResponseText = ""
	r.Metrics = ResponseMetrics{}
	r.Timestamp = now
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r ProviderResponse) Clone() ProviderResponse {
	out := r
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		out.ErrorMessage = &msg
	}
	out.Metrics = r.Metrics.clone()
	return out
}

func (m ResponseMetrics) clone() ResponseMetrics {
	out := m
	if m.LatencyMs != nil {
		v := *m.LatencyMs
		out.LatencyMs = &v
	}
	if m.TokenCountEstimate != nil {
		v := *m.TokenCountEstimate
		out.TokenCountEstimate = &v
	}
	if m.FirstTokenLatencyMs != nil {
		v := *m.FirstTokenLatencyMs
		out.FirstTokenLatencyMs = &v
	}
	if m.TokensPerSecond != nil {
		v := *m.TokensPerSecond
		out.TokensPerSecond = &v
	}
	return out
}

// Clone returns a deep copy of the session.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.ConversationHistory = make([]ConversationTurn, len(s.ConversationHistory))
	for i, t := range s.ConversationHistory {
		out.ConversationHistory[i] = t.Clone()
	}
	out.CurrentResponses = CloneResponses(s.CurrentResponses)
	out.CurrentContext = slices.Clone(s.CurrentContext)
	out.EnabledProviders = slices.Clone(s.EnabledProviders)
	if s.SelectedResponseID != nil {
		id := *s.SelectedResponseID
		out.SelectedResponseID = &id
	}
	return &out
}

// Clone returns a deep copy of the turn.
func (t ConversationTurn) Clone() ConversationTurn {
	out := t
	if t.SelectedResponse != nil {
		sel := t.SelectedResponse.Clone()
		out.SelectedResponse = &sel
	}
	out.AllResponses = CloneResponses(t.AllResponses)
	return out
}

// CloneResponses deep-copies a response list, preserving nil.
func CloneResponses(in []ProviderResponse) []ProviderResponse {
	if in == nil {
		return nil
	}
	out := make([]ProviderResponse, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// NewSession returns the empty initial shape of a session.
func NewSession(id, userID string, providers []ProviderID, now time.Time) *SessionState {
	return &SessionState{
		ID:                  id,
		UserID:              userID,
		ConversationHistory: []ConversationTurn{},
		CurrentResponses:    []ProviderResponse{},
		EnabledProviders:    slices.Clone(providers),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// FindResponse returns the index of the current response with the given id.
func (s *SessionState) FindResponse(id string) (int, bool) {
	for i := range s.CurrentResponses {
		if s.CurrentResponses[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// FindProviderResponse returns the index of the current response for a provider.
func (s *SessionState) FindProviderResponse(provider ProviderID) (int, bool) {
	for i := range s.CurrentResponses {
		if s.CurrentResponses[i].Provider == provider {
			return i, true
		}
	}
	return -1, false
}

// AllTerminal reports whether every current response has converged.
func (s *SessionState) AllTerminal() bool {
	for i := range s.CurrentResponses {
		if !s.CurrentResponses[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// ToggleProvider adds the provider if absent, removes it otherwise.
// It returns whether the provider is enabled afterwards.
func (s *SessionState) ToggleProvider(p ProviderID) bool {
	if i := slices.Index(s.EnabledProviders, p); i >= 0 {
		s.EnabledProviders = slices.Delete(s.EnabledProviders, i, i+1)
		return false
	}
	s.EnabledProviders = append(s.EnabledProviders, p)
	return true
}

// Reset returns the session to its initial shape, keeping only the id.
// Generation and version keep counting so in-flight work from before the reset stays stale.
func (s *SessionState) Reset(providers []ProviderID, now time.Time) {
	gen, version := s.Generation+1, s.Version
	*s = *NewSession(s.ID, "", providers, now)
	s.Generation = gen
	s.Version = version
}
