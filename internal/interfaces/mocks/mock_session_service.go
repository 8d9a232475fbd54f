// Package mocks holds testify mocks of the service contracts used by the API layer.
package mocks

import (
	context "context"

	llm "arena-ai/backend/internal/llm"
	model "arena-ai/backend/internal/model"
	service "arena-ai/backend/internal/service"

	mock "github.com/stretchr/testify/mock"
)

// MockSessionService is a mock type for the SessionService type
type MockSessionService struct {
	mock.Mock
}

func (_m *MockSessionService) session(ret mock.Arguments) (*model.SessionState, error) {
	var r0 *model.SessionState
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.SessionState)
	}
	return r0, ret.Error(1)
}

// CreateSession provides a mock function with given fields: ctx, userID, providers
func (_m *MockSessionService) CreateSession(ctx context.Context, userID string, providers []model.ProviderID) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, userID, providers))
}

// GetSession provides a mock function with given fields: ctx, sessionID
func (_m *MockSessionService) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID))
}

// SubmitPrompt provides a mock function with given fields: ctx, sessionID, req
func (_m *MockSessionService) SubmitPrompt(ctx context.Context, sessionID string, req service.SubmitRequest) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID, req))
}

// SelectBest provides a mock function with given fields: ctx, sessionID, responseID
func (_m *MockSessionService) SelectBest(ctx context.Context, sessionID string, responseID string) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID, responseID))
}

// ToggleProvider provides a mock function with given fields: ctx, sessionID, provider
func (_m *MockSessionService) ToggleProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID, provider))
}

// RetryProvider provides a mock function with given fields: ctx, sessionID, provider
func (_m *MockSessionService) RetryProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID, provider))
}

// Reset provides a mock function with given fields: ctx, sessionID
func (_m *MockSessionService) Reset(ctx context.Context, sessionID string) (*model.SessionState, error) {
	return _m.session(_m.Called(ctx, sessionID))
}

// ListProviders provides a mock function with given fields: ctx
func (_m *MockSessionService) ListProviders(ctx context.Context) []llm.ProviderInfo {
	ret := _m.Called(ctx)

	var r0 []llm.ProviderInfo
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]llm.ProviderInfo)
	}
	return r0
}

// ListConversations provides a mock function with given fields: ctx, sessionID
func (_m *MockSessionService) ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	ret := _m.Called(ctx, sessionID)

	var r0 []model.ConversationTurn
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.ConversationTurn)
	}
	return r0, ret.Error(1)
}

// NewMockSessionService creates a new instance of MockSessionService. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockSessionService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSessionService {
	mock := &MockSessionService{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
