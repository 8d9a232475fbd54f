// Black-box tests: only the exported API of the package is used.
package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"arena-ai/backend/internal/api"
	app_errors "arena-ai/backend/internal/errors"
	"arena-ai/backend/internal/events"
	"arena-ai/backend/internal/interfaces/mocks"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/service"
)

func setupSessionHandler(t *testing.T) (*api.SessionHandler, *mocks.MockSessionService) {
	mockSvc := mocks.NewMockSessionService(t)
	return api.NewSessionHandler(mockSvc), mockSvc
}

// addChiURLParams injects URL parameters the way the chi router does.
func addChiURLParams(req *http.Request, params map[string]string) *http.Request {
	chiCtx := chi.NewRouteContext()
	for key, value := range params {
		chiCtx.URLParams.Add(key, value)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chiCtx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestSessionHandler_HandleCreateSession(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// ARRANGE
		handler, mockSvc := setupSessionHandler(t)
		created := &model.SessionState{ID: "s-1", EnabledProviders: []model.ProviderID{"openai", "deepseek"}}
		mockSvc.On("CreateSession", mock.Anything, "user-1", []model.ProviderID{"openai", "deepseek"}).Return(created, nil).Once()

		// ACT
		body := `{"userId":"user-1","providers":["openai","deepseek"]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.HandleCreateSession(rr, req)

		// ASSERT
		assert.Equal(t, http.StatusCreated, rr.Code)
		var got model.SessionState
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "s-1", got.ID)
	})

	t.Run("Success - Empty body uses defaults", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("CreateSession", mock.Anything, "", []model.ProviderID(nil)).Return(&model.SessionState{ID: "s-2"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", http.NoBody)
		rr := httptest.NewRecorder()
		handler.HandleCreateSession(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("Failure - Invalid JSON", func(t *testing.T) {
		handler, _ := setupSessionHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"userId":`))
		rr := httptest.NewRecorder()
		handler.HandleCreateSession(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Failure - Blank provider id", func(t *testing.T) {
		handler, _ := setupSessionHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"providers":["openai",""]}`))
		rr := httptest.NewRecorder()
		handler.HandleCreateSession(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr), "providers[1]")
	})

	t.Run("Failure - Unknown provider", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("CreateSession", mock.Anything, "", []model.ProviderID{"nope"}).
			Return(nil, fmt.Errorf("%w: unknown provider \"nope\"", app_errors.ErrValidation)).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"providers":["nope"]}`))
		rr := httptest.NewRecorder()
		handler.HandleCreateSession(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr), "unknown provider")
	})
}

func TestSessionHandler_HandleGetSession(t *testing.T) {
	testCases := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"Success", nil, http.StatusOK},
		{"Not found", app_errors.ErrNotFound, http.StatusNotFound},
		{"Internal error", fmt.Errorf("database is locked"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler, mockSvc := setupSessionHandler(t)
			var session *model.SessionState
			if tc.serviceErr == nil {
				session = &model.SessionState{ID: "s-1"}
			}
			mockSvc.On("GetSession", mock.Anything, "s-1").Return(session, tc.serviceErr).Once()

			req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s-1", nil)
			req = addChiURLParams(req, map[string]string{"sessionID": "s-1"})
			rr := httptest.NewRecorder()
			handler.HandleGetSession(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
		})
	}

	t.Run("Internal details are not leaked", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("GetSession", mock.Anything, "s-1").Return(nil, fmt.Errorf("sql: OPENAI_API_KEY=sk-live")).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodGet, "/v1/sessions/s-1", nil), map[string]string{"sessionID": "s-1"})
		rr := httptest.NewRecorder()
		handler.HandleGetSession(rr, req)

		assert.NotContains(t, rr.Body.String(), "sk-live")
	})
}

func TestSessionHandler_HandleSubmitPrompt(t *testing.T) {
	params := map[string]string{"sessionID": "s-1"}

	t.Run("Success - Synchronous", func(t *testing.T) {
		// ARRANGE
		handler, mockSvc := setupSessionHandler(t)
		final := &model.SessionState{ID: "s-1", CurrentPrompt: "hello"}
		mockSvc.On("SubmitPrompt", mock.Anything, "s-1", mock.MatchedBy(func(r service.SubmitRequest) bool {
			return r.Prompt == "hello" && !r.Async && r.Context == nil && len(r.Providers) == 0
		})).Return(final, nil).Once()

		// ACT
		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/prompts", strings.NewReader(`{"prompt":"hello"}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSubmitPrompt(rr, req)

		// ASSERT
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Success - Async with explicit empty context", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("SubmitPrompt", mock.Anything, "s-1", mock.MatchedBy(func(r service.SubmitRequest) bool {
			return r.Async && r.Context != nil && len(r.Context) == 0 && len(r.Providers) == 1 && r.Providers[0] == "openai"
		})).Return(&model.SessionState{ID: "s-1", IsProcessing: true}, nil).Once()

		body := `{"prompt":"hello","async":true,"context":[],"providers":["openai"]}`
		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/prompts", strings.NewReader(body)), params)
		rr := httptest.NewRecorder()
		handler.HandleSubmitPrompt(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
	})

	t.Run("Failure - Empty prompt never reaches the service", func(t *testing.T) {
		handler, _ := setupSessionHandler(t)

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/prompts", strings.NewReader(`{"prompt":""}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSubmitPrompt(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr), "prompt")
	})

	t.Run("Failure - Invalid context role", func(t *testing.T) {
		handler, _ := setupSessionHandler(t)

		body := `{"prompt":"hi","context":[{"role":"robot","content":"beep"}]}`
		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/prompts", strings.NewReader(body)), params)
		rr := httptest.NewRecorder()
		handler.HandleSubmitPrompt(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeError(t, rr), "context[0].role")
	})

	t.Run("Failure - Aggregation", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("SubmitPrompt", mock.Anything, "s-1", mock.Anything).
			Return(&model.SessionState{ID: "s-1"}, fmt.Errorf("%w: provider b: boom", app_errors.ErrAggregation)).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/prompts", strings.NewReader(`{"prompt":"hi"}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSubmitPrompt(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestSessionHandler_HandleSelectResponse(t *testing.T) {
	params := map[string]string{"sessionID": "s-1"}

	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("SelectBest", mock.Anything, "s-1", "r-1").Return(&model.SessionState{ID: "s-1"}, nil).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/select", strings.NewReader(`{"responseId":"r-1"}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSelectResponse(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Failure - Missing response id", func(t *testing.T) {
		handler, _ := setupSessionHandler(t)

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/select", strings.NewReader(`{}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSelectResponse(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Failure - Unknown response", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("SelectBest", mock.Anything, "s-1", "r-x").Return(nil, app_errors.ErrNotFound).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/select", strings.NewReader(`{"responseId":"r-x"}`)), params)
		rr := httptest.NewRecorder()
		handler.HandleSelectResponse(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestSessionHandler_ProviderActions(t *testing.T) {
	params := map[string]string{"sessionID": "s-1", "providerID": "deepseek"}

	t.Run("Toggle", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("ToggleProvider", mock.Anything, "s-1", model.ProviderID("deepseek")).Return(&model.SessionState{ID: "s-1"}, nil).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/providers/deepseek/toggle", nil), params)
		rr := httptest.NewRecorder()
		handler.HandleToggleProvider(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Retry conflict", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("RetryProvider", mock.Anything, "s-1", model.ProviderID("deepseek")).Return(nil, app_errors.ErrConflict).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/providers/deepseek/retry", nil), params)
		rr := httptest.NewRecorder()
		handler.HandleRetryProvider(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("Reset", func(t *testing.T) {
		handler, mockSvc := setupSessionHandler(t)
		mockSvc.On("Reset", mock.Anything, "s-1").Return(&model.SessionState{ID: "s-1", Generation: 4}, nil).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/v1/sessions/s-1/reset", nil), params)
		rr := httptest.NewRecorder()
		handler.HandleResetSession(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestSessionHandler_HandleListConversations(t *testing.T) {
	handler, mockSvc := setupSessionHandler(t)
	mockSvc.On("ListConversations", mock.Anything, "s-1").Return(nil, nil).Once()

	req := addChiURLParams(httptest.NewRequest(http.MethodGet, "/v1/sessions/s-1/conversations", nil), map[string]string{"sessionID": "s-1"})
	rr := httptest.NewRecorder()
	handler.HandleListConversations(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

// newTestServer wires the real router around a mocked service and a real hub.
func newTestServer(t *testing.T) (*httptest.Server, *mocks.MockSessionService, *events.Hub) {
	t.Helper()
	mockSvc := mocks.NewMockSessionService(t)
	hub := events.NewHub()
	router := api.NewRouter(api.NewSessionHandler(mockSvc), api.NewProviderHandler(mockSvc), api.NewEventsHandler(mockSvc, hub))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, mockSvc, hub
}

// readEvent reads one SSE frame and returns its event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsHandler_StreamsSessionUpdates(t *testing.T) {
	// ARRANGE
	srv, mockSvc, hub := newTestServer(t)
	mockSvc.On("GetSession", mock.Anything, "s-1").Return(&model.SessionState{ID: "s-1", CurrentPrompt: "initial", Version: 1}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/s-1/events", nil)
	require.NoError(t, err)

	// ACT
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	reader := bufio.NewReader(resp.Body)

	// ASSERT
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	name, data := readEvent(t, reader)
	assert.Equal(t, events.EventResponseUpdate, name)
	assert.Contains(t, data, `"currentPrompt":"initial"`)

	require.Eventually(t, func() bool { return hub.Subscribers("s-1") == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish("s-1", &model.SessionState{ID: "s-1", CurrentPrompt: "next", Version: 2})

	name, data = readEvent(t, reader)
	assert.Equal(t, events.EventResponseUpdate, name)
	assert.Contains(t, data, `"currentPrompt":"next"`)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("s-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestEventsHandler_UpdatesDuringSnapshotReadAreDelivered(t *testing.T) {
	// ARRANGE
	srv, mockSvc, hub := newTestServer(t)
	mockSvc.On("GetSession", mock.Anything, "s-1").
		Run(func(mock.Arguments) {
			// Commits racing the snapshot read: one it already reflects, one newer.
			hub.Publish("s-1", &model.SessionState{ID: "s-1", CurrentPrompt: "covered", Version: 4})
			hub.Publish("s-1", &model.SessionState{ID: "s-1", CurrentPrompt: "during", Version: 6})
		}).
		Return(&model.SessionState{ID: "s-1", CurrentPrompt: "initial", Version: 5}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/s-1/events", nil)
	require.NoError(t, err)

	// ACT
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	reader := bufio.NewReader(resp.Body)

	// ASSERT
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, data := readEvent(t, reader)
	assert.Contains(t, data, `"currentPrompt":"initial"`)
	_, data = readEvent(t, reader)
	assert.Contains(t, data, `"currentPrompt":"during"`)
}

func TestEventsHandler_UnknownSession(t *testing.T) {
	srv, mockSvc, _ := newTestServer(t)
	mockSvc.On("GetSession", mock.Anything, "nope").Return(nil, app_errors.ErrNotFound).Once()

	resp, err := http.Get(srv.URL + "/api/v1/sessions/nope/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_HealthAndProviders(t *testing.T) {
	srv, mockSvc, _ := newTestServer(t)
	mockSvc.On("ListProviders", mock.Anything).Return(nil).Once()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/providers")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/unknown")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
