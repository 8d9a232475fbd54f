package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	app_errors "arena-ai/backend/internal/errors"
	"arena-ai/backend/internal/events"
	"arena-ai/backend/internal/interfaces"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/service"
)

// SessionHandler handles HTTP requests for arena sessions.
type SessionHandler struct {
	service interfaces.SessionService
}

func NewSessionHandler(svc interfaces.SessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// decodeJSON reads a request body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request payload: %s", app_errors.ErrValidation, err.Error())
	}
	return nil
}

// HandleCreateSession godoc
// @Summary      Create a session
// @Description  Opens an empty arena session. Without providers the server's default set is enabled.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        sessionRequest  body      CreateSessionRequest  false  "Owner and enabled providers"
// @Success      201             {object}  model.SessionState
// @Failure      400             {object}  ErrorResponse
// @Failure      500             {object}  ErrorResponse
// @Router       /v1/sessions [post]
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	session, err := h.service.CreateSession(r.Context(), req.UserID, req.Providers)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

// HandleGetSession godoc
// @Summary      Get a session
// @Description  Returns the current snapshot of a session.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  model.SessionState
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID} [get]
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// HandleSubmitPrompt godoc
// @Summary      Submit a prompt
// @Description  Sends the prompt to every enabled provider concurrently. Synchronous requests return
// @Description  the final snapshot; async requests return 202 with the pending snapshot and progress
// @Description  is pushed on the session's events stream.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        sessionID      path      string               true  "Session ID"
// @Param        promptRequest  body      SubmitPromptRequest  true  "Prompt"
// @Success      200            {object}  model.SessionState
// @Success      202            {object}  model.SessionState
// @Failure      400            {object}  ErrorResponse
// @Failure      404            {object}  ErrorResponse
// @Failure      500            {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/prompts [post]
func (h *SessionHandler) HandleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SubmitPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	session, err := h.service.SubmitPrompt(r.Context(), sessionID, service.SubmitRequest{
		Prompt:    req.Prompt,
		Providers: req.Providers,
		Context:   req.Context,
		Async:     req.Async,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	status := http.StatusOK
	if req.Async {
		status = http.StatusAccepted
	}
	respondWithJSON(w, status, session)
}

// HandleSelectResponse godoc
// @Summary      Select the best response
// @Description  Closes the current turn with the chosen response and archives it.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        sessionID      path      string                 true  "Session ID"
// @Param        selectRequest  body      SelectResponseRequest  true  "Chosen response"
// @Success      200            {object}  model.SessionState
// @Failure      400            {object}  ErrorResponse
// @Failure      404            {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/select [post]
func (h *SessionHandler) HandleSelectResponse(w http.ResponseWriter, r *http.Request) {
	var req SelectResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	session, err := h.service.SelectBest(r.Context(), chi.URLParam(r, "sessionID"), req.ResponseID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// HandleToggleProvider godoc
// @Summary      Toggle a provider
// @Description  Enables or disables a provider for the session's next prompts.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID   path      string  true  "Session ID"
// @Param        providerID  path      string  true  "Provider ID"
// @Success      200         {object}  model.SessionState
// @Failure      400         {object}  ErrorResponse
// @Failure      404         {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/providers/{providerID}/toggle [post]
func (h *SessionHandler) HandleToggleProvider(w http.ResponseWriter, r *http.Request) {
	provider := model.ProviderID(chi.URLParam(r, "providerID"))
	session, err := h.service.ToggleProvider(r.Context(), chi.URLParam(r, "sessionID"), provider)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// HandleRetryProvider godoc
// @Summary      Retry a provider
// @Description  Runs one provider again for the current prompt. Only finished responses can be retried.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID   path      string  true  "Session ID"
// @Param        providerID  path      string  true  "Provider ID"
// @Success      200         {object}  model.SessionState
// @Failure      400         {object}  ErrorResponse
// @Failure      404         {object}  ErrorResponse
// @Failure      409         {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/providers/{providerID}/retry [post]
func (h *SessionHandler) HandleRetryProvider(w http.ResponseWriter, r *http.Request) {
	provider := model.ProviderID(chi.URLParam(r, "providerID"))
	session, err := h.service.RetryProvider(r.Context(), chi.URLParam(r, "sessionID"), provider)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// HandleResetSession godoc
// @Summary      Reset a session
// @Description  Clears history and current responses, keeping the session id. In-flight calls are cancelled.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  model.SessionState
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/reset [post]
func (h *SessionHandler) HandleResetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Reset(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

// HandleListConversations godoc
// @Summary      List archived turns
// @Description  Returns the session's closed turns, oldest first, with every response offered in each.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {array}   model.ConversationTurn
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/conversations [get]
func (h *SessionHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	turns, err := h.service.ListConversations(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}
	respondWithJSON(w, http.StatusOK, turns)
}

// EventsHandler streams session snapshots to clients.
type EventsHandler struct {
	sessions interfaces.SessionService
	source   interfaces.EventSource
}

func NewEventsHandler(sessions interfaces.SessionService, source interfaces.EventSource) *EventsHandler {
	return &EventsHandler{sessions: sessions, source: source}
}

// HandleSessionEvents godoc
// @Summary      Subscribe to session updates
// @Description  Server-Sent Events stream. Every frame is a `response-update` event carrying the full
// @Description  session snapshot; the first frame is the snapshot at subscription time.
// @Tags         Sessions
// @Produce      text/event-stream
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  model.SessionState  "Stream of session snapshots"
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/events [get]
func (h *EventsHandler) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Subscribe before reading the snapshot so no commit falls between the two.
	sub, unsubscribe := h.source.Subscribe(sessionID)
	defer unsubscribe()

	current, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial, err := json.Marshal(current)
	if err != nil {
		sendStreamError(w, "Could not encode session")
		return
	}
	if err := writeStreamEvent(w, events.EventResponseUpdate, initial); err != nil {
		slog.Warn("Could not write to session stream, client likely disconnected.", "session_id", sessionID, "error", err)
		return
	}
	slog.Info("Session stream opened", "session_id", sessionID, "subscriber_id", sub.ID())

	for {
		select {
		case <-r.Context().Done():
			slog.Info("Client disconnected from session stream.", "session_id", sessionID)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			// Already covered by the initial snapshot.
			if ev.Version <= current.Version {
				continue
			}
			if err := writeStreamEvent(w, ev.Name, ev.Data); err != nil {
				slog.Warn("Could not write to session stream, client likely disconnected.", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}
