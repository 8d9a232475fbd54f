package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	app_errors "arena-ai/backend/internal/errors"
	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/repository"
)

// errStalePatch aborts a session update whose patch belongs to a superseded submission.
var errStalePatch = errors.New("stale patch")

// ProviderRegistry is the set of providers the orchestrator may call.
type ProviderRegistry interface {
	Get(id model.ProviderID) (llm.Provider, bool)
	IDs() []model.ProviderID
	Catalogue() []llm.ProviderInfo
}

// Publisher receives every stored session snapshot.
type Publisher interface {
	Publish(sessionID string, snapshot *model.SessionState)
}

// Config holds the orchestration settings.
type Config struct {
	ProviderTimeout  time.Duration
	GracefulErrors   bool
	PatchInterval    time.Duration
	DefaultProviders []model.ProviderID
}

// SubmitRequest is a prompt to fan out.
type SubmitRequest struct {
	Prompt string
	// Providers overrides the session's enabled providers when non-empty.
	Providers []model.ProviderID
	// Context is sent ahead of the prompt. Nil builds it from the conversation history.
	Context []model.Message
	// Async returns the initial snapshot and finishes the fan-out in the background.
	Async bool
}

// submission tracks the in-flight work of one session generation.
type submission struct {
	generation int64
	ctx        context.Context
	cancel     context.CancelFunc
	active     int
}

// SessionService orchestrates prompt fan-out and the session lifecycle.
type SessionService struct {
	repo      repository.Repository
	providers ProviderRegistry
	publisher Publisher
	cfg       Config
	tel       *telemetry

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	inflight map[string]*submission
	closed   bool
	wg       sync.WaitGroup

	// pubMu orders publishes; published holds the last version pushed per session.
	pubMu     sync.Mutex
	published map[string]int64
}

// NewSessionService creates a new SessionService. publisher may be nil.
func NewSessionService(repo repository.Repository, providers ProviderRegistry, publisher Publisher, cfg Config) (*SessionService, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, fmt.Errorf("could not create telemetry instruments: %w", err)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &SessionService{
		repo:      repo,
		providers: providers,
		publisher: publisher,
		cfg:       cfg,
		tel:       tel,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		inflight:  make(map[string]*submission),
		published: make(map[string]int64),
	}, nil
}

// Close cancels all in-flight provider calls and waits for background fan-outs.
func (s *SessionService) Close() {
	s.mu.Lock()
	s.closed = true
	for id, sub := range s.inflight {
		sub.cancel()
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// CreateSession stores a new empty session. Without providers the configured defaults are enabled.
func (s *SessionService) CreateSession(ctx context.Context, userID string, providers []model.ProviderID) (*model.SessionState, error) {
	if len(providers) == 0 {
		providers = s.defaultProviders()
	}
	if err := s.validateProviders(providers); err != nil {
		return nil, err
	}
	session := model.NewSession(s.newID(), userID, uniqueProviders(providers), s.now())
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("could not create session: %w", err)
	}
	slog.Info("Session created", "session_id", session.ID, "providers", session.EnabledProviders)
	return session, nil
}

// GetSession returns the current snapshot of a session.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", app_errors.ErrValidation)
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, translate(err, "session", sessionID)
	}
	return session, nil
}

// SubmitPrompt replaces the session's current responses with one pending response
// per target provider, runs every provider concurrently and returns the final
// snapshot. Provider failures are contained in their own responses.
func (s *SessionService) SubmitPrompt(ctx context.Context, sessionID string, req SubmitRequest) (*model.SessionState, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", app_errors.ErrValidation)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", app_errors.ErrValidation)
	}
	if err := s.validateProviders(req.Providers); err != nil {
		return nil, err
	}

	initial, err := s.update(ctx, sessionID, func(st *model.SessionState) error {
		targets := uniqueProviders(req.Providers)
		if len(targets) == 0 {
			targets = slices.Clone(st.EnabledProviders)
		}
		if len(targets) == 0 {
			return fmt.Errorf("%w: no providers are enabled for this session", app_errors.ErrValidation)
		}
		if err := s.validateProviders(targets); err != nil {
			return err
		}

		history := req.Context
		if history == nil {
			history = buildContext(st.ConversationHistory)
		}

		now := s.now()
		responses := make([]model.ProviderResponse, 0, len(targets))
		for _, id := range targets {
			p, _ := s.providers.Get(id)
			responses = append(responses, model.NewProviderResponse(s.newID(), id, p.Descriptor().Model, prompt, now))
		}

		st.Generation++
		st.CurrentPrompt = prompt
		st.CurrentContext = slices.Clone(history)
		st.CurrentResponses = responses
		st.IsProcessing = true
		st.SelectedResponseID = nil
		st.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	gen := initial.Generation
	runCtx, release, ok := s.acquire(ctx, sessionID, gen)
	if !ok {
		return initial, nil
	}
	slog.Info("Prompt submitted", "session_id", sessionID, "generation", gen, "providers", len(initial.CurrentResponses))

	if req.Async {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer release()
			if _, err := s.fanOut(runCtx, initial); err != nil {
				slog.Error("Background fan-out failed", "session_id", sessionID, "generation", gen, "error", err)
			}
		}()
		return initial, nil
	}

	defer release()
	return s.fanOut(runCtx, initial)
}

// fanOut runs one machine per current response and waits for all of them.
func (s *SessionService) fanOut(ctx context.Context, initial *model.SessionState) (*model.SessionState, error) {
	ctx, span := s.tel.tracer.Start(ctx, spanSubmit, trace.WithAttributes(
		attribute.String("session_id", initial.ID),
		attribute.Int64("generation", initial.Generation),
		attribute.Int("providers", len(initial.CurrentResponses)),
	))
	defer span.End()

	// No shared context: one provider's failure must not cancel its siblings.
	var g errgroup.Group
	for _, resp := range initial.CurrentResponses {
		g.Go(func() error {
			return s.runGuarded(ctx, initial.ID, initial.Generation, resp, initial.CurrentContext)
		})
	}
	aggErr := g.Wait()
	if aggErr != nil {
		span.RecordError(aggErr)
		span.SetStatus(codes.Error, aggErr.Error())
	}

	final, err := s.finish(ctx, initial.ID, initial.Generation)
	if aggErr != nil {
		return final, aggErr
	}
	return final, err
}

// runGuarded runs one machine and turns a panic into an aggregation failure.
func (s *SessionService) runGuarded(ctx context.Context, sessionID string, gen int64, resp model.ProviderResponse, history []model.Message) error {
	p, ok := s.providers.Get(resp.Provider)
	if !ok {
		return fmt.Errorf("%w: provider %q is not registered", app_errors.ErrAggregation, resp.Provider)
	}
	patch := s.patchFunc(sessionID, gen)
	machine := NewResponseMachine(p, resp, history, MachineConfig{
		Timeout:       s.cfg.ProviderTimeout,
		Graceful:      s.cfg.GracefulErrors,
		PatchInterval: s.cfg.PatchInterval,
		Now:           s.now,
	}, patch)
	machine.tel = s.tel

	var catcher panics.Catcher
	catcher.Try(func() { machine.Run(ctx) })
	if r := catcher.Recovered(); r != nil {
		slog.Error("Provider machine panicked", "session_id", sessionID, "provider", resp.Provider, "panic", r.Value)
		failed := resp.Clone()
		msg := "internal error while processing this provider"
		failed.Status = model.StatusError
		failed.ErrorMessage = &msg
		failed.IsStreaming = false
		failed.StreamingProgress = 0
		if err := patch(context.WithoutCancel(ctx), failed); err != nil {
			slog.Warn("Failed to mark panicked response", "session_id", sessionID, "response_id", resp.ID, "error", err)
		}
		return fmt.Errorf("%w: provider %s: %v", app_errors.ErrAggregation, resp.Provider, r.Value)
	}
	return nil
}

// patchFunc returns the slot update for one generation. Patches for another
// generation, an unknown response, a different retry or an already terminal slot are dropped.
func (s *SessionService) patchFunc(sessionID string, gen int64) PatchFunc {
	return func(ctx context.Context, r model.ProviderResponse) error {
		_, err := s.update(ctx, sessionID, func(st *model.SessionState) error {
			if st.Generation != gen {
				return errStalePatch
			}
			i, ok := st.FindResponse(r.ID)
			if !ok {
				return errStalePatch
			}
			cur := st.CurrentResponses[i]
			if cur.RetryCount != r.RetryCount || cur.Status.IsTerminal() {
				return errStalePatch
			}
			st.CurrentResponses[i] = r
			st.UpdatedAt = s.now()
			return nil
		})
		if errors.Is(err, errStalePatch) {
			slog.Debug("Dropping stale patch", "session_id", sessionID, "generation", gen, "response_id", r.ID)
			s.tel.recordDropped(ctx, r.Provider)
			return nil
		}
		return err
	}
}

// finish clears isProcessing once every response of the generation is terminal.
func (s *SessionService) finish(ctx context.Context, sessionID string, gen int64) (*model.SessionState, error) {
	final, err := s.update(context.WithoutCancel(ctx), sessionID, func(st *model.SessionState) error {
		if st.Generation != gen {
			return errStalePatch
		}
		st.IsProcessing = !st.AllTerminal()
		st.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, errStalePatch) {
		slog.Debug("Submission superseded before completion", "session_id", sessionID, "generation", gen)
		return s.GetSession(context.WithoutCancel(ctx), sessionID)
	}
	return final, err
}

// SelectBest closes the current turn with the chosen response and archives it.
func (s *SessionService) SelectBest(ctx context.Context, sessionID, responseID string) (*model.SessionState, error) {
	if sessionID == "" || responseID == "" {
		return nil, fmt.Errorf("%w: session id and response id are required", app_errors.ErrValidation)
	}

	var turn model.ConversationTurn
	updated, err := s.update(ctx, sessionID, func(st *model.SessionState) error {
		i, ok := st.FindResponse(responseID)
		if !ok {
			return fmt.Errorf("%w: response %s is not part of the current turn", app_errors.ErrNotFound, responseID)
		}
		now := s.now()
		selected := st.CurrentResponses[i].Clone()
		turn = model.ConversationTurn{
			ID:               s.newID(),
			SessionID:        st.ID,
			UserPrompt:       st.CurrentPrompt,
			SelectedResponse: &selected,
			AllResponses:     model.CloneResponses(st.CurrentResponses),
			Timestamp:        now,
		}
		st.ConversationHistory = append(st.ConversationHistory, turn)
		st.CurrentResponses = []model.ProviderResponse{}
		st.CurrentPrompt = ""
		st.CurrentContext = nil
		st.IsProcessing = false
		st.SelectedResponseID = &responseID
		st.Generation++
		st.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.supersede(sessionID, updated.Generation)
	s.archive(ctx, turn)
	return updated, nil
}

// archive writes a closed turn and its responses to the conversation store.
func (s *SessionService) archive(ctx context.Context, turn model.ConversationTurn) {
	stored := turn
	stored.AllResponses = nil
	if err := s.repo.CreateConversation(ctx, &stored); err != nil {
		slog.Error("Failed to archive conversation turn", "session_id", turn.SessionID, "turn_id", turn.ID, "error", err)
		return
	}
	for i := range turn.AllResponses {
		if err := s.repo.CreateResponse(ctx, turn.ID, &turn.AllResponses[i]); err != nil {
			slog.Error("Failed to archive response", "turn_id", turn.ID, "response_id", turn.AllResponses[i].ID, "error", err)
		}
	}
}

// ToggleProvider adds or removes a provider from the session's enabled set.
func (s *SessionService) ToggleProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error) {
	if err := s.validateProviders([]model.ProviderID{provider}); err != nil {
		return nil, err
	}
	return s.update(ctx, sessionID, func(st *model.SessionState) error {
		st.ToggleProvider(provider)
		st.UpdatedAt = s.now()
		return nil
	})
}

// RetryProvider resets one terminal response to pending and runs that provider
// again with the turn's original prompt and context. Other responses are untouched.
func (s *SessionService) RetryProvider(ctx context.Context, sessionID string, provider model.ProviderID) (*model.SessionState, error) {
	if err := s.validateProviders([]model.ProviderID{provider}); err != nil {
		return nil, err
	}

	var target model.ProviderResponse
	retried, err := s.update(ctx, sessionID, func(st *model.SessionState) error {
		i, ok := st.FindProviderResponse(provider)
		if !ok {
			return fmt.Errorf("%w: no current response for provider %s", app_errors.ErrNotFound, provider)
		}
		if err := st.CurrentResponses[i].Retry(s.now()); err != nil {
			return fmt.Errorf("%w: response for %s is still %s", app_errors.ErrConflict, provider, st.CurrentResponses[i].Status)
		}
		target = st.CurrentResponses[i].Clone()
		st.IsProcessing = true
		st.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	gen := retried.Generation
	runCtx, release, ok := s.acquire(ctx, sessionID, gen)
	if !ok {
		return retried, nil
	}
	defer release()
	slog.Info("Retrying provider", "session_id", sessionID, "provider", provider, "retry_count", target.RetryCount)

	if err := s.runGuarded(runCtx, sessionID, gen, target, retried.CurrentContext); err != nil {
		final, _ := s.finish(runCtx, sessionID, gen)
		return final, err
	}
	return s.finish(runCtx, sessionID, gen)
}

// Reset returns the session to its empty initial shape, keeping only its id.
// Work still in flight for the session is cancelled.
func (s *SessionService) Reset(ctx context.Context, sessionID string) (*model.SessionState, error) {
	updated, err := s.update(ctx, sessionID, func(st *model.SessionState) error {
		st.Reset(s.defaultProviders(), s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.supersede(sessionID, updated.Generation)
	slog.Info("Session reset", "session_id", sessionID)
	return updated, nil
}

// ListProviders returns the provider catalogue.
func (s *SessionService) ListProviders(_ context.Context) []llm.ProviderInfo {
	return s.providers.Catalogue()
}

// ListConversations returns the archived turns of a session, oldest first.
func (s *SessionService) ListConversations(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, err := s.repo.ListConversations(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("could not list conversations: %w", err)
	}
	for i := range turns {
		responses, err := s.repo.ListResponses(ctx, turns[i].ID)
		if err != nil {
			return nil, fmt.Errorf("could not list responses of turn %s: %w", turns[i].ID, err)
		}
		turns[i].AllResponses = responses
	}
	return turns, nil
}

// update applies mutate through the repository and publishes the result.
// The version is bumped inside the store's atomic update, so it follows commit order.
func (s *SessionService) update(ctx context.Context, sessionID string, mutate repository.MutateFunc) (*model.SessionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", app_errors.ErrValidation)
	}
	updated, err := s.repo.UpdateSession(ctx, sessionID, func(st *model.SessionState) error {
		if err := mutate(st); err != nil {
			return err
		}
		st.Version++
		return nil
	})
	if err != nil {
		return nil, translate(err, "session", sessionID)
	}
	s.publish(sessionID, updated)
	return updated, nil
}

// publish pushes snapshot unless a newer version of the session was already pushed.
func (s *SessionService) publish(sessionID string, snapshot *model.SessionState) {
	if s.publisher == nil {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if snapshot.Version <= s.published[sessionID] {
		slog.Debug("Skipping out-of-order snapshot", "session_id", sessionID, "version", snapshot.Version)
		return
	}
	s.published[sessionID] = snapshot.Version
	s.publisher.Publish(sessionID, snapshot.Clone())
}

// acquire joins or starts the in-flight submission for gen. It reports false
// when a newer generation already owns the session.
func (s *SessionService) acquire(parent context.Context, sessionID string, gen int64) (context.Context, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, false
	}
	cur := s.inflight[sessionID]
	if cur != nil && cur.generation > gen {
		return nil, nil, false
	}
	if cur != nil && cur.generation < gen {
		cur.cancel()
		cur = nil
	}
	if cur == nil {
		ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
		cur = &submission{generation: gen, ctx: ctx, cancel: cancel}
		s.inflight[sessionID] = cur
	}
	cur.active++

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur.active--
		if cur.active > 0 {
			return
		}
		cur.cancel()
		if s.inflight[sessionID] == cur {
			delete(s.inflight, sessionID)
		}
	}
	return cur.ctx, release, true
}

// supersede cancels in-flight work older than gen.
func (s *SessionService) supersede(sessionID string, gen int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.inflight[sessionID]; cur != nil && cur.generation < gen {
		cur.cancel()
		delete(s.inflight, sessionID)
	}
}

func (s *SessionService) defaultProviders() []model.ProviderID {
	if len(s.cfg.DefaultProviders) > 0 {
		return slices.Clone(s.cfg.DefaultProviders)
	}
	return s.providers.IDs()
}

func uniqueProviders(ids []model.ProviderID) []model.ProviderID {
	out := make([]model.ProviderID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *SessionService) validateProviders(ids []model.ProviderID) error {
	for _, id := range ids {
		if _, ok := s.providers.Get(id); !ok {
			return fmt.Errorf("%w: unknown provider %q", app_errors.ErrValidation, id)
		}
	}
	return nil
}

// buildContext turns closed turns into the message history sent ahead of a new prompt.
func buildContext(history []model.ConversationTurn) []model.Message {
	msgs := make([]model.Message, 0, len(history)*2)
	for _, t := range history {
		msgs = append(msgs, model.Message{Role: "user", Content: t.UserPrompt})
		if t.SelectedResponse != nil && t.SelectedResponse.ResponseText != "" {
			msgs = append(msgs, model.Message{Role: "assistant", Content: t.SelectedResponse.ResponseText})
		}
	}
	return msgs
}

// translate maps repository errors onto the application taxonomy.
func translate(err error, kind, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", app_errors.ErrNotFound, kind, id)
	}
	return err
}
