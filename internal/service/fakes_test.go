package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/repository"
	"arena-ai/backend/internal/service"
)

// step is one scripted reply of a fakeProvider.
type step struct {
	deltas []string
	err    error
	// block waits for release (or the call's context) before returning.
	block bool
	panic string
}

// fakeProvider replays scripted replies, one per call; the last step repeats.
type fakeProvider struct {
	id      model.ProviderID
	release chan struct{}

	mu        sync.Mutex
	script    []step
	calls     int
	histories [][]model.Message
}

func newFake(id model.ProviderID, script ...step) *fakeProvider {
	if len(script) == 0 {
		script = []step{{deltas: []string{"answer from ", string(id)}}}
	}
	return &fakeProvider{id: id, script: script, release: make(chan struct{})}
}

func (f *fakeProvider) ID() model.ProviderID { return f.id }

func (f *fakeProvider) Descriptor() llm.Descriptor {
	return llm.Descriptor{ID: f.id, DisplayName: string(f.id), Model: "model-" + string(f.id)}
}

func (f *fakeProvider) Execute(ctx context.Context, _ string, history []model.Message, onDelta llm.DeltaFunc) error {
	f.mu.Lock()
	s := f.script[min(f.calls, len(f.script)-1)]
	f.calls++
	f.histories = append(f.histories, history)
	f.mu.Unlock()

	for _, d := range s.deltas {
		onDelta(d)
	}
	if s.panic != "" {
		panic(s.panic)
	}
	if s.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) LastHistory() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

// recorder keeps every published snapshot.
type recorder struct {
	mu        sync.Mutex
	snapshots []*model.SessionState
}

func (r *recorder) Publish(_ string, s *model.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) All() []*model.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.SessionState(nil), r.snapshots...)
}

type fixture struct {
	svc  *service.SessionService
	repo repository.Repository
	pub  *recorder
}

func newFixture(t *testing.T, cfg service.Config, providers ...llm.Provider) *fixture {
	t.Helper()
	reg := llm.NewRegistry(nil, nil, nil)
	for _, p := range providers {
		reg.Register(p)
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = 2 * time.Second
	}
	repo := repository.NewMemoryRepository()
	pub := &recorder{}
	svc, err := service.NewSessionService(repo, reg, pub, cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, repo: repo, pub: pub}
}

func responseFor(t *testing.T, s *model.SessionState, p model.ProviderID) model.ProviderResponse {
	t.Helper()
	i, ok := s.FindProviderResponse(p)
	require.True(t, ok, "no response for %s", p)
	return s.CurrentResponses[i]
}
