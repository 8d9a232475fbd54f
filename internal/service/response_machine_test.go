package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/model"
	"arena-ai/backend/internal/service"
)

// patchLog collects the patches a machine publishes.
type patchLog struct {
	mu      sync.Mutex
	patches []model.ProviderResponse
}

func (l *patchLog) patch(_ context.Context, r model.ProviderResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patches = append(l.patches, r)
	return nil
}

func (l *patchLog) last() model.ProviderResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.patches[len(l.patches)-1]
}

// tickingClock advances by step on every reading.
func tickingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func pending(p model.ProviderID) model.ProviderResponse {
	return model.NewProviderResponse("r-"+string(p), p, "model-"+string(p), "hello", t0)
}

func TestResponseMachine_Success(t *testing.T) {
	// ARRANGE
	deltas := []string{"The ", "quick ", "", "brown ", "fox"}
	fake := newFake("a", step{deltas: deltas})
	log := &patchLog{}
	m := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{
		Timeout: time.Second,
		Now:     tickingClock(t0, 100*time.Millisecond),
	}, log.patch)

	// ACT
	final := m.Run(context.Background())

	// ASSERT
	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Equal(t, "The quick brown fox", final.ResponseText)
	assert.Equal(t, 100, final.StreamingProgress)
	assert.False(t, final.IsStreaming)
	assert.Nil(t, final.ErrorMessage)
	require.NotNil(t, final.Metrics.TokensPerSecond)
	require.NotNil(t, final.Metrics.FirstTokenLatencyMs)
	assert.Equal(t, int64(200), *final.Metrics.FirstTokenLatencyMs)
	assert.Equal(t, len("The quick brown fox"), final.Metrics.ResponseLength)
	assert.Equal(t, len("The quick brown fox")/4, *final.Metrics.TokenCountEstimate)

	// One patch per non-empty delta plus the terminal one.
	require.Len(t, log.patches, 5)
	first := log.patches[0]
	assert.Equal(t, model.StatusStreaming, first.Status)
	assert.True(t, first.IsStreaming)
	assert.Equal(t, "The ", first.ResponseText)

	prevLen, prevProgress := 0, 0
	for _, p := range log.patches[:4] {
		assert.GreaterOrEqual(t, len(p.ResponseText), prevLen, "text only grows while streaming")
		assert.GreaterOrEqual(t, p.StreamingProgress, prevProgress)
		assert.Less(t, p.StreamingProgress, 100)
		prevLen, prevProgress = len(p.ResponseText), p.StreamingProgress
	}
	assert.Equal(t, final, log.last())
}

func TestResponseMachine_SingleShotWithoutDeltas(t *testing.T) {
	fake := newFake("a", step{})
	log := &patchLog{}

	final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{}, log.patch).Run(context.Background())

	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Empty(t, final.ResponseText)
	assert.Nil(t, final.Metrics.TokensPerSecond)
	assert.Len(t, log.patches, 1)
}

func TestResponseMachine_MissingCredential(t *testing.T) {
	adapter := llm.NewAdapter(llm.Descriptor{
		ID:            "c",
		DisplayName:   "Provider C",
		Endpoint:      "http://127.0.0.1:1/v1/chat/completions",
		CredentialEnv: "C_API_KEY",
		Streaming:     true,
	}, func(string) string { return "" }, nil)

	t.Run("Graceful policy answers with an explanation", func(t *testing.T) {
		final := service.NewResponseMachine(adapter, pending("c"), nil, service.MachineConfig{Graceful: true}, nil).Run(context.Background())

		assert.Equal(t, model.StatusSuccess, final.Status)
		require.NotNil(t, final.ErrorMessage)
		assert.Contains(t, final.ResponseText, "C_API_KEY")
		assert.Contains(t, final.ResponseText, "Provider C")
		assert.Equal(t, 100, final.StreamingProgress)
	})

	t.Run("Strict policy reports an error", func(t *testing.T) {
		final := service.NewResponseMachine(adapter, pending("c"), nil, service.MachineConfig{Graceful: false}, nil).Run(context.Background())

		assert.Equal(t, model.StatusError, final.Status)
		require.NotNil(t, final.ErrorMessage)
		assert.Contains(t, *final.ErrorMessage, "C_API_KEY")
		assert.Equal(t, 0, final.StreamingProgress)
	})
}

func TestResponseMachine_ClassifiedProviderError(t *testing.T) {
	limited := &llm.ProviderError{Provider: "a", DisplayName: "A", Class: llm.ClassRateLimited, StatusCode: 429, Message: "Rate limit exceeded"}

	t.Run("Graceful", func(t *testing.T) {
		fake := newFake("a", step{err: limited})
		final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{Graceful: true}, nil).Run(context.Background())

		assert.Equal(t, model.StatusSuccess, final.Status)
		require.NotNil(t, final.ErrorMessage)
		assert.Equal(t, "Rate limit exceeded", *final.ErrorMessage)
		assert.Equal(t, limited.UserMessage(), final.ResponseText)
	})

	t.Run("Graceful metrics describe the explanation", func(t *testing.T) {
		fake := newFake("a", step{deltas: []string{"partial"}, err: limited})
		final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{Graceful: true}, nil).Run(context.Background())

		want := "partial\n\n" + limited.UserMessage()
		assert.Equal(t, want, final.ResponseText)
		assert.Equal(t, len([]rune(want)), final.Metrics.ResponseLength)
		require.NotNil(t, final.Metrics.TokenCountEstimate)
		assert.Equal(t, len([]rune(want))/4, *final.Metrics.TokenCountEstimate)
		assert.Positive(t, *final.Metrics.TokenCountEstimate)
	})

	t.Run("Strict", func(t *testing.T) {
		fake := newFake("a", step{err: limited})
		final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{}, nil).Run(context.Background())

		assert.Equal(t, model.StatusRateLimited, final.Status)
		require.NotNil(t, final.ErrorMessage)
	})

	t.Run("Strict generic class is an error", func(t *testing.T) {
		generic := &llm.ProviderError{Provider: "a", DisplayName: "A", Class: llm.ClassGeneric, StatusCode: 500, Message: "oops"}
		final := service.NewResponseMachine(newFake("a", step{err: generic}), pending("a"), nil, service.MachineConfig{}, nil).Run(context.Background())

		assert.Equal(t, model.StatusError, final.Status)
	})
}

func TestResponseMachine_TransportErrorKeepsPartialText(t *testing.T) {
	drop := errors.New("read tcp: connection reset by peer")
	fake := newFake("a", step{deltas: []string{"partial"}, err: drop})

	final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{Graceful: true}, nil).Run(context.Background())

	assert.Equal(t, model.StatusError, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, drop.Error(), *final.ErrorMessage)
	assert.Equal(t, "partial", final.ResponseText)
	assert.Equal(t, 0, final.StreamingProgress)
	assert.False(t, final.IsStreaming)
}

func TestResponseMachine_Timeout(t *testing.T) {
	fake := newFake("a", step{deltas: []string{"slow"}, block: true})

	final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{Timeout: 30 * time.Millisecond, Graceful: true}, nil).Run(context.Background())

	assert.Equal(t, model.StatusTimeout, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, "slow", final.ResponseText)
}

func TestResponseMachine_PatchInterval(t *testing.T) {
	fake := newFake("a", step{deltas: []string{"a", "b", "c", "d"}})
	log := &patchLog{}
	m := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{
		PatchInterval: time.Hour,
		Now:           tickingClock(t0, time.Millisecond),
	}, log.patch)

	final := m.Run(context.Background())

	// The first delta and the terminal state are always published.
	require.Len(t, log.patches, 2)
	assert.Equal(t, "a", log.patches[0].ResponseText)
	assert.Equal(t, "abcd", final.ResponseText)
}

func TestResponseMachine_PatchFailureDoesNotStopTheCall(t *testing.T) {
	fake := newFake("a", step{deltas: []string{"x", "y"}})
	failing := func(context.Context, model.ProviderResponse) error { return errors.New("store down") }

	final := service.NewResponseMachine(fake, pending("a"), nil, service.MachineConfig{}, failing).Run(context.Background())

	assert.Equal(t, model.StatusSuccess, final.Status)
	assert.Equal(t, "xy", final.ResponseText)
}
