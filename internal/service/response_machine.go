package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"arena-ai/backend/internal/llm"
	"arena-ai/backend/internal/metrics"
	"arena-ai/backend/internal/model"
)

// expectedLength is the answer size, in characters, the progress estimate is scaled against.
const expectedLength = 2000

// PatchFunc publishes the current state of one response slot.
type PatchFunc func(ctx context.Context, resp model.ProviderResponse) error

// MachineConfig controls how a ResponseMachine drives a call.
type MachineConfig struct {
	// Timeout is the per-provider request ceiling.
	Timeout time.Duration
	// Graceful turns configuration and classified provider errors into
	// successful responses carrying an explanation.
	Graceful bool
	// PatchInterval throttles streaming patches. Zero publishes every delta.
	PatchInterval time.Duration
	Now           func() time.Time
}

// ResponseMachine drives exactly one ProviderResponse from pending to a terminal state.
// It is not safe for concurrent use; deltas arrive from one sequential stream reader.
type ResponseMachine struct {
	provider llm.Provider
	history  []model.Message
	cfg      MachineConfig
	patch    PatchFunc
	tel      *telemetry

	resp       model.ProviderResponse
	text       strings.Builder
	firstToken *time.Time
	lastPatch  time.Time
}

// NewResponseMachine prepares a machine for a pending response.
func NewResponseMachine(p llm.Provider, initial model.ProviderResponse, history []model.Message, cfg MachineConfig, patch PatchFunc) *ResponseMachine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ResponseMachine{
		provider: p,
		history:  history,
		cfg:      cfg,
		patch:    patch,
		resp:     initial.Clone(),
	}
}

// Run performs the call and returns the terminal response. Every transition is
// handed to the patch func; patch failures are logged and do not stop the call.
func (m *ResponseMachine) Run(ctx context.Context) model.ProviderResponse {
	persistCtx := context.WithoutCancel(ctx)
	started := m.cfg.Now()

	var span trace.Span
	if m.tel != nil {
		ctx, span = m.tel.tracer.Start(ctx, spanProviderCall, trace.WithAttributes(
			attribute.String("provider", string(m.resp.Provider)),
			attribute.String("model", m.resp.Model),
			attribute.Int("retry", m.resp.RetryCount),
		))
		defer span.End()
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.provider.Execute(callCtx, m.resp.Prompt, m.history, func(delta string) {
		m.applyDelta(persistCtx, delta)
	})

	if err == nil {
		m.succeed()
	} else {
		m.fail(ctx, callCtx, err)
	}

	if span != nil {
		span.SetAttributes(attribute.String("status", string(m.resp.Status)))
		if m.resp.ErrorMessage != nil {
			span.SetStatus(codes.Error, *m.resp.ErrorMessage)
		}
	}
	if m.tel != nil {
		m.tel.recordCall(persistCtx, m.resp.Provider, m.resp.Status, m.cfg.Now().Sub(started))
	}

	m.publish(persistCtx)
	return m.resp.Clone()
}

func (m *ResponseMachine) applyDelta(ctx context.Context, delta string) {
	if delta == "" || m.resp.Status.IsTerminal() {
		return
	}
	now := m.cfg.Now()
	first := m.firstToken == nil
	if first {
		m.firstToken = &now
		m.resp.Status = model.StatusStreaming
		m.resp.IsStreaming = true
	}
	m.text.WriteString(delta)
	m.resp.ResponseText = m.text.String()
	m.resp.Metrics = metrics.Compute(m.resp.Timestamp, now, m.resp.ResponseText, m.firstToken).Report()
	m.resp.StreamingProgress = metrics.Progress(m.resp.StreamingProgress, m.resp.Metrics.ResponseLength, expectedLength)

	if !first && m.cfg.PatchInterval > 0 && now.Sub(m.lastPatch) < m.cfg.PatchInterval {
		return
	}
	m.lastPatch = now
	m.publish(ctx)
}

func (m *ResponseMachine) succeed() {
	m.freeze(m.text.String())
	m.resp.Status = model.StatusSuccess
	m.resp.StreamingProgress = 100
}

// fail maps an Execute error onto a terminal state.
func (m *ResponseMachine) fail(parent, callCtx context.Context, err error) {
	var (
		credErr *llm.CredentialError
		provErr *llm.ProviderError
	)
	switch {
	case errors.As(err, &credErr):
		if m.cfg.Graceful {
			m.explain(credErr.UserMessage(), credErr.Error())
			return
		}
		m.terminate(model.StatusError, credErr.UserMessage())

	case errors.As(err, &provErr):
		if m.cfg.Graceful {
			m.explain(provErr.UserMessage(), provErr.Message)
			return
		}
		status := model.StatusError
		if provErr.Class == llm.ClassRateLimited {
			status = model.StatusRateLimited
		}
		m.terminate(status, provErr.UserMessage())

	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && callCtx.Err() != nil:
		m.terminate(model.StatusTimeout, fmt.Sprintf("no terminal response within %s", m.cfg.Timeout))

	default:
		if parent.Err() != nil {
			slog.Debug("Provider call cancelled", "provider", m.resp.Provider, "response_id", m.resp.ID)
		} else {
			slog.Warn("Provider call failed", "provider", m.resp.Provider, "response_id", m.resp.ID, "error", err)
		}
		m.terminate(model.StatusError, err.Error())
	}
}

// explain finalizes a graceful failure: success status, an explanatory text and the classified message.
// Metrics describe the text the caller receives, explanation included.
func (m *ResponseMachine) explain(userMessage, errMessage string) {
	slog.Info("Provider unavailable, answering with an explanation", "provider", m.resp.Provider, "response_id", m.resp.ID, "reason", errMessage)
	text := userMessage
	if m.text.Len() > 0 {
		text = m.text.String() + "\n\n" + userMessage
	}
	m.freeze(text)
	m.resp.Status = model.StatusSuccess
	m.resp.StreamingProgress = 100
	m.resp.ErrorMessage = &errMessage
}

func (m *ResponseMachine) terminate(status model.ResponseStatus, msg string) {
	m.freeze(m.text.String())
	m.resp.Status = status
	m.resp.StreamingProgress = 0
	m.resp.ErrorMessage = &msg
}

// freeze computes the final metrics at completion time.
func (m *ResponseMachine) freeze(text string) {
	m.resp.ResponseText = text
	m.resp.IsStreaming = false
	m.resp.Metrics = metrics.Compute(m.resp.Timestamp, m.cfg.Now(), text, m.firstToken).Report()
}

func (m *ResponseMachine) publish(ctx context.Context) {
	if m.patch == nil {
		return
	}
	if err := m.patch(ctx, m.resp.Clone()); err != nil {
		slog.Warn("Failed to publish response patch", "provider", m.resp.Provider, "response_id", m.resp.ID, "status", m.resp.Status, "error", err)
	}
}
