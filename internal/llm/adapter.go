package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"arena-ai/backend/internal/model"
)

const maxErrorBody = 64 * 1024

// Request is a fully built upstream call.
type Request struct {
	URL     string
	Headers http.Header
	Body    []byte
}

// Adapter is the single, descriptor-driven implementation of Provider.
type Adapter struct {
	desc   Descriptor
	creds  CredentialSource
	client *http.Client
}

// NewAdapter returns an adapter for one descriptor. A nil client uses http.DefaultClient.
func NewAdapter(d Descriptor, creds CredentialSource, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	if d.Shape == "" {
		d.Shape = ShapeMessage
	}
	return &Adapter{desc: d, creds: creds, client: client}
}

func (a *Adapter) ID() model.ProviderID { return a.desc.ID }

func (a *Adapter) Descriptor() Descriptor { return a.desc }

// BuildRequest shapes the upstream call. It fails fast with a *CredentialError
// when the descriptor names a credential that is not configured.
func (a *Adapter) BuildRequest(prompt string, history []model.Message) (*Request, error) {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if a.desc.Streaming {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}

	if a.desc.CredentialEnv != "" {
		var key string
		if a.creds != nil {
			key = a.creds(a.desc.CredentialEnv)
		}
		if key == "" {
			return nil, &CredentialError{Provider: a.desc.ID, DisplayName: a.desc.DisplayName, EnvKey: a.desc.CredentialEnv}
		}
		h.Set("Authorization", "Bearer "+key)
	}
	for k, v := range a.desc.Headers {
		h.Set(k, v)
	}

	body, err := json.Marshal(a.desc.Shape.requestBody(a.desc.Model, prompt, history, a.desc.Streaming))
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	return &Request{URL: a.desc.Endpoint, Headers: h, Body: body}, nil
}

// Execute performs the call and feeds content to onDelta. Errors are a
// *CredentialError, a *ProviderError, or the raw transport error.
func (a *Adapter) Execute(ctx context.Context, prompt string, history []model.Message, onDelta DeltaFunc) error {
	req, err := a.BuildRequest(prompt, history)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("could not create http request: %w", err)
	}
	httpReq.Header = req.Headers

	slog.Debug("Calling provider", "provider", a.desc.ID, "model", a.desc.Model, "streaming", a.desc.Streaming)
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer func() {
		if bErr := resp.Body.Close(); bErr != nil {
			slog.Warn("Failed to close provider response body", "provider", a.desc.ID, "error", bErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := parseErrorMessage(raw)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return a.providerError(resp.StatusCode, msg)
	}

	if !a.desc.Streaming {
		return a.interpret(ctx, resp, onDelta)
	}
	return a.interpretStream(ctx, resp.Body, onDelta)
}

func (a *Adapter) interpret(ctx context.Context, resp *http.Response, onDelta DeltaFunc) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	text, err := a.desc.Shape.interpretResponse(body)
	if err != nil {
		return a.providerError(0, err.Error())
	}
	if text != "" {
		onDelta(text)
	}
	return nil
}

func (a *Adapter) interpretStream(ctx context.Context, body io.Reader, onDelta DeltaFunc) error {
	var result error
	dec := newStreamDecoder(string(a.desc.ID), a.desc.Shape.parser())
	dec.Consume(ctx, body, func(ev StreamEvent) {
		if ev.ContentDelta != "" {
			onDelta(ev.ContentDelta)
		}
		switch {
		case ev.Err != nil:
			result = ev.Err
		case ev.ErrorPayload != "":
			result = a.providerError(0, ev.ErrorPayload)
		}
	})
	return result
}

func (a *Adapter) providerError(status int, msg string) *ProviderError {
	return &ProviderError{
		Provider:    a.desc.ID,
		DisplayName: a.desc.DisplayName,
		Model:       a.desc.Model,
		Class:       Classify(status, msg),
		StatusCode:  status,
		Message:     msg,
	}
}
