package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arena-ai/backend/internal/model"
)

// Wire types for the message-wrapped shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	// Ollama's /api/chat puts the message at the top level.
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool            `json:"done"`
	Error json.RawMessage `json:"error"`
}

// Wire types for the flat shape.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string          `json:"response"`
	Done     bool            `json:"done"`
	Error    json.RawMessage `json:"error"`
}

var errEmptyChoices = errors.New("no choices in response")

func (s ResponseShape) requestBody(modelID, prompt string, history []model.Message, stream bool) any {
	if s == ShapeFlat {
		return generateRequest{Model: modelID, Prompt: flattenPrompt(history, prompt), Stream: stream}
	}
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return chatRequest{Model: modelID, Messages: msgs, Stream: stream}
}

// flattenPrompt renders prior context as a transcript ahead of the new prompt.
func flattenPrompt(history []model.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n\n", m.Role, m.Content)
	}
	b.WriteString("user: ")
	b.WriteString(prompt)
	return b.String()
}

func (s ResponseShape) parser() chunkParser {
	if s == ShapeFlat {
		return parseFlatChunk
	}
	return parseMessageChunk
}

func parseMessageChunk(payload []byte) (chunkResult, error) {
	var c chatChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return chunkResult{}, err
	}
	if msg := errorText(c.Error); msg != "" {
		return chunkResult{Error: msg}, nil
	}
	res := chunkResult{Finished: c.Done}
	if c.Message != nil {
		res.Content = c.Message.Content
	}
	if len(c.Choices) > 0 {
		ch := c.Choices[0]
		res.Content = ch.Delta.Content
		if ch.Message != nil && res.Content == "" {
			res.Content = ch.Message.Content
		}
		if ch.FinishReason != nil && *ch.FinishReason != "" {
			res.Finished = true
		}
	}
	return res, nil
}

func parseFlatChunk(payload []byte) (chunkResult, error) {
	var c generateChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return chunkResult{}, err
	}
	if msg := errorText(c.Error); msg != "" {
		return chunkResult{Error: msg}, nil
	}
	return chunkResult{Content: c.Response, Finished: c.Done}, nil
}

// interpretResponse reads a complete single-shot body into its answer text.
func (s ResponseShape) interpretResponse(body []byte) (string, error) {
	if s == ShapeFlat {
		var c generateChunk
		if err := json.Unmarshal(body, &c); err != nil {
			return "", fmt.Errorf("could not decode response: %w", err)
		}
		if msg := errorText(c.Error); msg != "" {
			return "", errors.New(msg)
		}
		return c.Response, nil
	}

	var c chatChunk
	if err := json.Unmarshal(body, &c); err != nil {
		return "", fmt.Errorf("could not decode response: %w", err)
	}
	if msg := errorText(c.Error); msg != "" {
		return "", errors.New(msg)
	}
	if c.Message != nil {
		return c.Message.Content, nil
	}
	if len(c.Choices) == 0 {
		return "", errEmptyChoices
	}
	if m := c.Choices[0].Message; m != nil {
		return m.Content, nil
	}
	return c.Choices[0].Delta.Content, nil
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return errorFromJSON([]byte(`{"error":` + string(raw) + `}`))
}
