package llm

import (
	"context"
	"net/http"
	"strings"

	"arena-ai/backend/internal/model"
)

// ResponseShape selects how a provider's reply body is interpreted.
type ResponseShape string

const (
	// ShapeMessage is the OpenAI-style body: choices[].delta.content / choices[].message.content.
	ShapeMessage ResponseShape = "message"
	// ShapeFlat is the flat body used by local inference servers: {"response": "...", "done": true}.
	ShapeFlat ResponseShape = "flat"
)

// Descriptor is everything that distinguishes one provider from another.
type Descriptor struct {
	ID            model.ProviderID  `json:"id"`
	DisplayName   string            `json:"displayName"`
	Endpoint      string            `json:"endpoint"`
	CredentialEnv string            `json:"credentialEnv,omitempty"`
	Model         string            `json:"model"`
	Headers       map[string]string `json:"-"`
	Streaming     bool              `json:"streaming"`
	Shape         ResponseShape     `json:"shape"`
}

// CredentialSource resolves a credential by its environment key. Empty means absent.
type CredentialSource func(envKey string) string

// DeltaFunc receives each content fragment in arrival order.
type DeltaFunc func(delta string)

// Provider sends one prompt to one upstream backend.
type Provider interface {
	ID() model.ProviderID
	Descriptor() Descriptor
	// Execute returns nil once the answer is complete. Content arrives through onDelta.
	Execute(ctx context.Context, prompt string, history []model.Message, onDelta DeltaFunc) error
}

// DescriptorOptions carries the configurable parts of the default provider table.
type DescriptorOptions struct {
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenRouterBaseURL string
	OllamaURL         string
	OllamaModel       string
	Referer           string
	Title             string
}

// DefaultDescriptors returns the built-in provider table: a direct vendor API,
// five free-tier models routed through OpenRouter and a local Ollama backend.
func DefaultDescriptors(o DescriptorOptions) []Descriptor {
	openAI := strings.TrimRight(firstNonEmpty(o.OpenAIBaseURL, "https://api.openai.com"), "/")
	router := strings.TrimRight(firstNonEmpty(o.OpenRouterBaseURL, "https://openrouter.ai/api"), "/")
	ollama := strings.TrimRight(firstNonEmpty(o.OllamaURL, "http://localhost:11434"), "/")

	routed := func(id model.ProviderID, name, modelID string) Descriptor {
		return Descriptor{
			ID:            id,
			DisplayName:   name,
			Endpoint:      router + "/v1/chat/completions",
			CredentialEnv: "OPENROUTER_API_KEY",
			Model:         modelID,
			Headers: map[string]string{
				"HTTP-Referer": firstNonEmpty(o.Referer, "http://localhost:3000"),
				"X-Title":      firstNonEmpty(o.Title, "AI Arena"),
			},
			Streaming: true,
			Shape:     ShapeMessage,
		}
	}

	return []Descriptor{
		{
			ID:            "openai",
			DisplayName:   "OpenAI",
			Endpoint:      openAI + "/v1/chat/completions",
			CredentialEnv: "OPENAI_API_KEY",
			Model:         firstNonEmpty(o.OpenAIModel, "gpt-4o-mini"),
			Streaming:     true,
			Shape:         ShapeMessage,
		},
		routed("deepseek", "DeepSeek", "deepseek/deepseek-chat-v3-0324:free"),
		routed("llama", "Llama", "meta-llama/llama-3.3-70b-instruct:free"),
		routed("mistral", "Mistral", "mistralai/mistral-7b-instruct:free"),
		routed("qwen", "Qwen", "qwen/qwen-2.5-72b-instruct:free"),
		routed("gemma", "Gemma", "google/gemma-2-9b-it:free"),
		{
			ID:          "ollama",
			DisplayName: "Ollama",
			Endpoint:    ollama + "/api/generate",
			Model:       firstNonEmpty(o.OllamaModel, "llama3.2"),
			Streaming:   false,
			Shape:       ShapeFlat,
		},
	}
}

// Registry holds the provider set for the process. It is built once in app.
type Registry struct {
	order     []model.ProviderID
	providers map[model.ProviderID]Provider
	creds     CredentialSource
}

// NewRegistry builds one generic adapter per descriptor.
func NewRegistry(descs []Descriptor, creds CredentialSource, client *http.Client) *Registry {
	r := &Registry{
		providers: make(map[model.ProviderID]Provider, len(descs)),
		creds:     creds,
	}
	for _, d := range descs {
		r.Register(NewAdapter(d, creds, client))
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// Get returns the provider with the given id.
func (r *Registry) Get(id model.ProviderID) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns provider ids in registration order.
func (r *Registry) IDs() []model.ProviderID {
	out := make([]model.ProviderID, len(r.order))
	copy(out, r.order)
	return out
}

// ProviderInfo is the public catalogue entry for one provider. It never carries secrets.
type ProviderInfo struct {
	Descriptor
	Configured bool `json:"configured"`
}

// Catalogue lists every provider and whether its credential is present.
func (r *Registry) Catalogue() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		d := r.providers[id].Descriptor()
		configured := d.CredentialEnv == ""
		if !configured && r.creds != nil {
			configured = r.creds(d.CredentialEnv) != ""
		}
		out = append(out, ProviderInfo{Descriptor: d, Configured: configured})
	}
	return out
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
