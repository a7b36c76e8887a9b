// Package provider abstracts upstream LLM backends behind a single streaming
// interface. Every backend, OpenAI-compatible or not, delivers its output as
// a channel of Chat Completions stream chunks so the rest of the gateway only
// ever deals with one wire shape.
package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
)

// Chunk is one streaming unit from an upstream provider. Exactly one of
// Response or Err is set; Done marks the final chunk on the channel.
type Chunk struct {
	Response *openai.ChatCompletionStreamResponse
	Err      error
	Done     bool
}

// deliver sends one chunk unless the request context is canceled first.
// Consumers stop receiving once they observe a canceled context, so an
// unguarded send would strand the producer goroutine and leak the upstream
// stream.
func deliver(ctx context.Context, chunks chan<- *Chunk, c *Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// Request carries one upstream call. Token is the caller's bearer token and
// takes precedence over the configured API key.
type Request struct {
	Token string
	Chat  openai.ChatCompletionRequest
}

// Provider streams chat completions from an upstream backend.
//
// Complete returns immediately after the stream is established; chunks arrive
// on the returned channel, which is closed after the Done chunk. Errors that
// occur before any bytes are streamed are returned directly so callers can
// still answer with a plain HTTP error.
type Provider interface {
	// Name returns the provider family identifier ("openai", "claude", ...).
	Name() string

	// Complete opens a streaming completion. The channel is closed by the
	// provider once the stream ends or fails.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// Router maps provider family names to configured Provider instances.
type Router struct {
	providers map[string]Provider
}

// NewRouter builds the provider table from config. Providers without an API
// key are still registered; requests supply their own bearer token.
func NewRouter(cfg config.ProvidersConfig) *Router {
	return &Router{providers: map[string]Provider{
		"openai":     NewCompat("openai", "https://api.openai.com/v1", cfg.OpenAI),
		"groq":       NewCompat("groq", "https://api.groq.com/openai/v1", cfg.Groq),
		"xai":        NewCompat("xai", "https://api.x.ai/v1", cfg.XAI),
		"togetherai": NewCompat("togetherai", "https://api.together.xyz/v1", cfg.TogetherAI),
		"claude":     NewAnthropic(cfg.Anthropic),
	}}
}

// Register adds or replaces a provider family.
func (r *Router) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider for a family name.
func (r *Router) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, api.NewErrorf(api.ErrorTypeInvalidRequest, "unknown provider %q", name)
	}
	return p, nil
}

// ParseModel splits a "<provider>@<model>" name. A bare model falls back to
// headerProvider, then to "openai".
func ParseModel(model, headerProvider string) (provider, bare string) {
	if at := strings.Index(model, "@"); at > 0 {
		return model[:at], model[at+1:]
	}
	if headerProvider != "" {
		return headerProvider, model
	}
	return "openai", model
}

// QualifiedModel reverses ParseModel for response bodies.
func QualifiedModel(provider, model string) string {
	return fmt.Sprintf("%s@%s", provider, model)
}
