package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
)

// Compat talks to any OpenAI-compatible chat endpoint (OpenAI, Groq, xAI,
// Together). The request shape passes through unchanged; only the base URL
// and credentials differ per family.
//
// Compat is safe for concurrent use. Each Complete call builds its own SDK
// client so the caller's bearer token never leaks between requests.
type Compat struct {
	name    string
	baseURL string
	apiKey  string

	// maxRetries and retryDelay drive the linear backoff loop around stream
	// creation. Retries never happen after the first byte is streamed.
	maxRetries int
	retryDelay time.Duration
}

// NewCompat creates a provider for one OpenAI-compatible family. cfg.BaseURL
// overrides the family default; cfg.APIKey is the fallback credential when a
// request carries no bearer token.
func NewCompat(name, defaultBaseURL string, cfg config.ProviderConfig) *Compat {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Compat{
		name:       name,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (p *Compat) Name() string { return p.name }

// Complete opens a streaming chat completion with linear backoff on
// retryable errors. Pre-stream failures are returned as *api.Error so the
// HTTP layer can relay the upstream status.
func (p *Compat) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	token := req.Token
	if token == "" {
		token = p.apiKey
	}
	if token == "" {
		return nil, api.NewErrorf(api.ErrorTypeInvalidRequest, "no credentials for provider %q", p.name)
	}

	clientCfg := openai.DefaultConfig(token)
	clientCfg.BaseURL = p.baseURL
	client := openai.NewClientWithConfig(clientCfg)

	chatReq := req.Chat
	chatReq.Stream = true

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, wrapUpstreamError(lastErr)
		}
	}
	if lastErr != nil {
		return nil, wrapUpstreamError(lastErr)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *Compat) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			deliver(ctx, chunks, &Chunk{Err: ctx.Err(), Done: true})
			return
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				deliver(ctx, chunks, &Chunk{Done: true})
				return
			}
			deliver(ctx, chunks, &Chunk{Err: wrapUpstreamError(err), Done: true})
			return
		}
		if !deliver(ctx, chunks, &Chunk{Response: &resp}) {
			return
		}
	}
}

// isRetryable reports whether stream creation should be retried. Rate limits,
// upstream 5xx, and timeouts are transient; everything else fails fast.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
