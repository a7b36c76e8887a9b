package tools

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/registry"
)

// LLMDecider implements Decider against the provider router, reusing the
// request's model and bearer token for the inner call.
type LLMDecider struct {
	router *provider.Router
}

func NewLLMDecider(router *provider.Router) *LLMDecider {
	return &LLMDecider{router: router}
}

func (d *LLMDecider) Decide(ctx context.Context, inv *registry.Invocation, prompt string) (string, error) {
	providerName, model := provider.ParseModel(inv.Model, "")
	p, err := d.router.Get(providerName)
	if err != nil {
		return "", err
	}

	chunks, err := p.Complete(ctx, &provider.Request{
		Token: inv.Token,
		Chat: openai.ChatCompletionRequest{
			Model:    model,
			Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		},
	})
	if err != nil {
		return "", err
	}

	var reply strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Response != nil && len(chunk.Response.Choices) > 0 {
			reply.WriteString(chunk.Response.Choices[0].Delta.Content)
		}
	}
	return reply.String(), nil
}
