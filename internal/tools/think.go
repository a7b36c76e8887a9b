// Package tools implements the native tool handlers: think, file_search,
// agentic_search, image_generation, and brave_web_search. Each handler
// carries a fixed JSON Schema for its arguments; the registry validates
// arguments before Execute runs.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/conduit/internal/registry"
)

// Think is a model scratchpad. The thought is logged and acknowledged; it
// has no other observable effect.
type Think struct {
	logger *slog.Logger
}

func NewThink(logger *slog.Logger) *Think {
	if logger == nil {
		logger = slog.Default()
	}
	return &Think{logger: logger}
}

func (t *Think) Name() string        { return "think" }
func (t *Think) Description() string { return "Log a thought for complex reasoning or working memory." }

func (t *Think) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "A thought to think about."}
		},
		"required": ["thought"],
		"additionalProperties": false
	}`)
}

func (t *Think) Execute(_ context.Context, args json.RawMessage, inv *registry.Invocation) (string, error) {
	var parsed struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}
	t.logger.Debug("model thought", "model", inv.Model, "thought", parsed.Thought)
	return "Your thought has been logged.", nil
}
