package tools

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/registry"
)

// ImageGeneration generates images through the OpenAI images endpoint and
// returns base64 payloads.
type ImageGeneration struct {
	baseURL string
	apiKey  string
}

func NewImageGeneration(cfg config.ProviderConfig) *ImageGeneration {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &ImageGeneration{baseURL: baseURL, apiKey: cfg.APIKey}
}

func (t *ImageGeneration) Name() string        { return "image_generation" }
func (t *ImageGeneration) Description() string { return "Generate an image from a text prompt." }

func (t *ImageGeneration) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "What to draw."},
			"model": {"type": "string"},
			"size": {"type": "string", "enum": ["1024x1024", "1792x1024", "1024x1792"]},
			"n": {"type": "integer", "minimum": 1, "maximum": 4}
		},
		"required": ["prompt"],
		"additionalProperties": false
	}`)
}

func (t *ImageGeneration) Execute(ctx context.Context, args json.RawMessage, inv *registry.Invocation) (string, error) {
	var parsed struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
		Size   string `json:"size"`
		N      int    `json:"n"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}

	token := inv.Token
	if token == "" {
		token = t.apiKey
	}
	if token == "" {
		return "", api.NewError(api.ErrorTypeInvalidRequest, "image_generation has no credentials")
	}

	clientCfg := openai.DefaultConfig(token)
	clientCfg.BaseURL = t.baseURL
	client := openai.NewClientWithConfig(clientCfg)

	model := parsed.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	size := parsed.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	n := parsed.N
	if n <= 0 {
		n = 1
	}

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         parsed.Prompt,
		Model:          model,
		Size:           size,
		N:              n,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeAPI, "image generation: %v", err)
	}

	images := make([]map[string]string, 0, len(resp.Data))
	for _, img := range resp.Data {
		entry := map[string]string{}
		if img.B64JSON != "" {
			entry["b64_json"] = img.B64JSON
		}
		if img.URL != "" {
			entry["url"] = img.URL
		}
		if img.RevisedPrompt != "" {
			entry["revised_prompt"] = img.RevisedPrompt
		}
		images = append(images, entry)
	}

	out, err := json.Marshal(map[string]any{"data": images})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
