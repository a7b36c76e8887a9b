package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
)

// anthropicDefaultMaxTokens applies when the request does not set a cap; the
// Messages API requires an explicit max_tokens.
const anthropicDefaultMaxTokens = 4096

// Anthropic adapts the native Messages API to the gateway's Chat Completions
// stream shape. Message events are re-emitted as chat.completion.chunk deltas
// so downstream accumulation is identical for every provider family.
type Anthropic struct {
	baseURL string
	apiKey  string
}

// NewAnthropic creates the native Claude provider.
func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	return &Anthropic{baseURL: cfg.BaseURL, apiKey: cfg.APIKey}
}

func (p *Anthropic) Name() string { return "claude" }

// Complete opens a Messages API stream and translates it chunk by chunk.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	token := req.Token
	if token == "" {
		token = p.apiKey
	}
	if token == "" {
		return nil, api.NewError(api.ErrorTypeInvalidRequest, `no credentials for provider "claude"`)
	}

	options := []option.RequestOption{option.WithAPIKey(token)}
	if p.baseURL != "" {
		options = append(options, option.WithBaseURL(p.baseURL))
	}
	client := anthropic.NewClient(options...)

	params, err := buildMessageParams(&req.Chat)
	if err != nil {
		return nil, err
	}

	stream := client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapUpstreamError(err)
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks, req.Chat.Model)
	return chunks, nil
}

// processStream translates Messages API events into chat.completion.chunk
// deltas. Tool-use blocks become indexed tool_call deltas; the stop reason
// arrives as a finish_reason chunk carrying usage.
func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	chunkID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	newChunk := func(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) *openai.ChatCompletionStreamResponse {
		return &openai.ChatCompletionStreamResponse{
			ID:      chunkID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []openai.ChatCompletionStreamChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	toolIndex := -1
	var inputTokens, outputTokens int
	var stopReason string

	for stream.Next() {
		if ctx.Err() != nil {
			deliver(ctx, chunks, &Chunk{Err: ctx.Err(), Done: true})
			return
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			inputTokens = int(start.Message.Usage.InputTokens)
			if !deliver(ctx, chunks, &Chunk{Response: newChunk(openai.ChatCompletionStreamChoiceDelta{Role: "assistant"}, "")}) {
				return
			}

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				toolIndex++
				idx := toolIndex
				if !deliver(ctx, chunks, &Chunk{Response: newChunk(openai.ChatCompletionStreamChoiceDelta{
					ToolCalls: []openai.ToolCall{{
						Index:    &idx,
						ID:       toolUse.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: toolUse.Name},
					}},
				}, "")}) {
					return
				}
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			switch blockDelta.Delta.Type {
			case "text_delta":
				if blockDelta.Delta.Text != "" {
					if !deliver(ctx, chunks, &Chunk{Response: newChunk(openai.ChatCompletionStreamChoiceDelta{Content: blockDelta.Delta.Text}, "")}) {
						return
					}
				}
			case "input_json_delta":
				if blockDelta.Delta.PartialJSON != "" && toolIndex >= 0 {
					idx := toolIndex
					if !deliver(ctx, chunks, &Chunk{Response: newChunk(openai.ChatCompletionStreamChoiceDelta{
						ToolCalls: []openai.ToolCall{{
							Index:    &idx,
							Function: openai.FunctionCall{Arguments: blockDelta.Delta.PartialJSON},
						}},
					}, "")}) {
						return
					}
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			stopReason = string(messageDelta.Delta.StopReason)
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			final := newChunk(openai.ChatCompletionStreamChoiceDelta{}, mapStopReason(stopReason))
			final.Usage = &openai.Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      inputTokens + outputTokens,
			}
			if deliver(ctx, chunks, &Chunk{Response: final}) {
				deliver(ctx, chunks, &Chunk{Done: true})
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		deliver(ctx, chunks, &Chunk{Err: wrapUpstreamError(err), Done: true})
		return
	}
	deliver(ctx, chunks, &Chunk{Done: true})
}

func mapStopReason(reason string) openai.FinishReason {
	switch reason {
	case "tool_use":
		return openai.FinishReasonToolCalls
	case "max_tokens":
		return openai.FinishReasonLength
	default:
		return openai.FinishReasonStop
	}
}

// buildMessageParams converts a Chat Completions request to MessageNewParams.
// System messages move to the dedicated system field; consecutive tool results
// fold into a single user turn to satisfy role alternation.
func buildMessageParams(req *openai.ChatCompletionRequest) (*anthropic.MessageNewParams, error) {
	// The converter writes the output cap into MaxCompletionTokens; the
	// deprecated MaxTokens is honored for direct chat callers.
	maxTokens := int64(req.MaxCompletionTokens)
	if maxTokens <= 0 {
		maxTokens = int64(req.MaxTokens)
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
	}
	if req.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.TopP != 0 {
		params.TopP = anthropic.Float(float64(req.TopP))
	}

	var system []string
	var pendingToolResults []anthropic.ContentBlockParamUnion

	flushToolResults := func() {
		if len(pendingToolResults) > 0 {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(pendingToolResults...))
			pendingToolResults = nil
		}
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			system = append(system, msg.Content)

		case openai.ChatMessageRoleUser:
			flushToolResults()
			content, err := userContentBlocks(msg)
			if err != nil {
				return nil, api.InvalidRequest(fmt.Sprintf("messages[%d]", i), err.Error())
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))

		case openai.ChatMessageRoleAssistant:
			flushToolResults()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Function.Name))
			}
			if len(content) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))

		case openai.ChatMessageRoleTool:
			pendingToolResults = append(pendingToolResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))

		default:
			return nil, api.InvalidRequest(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unsupported role %q", msg.Role))
		}
	}
	flushToolResults()

	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: strings.Join(system, "\n\n")}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	return params, nil
}

func userContentBlocks(msg openai.ChatCompletionMessage) ([]anthropic.ContentBlockParamUnion, error) {
	if len(msg.MultiContent) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}, nil
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case openai.ChatMessagePartTypeImageURL:
			mediaType, data, ok := parseDataURL(part.ImageURL.URL)
			if !ok {
				return nil, fmt.Errorf("image parts must use base64 data URLs")
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		default:
			return nil, fmt.Errorf("unsupported content part %q", part.Type)
		}
	}
	return blocks, nil
}

// parseDataURL splits "data:<media-type>;base64,<data>".
func parseDataURL(raw string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(raw, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}

func convertAnthropicTools(tools []openai.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		if tool.Type != openai.ToolTypeFunction || tool.Function == nil {
			continue
		}
		raw, err := json.Marshal(tool.Function.Parameters)
		if err != nil {
			return nil, api.InvalidRequest("tools", fmt.Sprintf("invalid parameters for tool %q", tool.Function.Name))
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, api.InvalidRequest("tools", fmt.Sprintf("invalid parameters for tool %q", tool.Function.Name))
		}

		param := anthropic.ToolUnionParamOfTool(schema, tool.Function.Name)
		if param.OfTool != nil && tool.Function.Description != "" {
			param.OfTool.Description = anthropic.String(tool.Function.Description)
		}
		result = append(result, param)
	}
	return result, nil
}
