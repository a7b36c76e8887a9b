// Package convert translates Responses API requests into provider chat
// completion requests: message flattening, tool expansion, alias
// resolution, and response-format mapping.
package convert

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/files"
	"github.com/haasonsaas/conduit/internal/registry"
)

// Result is a translated request plus the per-request tool bookkeeping the
// orchestrator and formatter need downstream.
type Result struct {
	Chat openai.ChatCompletionRequest

	// AliasMap maps wire-level tool names to canonical registered names.
	// Carried as an immutable per-request snapshot.
	AliasMap map[string]string

	// ToolSpecs maps canonical tool names to the request spec that
	// introduced them, preserving alias-level configuration.
	ToolSpecs map[string]api.ToolSpec
}

// Converter is a stateless per-call translator. MCP expansion reaches the
// registry (and through it the client pool); input_file parts reach the
// file service. Both are idempotent.
type Converter struct {
	registry *registry.Registry
	files    files.Service
}

func New(reg *registry.Registry, fileService files.Service) *Converter {
	return &Converter{registry: reg, files: fileService}
}

// Request translates a Responses request. bareModel is the model name with
// the provider prefix stripped.
func (c *Converter) Request(ctx context.Context, req *api.Request, bareModel string) (*Result, error) {
	result := &Result{
		AliasMap:  make(map[string]string),
		ToolSpecs: make(map[string]api.ToolSpec),
	}

	messages, err := c.inputMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	chat := openai.ChatCompletionRequest{
		Model:    bareModel,
		Messages: messages,
	}
	if req.Temperature != nil {
		chat.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		chat.TopP = *req.TopP
	}
	if req.MaxOutputTokens != nil {
		chat.MaxCompletionTokens = *req.MaxOutputTokens
	}
	if req.ToolChoice != nil {
		chat.ToolChoice = req.ToolChoice
	}
	if req.Reasoning != nil && req.Reasoning.Effort != "" {
		chat.ReasoningEffort = req.Reasoning.Effort
	}

	if req.Text != nil && req.Text.Format != nil {
		format, err := responseFormat(req.Text.Format)
		if err != nil {
			return nil, err
		}
		chat.ResponseFormat = format
	}

	tools, err := c.tools(ctx, req.Tools, result)
	if err != nil {
		return nil, err
	}
	chat.Tools = tools

	result.Chat = chat
	return result, nil
}

// inputMessages flattens the request input into chat messages with
// instructions as the leading system message.
func (c *Converter) inputMessages(ctx context.Context, req *api.Request) ([]openai.ChatCompletionMessage, error) {
	var messages []openai.ChatCompletionMessage
	if req.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	if req.Input.IsText() {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Input.Text,
		})
		return messages, nil
	}

	converted, err := c.Messages(ctx, req.Input.Items)
	if err != nil {
		return nil, err
	}

	// System/developer roles must lead the item list; with instructions
	// present they would displace the instruction message.
	for i, msg := range converted {
		if msg.Role == openai.ChatMessageRoleSystem && (i != 0 || req.Instructions != "") {
			return nil, api.InvalidRequest(fmt.Sprintf("input[%d]", i), "system message must be the first input item")
		}
	}
	return append(messages, converted...), nil
}

// Messages converts input items to chat messages. Exported because the
// orchestrator reconverts appended conversation items between iterations.
func (c *Converter) Messages(ctx context.Context, items []api.Item) ([]openai.ChatCompletionMessage, error) {
	var messages []openai.ChatCompletionMessage
	for i, item := range items {
		switch item.Type {
		case api.ItemTypeMessage:
			msg, err := c.message(ctx, item, i)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)

		case api.ItemTypeFunctionCall:
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       item.CallID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: item.Name, Arguments: item.Arguments},
				}},
			})

		case api.ItemTypeFunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: item.CallID,
				Content:    item.Output,
			})

		case api.ItemTypeReasoning, api.ItemTypeFileSearchCall, api.ItemTypeWebSearchCall,
			api.ItemTypeImageGenCall, api.ItemTypeMCPListTools, api.ItemTypeMCPCall:
			// Server-side call records carry no provider-visible content.

		default:
			return nil, api.InvalidRequest(fmt.Sprintf("input[%d].type", i), fmt.Sprintf("unknown item type %q", item.Type))
		}
	}

	for i, msg := range messages {
		role := msg.Role
		if (role == openai.ChatMessageRoleSystem || role == "developer") && i != 0 {
			return nil, api.InvalidRequest(fmt.Sprintf("input[%d]", i), "system message must be the first input item")
		}
	}
	return messages, nil
}

func (c *Converter) message(ctx context.Context, item api.Item, index int) (openai.ChatCompletionMessage, error) {
	msg := openai.ChatCompletionMessage{Role: normalizeRole(item.Role)}

	var textOnly string
	var parts []openai.ChatMessagePart
	multimodal := false

	for j, part := range item.Content {
		switch part.Type {
		case api.ContentTypeInputText, api.ContentTypeOutputText:
			textOnly += part.Text
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})

		case api.ContentTypeInputImage:
			multimodal = true
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL, Detail: openai.ImageURLDetail(part.Detail)},
			})

		case api.ContentTypeInputFile:
			content, err := c.fileText(ctx, part.FileID)
			if err != nil {
				return msg, err
			}
			textOnly += content
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: content})

		case api.ContentTypeRefusal:
			textOnly += part.Refusal
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Refusal})

		default:
			return msg, api.InvalidRequest(
				fmt.Sprintf("input[%d].content[%d].type", index, j),
				fmt.Sprintf("unknown content type %q", part.Type))
		}
	}

	if multimodal {
		msg.MultiContent = parts
	} else {
		msg.Content = textOnly
	}
	return msg, nil
}

func (c *Converter) fileText(ctx context.Context, fileID string) (string, error) {
	if c.files == nil {
		return "", api.NewError(api.ErrorTypeInvalidRequest, "input_file parts require a configured file service")
	}
	content, err := c.files.Content(ctx, fileID)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// normalizeRole maps the developer role onto system for providers that only
// know the classic role set.
func normalizeRole(role string) string {
	if role == "developer" {
		return openai.ChatMessageRoleSystem
	}
	return role
}

// tools translates the request tool list: function tools pass through with
// tightened schemas, aliases expand to registered definitions, and mcp
// entries enumerate their server.
func (c *Converter) tools(ctx context.Context, specs []api.ToolSpec, result *Result) ([]openai.Tool, error) {
	var tools []openai.Tool
	seen := make(map[string]struct{})

	add := func(index int, name, description string, params json.RawMessage) error {
		if _, dup := seen[name]; dup {
			return api.InvalidRequest(fmt.Sprintf("tools[%d]", index), fmt.Sprintf("duplicate tool name %q", name))
		}
		seen[name] = struct{}{}
		normalized, err := NormalizeSchema(params)
		if err != nil {
			return api.InvalidRequest(fmt.Sprintf("tools[%d].parameters", index), err.Error())
		}
		var parameters any
		if len(normalized) > 0 {
			parameters = normalized
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  parameters,
			},
		})
		return nil
	}

	for i, spec := range specs {
		switch {
		case spec.Type == api.ToolTypeFunction:
			if spec.Name == "" {
				return nil, api.InvalidRequest(fmt.Sprintf("tools[%d].name", i), "function tool requires a name")
			}
			if err := add(i, spec.Name, spec.Description, spec.Parameters); err != nil {
				return nil, err
			}

		case spec.Type == api.ToolTypeMCP:
			if spec.ServerLabel == "" || spec.ServerURL == "" {
				return nil, api.InvalidRequest(fmt.Sprintf("tools[%d]", i), "mcp tool requires server_label and server_url")
			}
			defs, err := c.registry.EnsureMCPServer(ctx, spec)
			if err != nil {
				return nil, err
			}
			for _, def := range defs {
				if err := add(i, def.Name, def.Description, def.Parameters); err != nil {
					return nil, err
				}
				result.AliasMap[def.Name] = def.Name
				result.ToolSpecs[def.Name] = spec
			}

		default:
			// `{type: <name>}` alias for a server-managed tool.
			def, ok := c.registry.FunctionTool(spec.Type)
			if !ok {
				return nil, api.InvalidRequest(fmt.Sprintf("tools[%d].type", i), fmt.Sprintf("unknown tool type %q", spec.Type))
			}
			if err := add(i, def.Name, def.Description, def.Parameters); err != nil {
				return nil, err
			}
			result.AliasMap[spec.Type] = def.Name
			result.ToolSpecs[def.Name] = spec
		}
	}
	return tools, nil
}

func responseFormat(format *api.TextFormat) (*openai.ChatCompletionResponseFormat, error) {
	switch format.Type {
	case "", "text":
		return nil, nil
	case "json_object":
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}, nil
	case "json_schema":
		if format.Name == "" {
			return nil, api.InvalidRequest("text.format.name", "json_schema format requires a name")
		}
		strict := format.Strict != nil && *format.Strict
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   format.Name,
				Schema: json.RawMessage(format.Schema),
				Strict: strict,
			},
		}, nil
	default:
		return nil, api.InvalidRequest("text.format.type", fmt.Sprintf("unknown text format %q", format.Type))
	}
}
