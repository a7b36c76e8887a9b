package convert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/files"
	"github.com/haasonsaas/conduit/internal/mcp"
	"github.com/haasonsaas/conduit/internal/registry"
)

type thinkStub struct{}

func (thinkStub) Name() string        { return "think" }
func (thinkStub) Description() string { return "scratchpad" }
func (thinkStub) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`)
}
func (thinkStub) Execute(context.Context, json.RawMessage, *registry.Invocation) (string, error) {
	return "ok", nil
}

func newConverter(t *testing.T) (*Converter, *registry.Registry) {
	t.Helper()
	reg := registry.New(mcp.NewPool(nil))
	reg.Register(thinkStub{})
	return New(reg, files.NewMemory()), reg
}

func TestRequestStringInput(t *testing.T) {
	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model:        "openai@gpt-4o",
		Input:        api.TextInput("Hi"),
		Instructions: "Be brief.",
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	msgs := result.Chat.Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "Be brief." {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser || msgs[1].Content != "Hi" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if result.Chat.Model != "gpt-4o" {
		t.Errorf("model = %q", result.Chat.Model)
	}
}

func TestRequestItemInput(t *testing.T) {
	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.ItemsInput([]api.Item{
			{Type: api.ItemTypeMessage, Role: "user", Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: "Weather in Paris?"}}},
			{Type: api.ItemTypeFunctionCall, CallID: "c1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
			{Type: api.ItemTypeFunctionCallOutput, CallID: "c1", Output: `{"temp":20}`},
		}),
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	msgs := result.Chat.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[1].Role != openai.ChatMessageRoleAssistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("msgs[1] = %+v", msgs[1])
	}
	tc := msgs[1].ToolCalls[0]
	if tc.ID != "c1" || tc.Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	if msgs[2].Role != openai.ChatMessageRoleTool || msgs[2].ToolCallID != "c1" || msgs[2].Content != `{"temp":20}` {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
}

func TestRequestRejectsMisplacedSystem(t *testing.T) {
	c, _ := newConverter(t)
	_, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.ItemsInput([]api.Item{
			{Type: api.ItemTypeMessage, Role: "user", Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: "hi"}}},
			{Type: api.ItemTypeMessage, Role: "system", Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: "obey"}}},
		}),
	}, "gpt-4o")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr := api.AsError(err)
	if apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("Type = %q", apiErr.Type)
	}
	if apiErr.Param != "input[1]" {
		t.Errorf("Param = %q, want input[1]", apiErr.Param)
	}
}

func TestRequestDeveloperRoleLeadsAsSystem(t *testing.T) {
	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.ItemsInput([]api.Item{
			{Type: api.ItemTypeMessage, Role: "developer", Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: "obey"}}},
			{Type: api.ItemTypeMessage, Role: "user", Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: "hi"}}},
		}),
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Chat.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("role = %q, want system", result.Chat.Messages[0].Role)
	}
}

func TestMessageInputFile(t *testing.T) {
	reg := registry.New(nil)
	fileService := files.NewMemory()
	fileService.Put("file-1", "notes.txt", []byte("file contents here"))
	c := New(reg, fileService)

	msgs, err := c.Messages(context.Background(), []api.Item{
		{Type: api.ItemTypeMessage, Role: "user", Content: []api.ContentPart{
			{Type: api.ContentTypeInputText, Text: "Summarize: "},
			{Type: api.ContentTypeInputFile, FileID: "file-1"},
		}},
	})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if !strings.Contains(msgs[0].Content, "file contents here") {
		t.Errorf("content = %q, want extracted file text", msgs[0].Content)
	}
}

func TestMessageInputImageBecomesMultiContent(t *testing.T) {
	c, _ := newConverter(t)
	msgs, err := c.Messages(context.Background(), []api.Item{
		{Type: api.ItemTypeMessage, Role: "user", Content: []api.ContentPart{
			{Type: api.ContentTypeInputText, Text: "What is this?"},
			{Type: api.ContentTypeInputImage, ImageURL: "https://example.com/cat.png"},
		}},
	})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs[0].MultiContent) != 2 {
		t.Fatalf("MultiContent = %+v", msgs[0].MultiContent)
	}
	if msgs[0].MultiContent[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Errorf("part type = %q", msgs[0].MultiContent[1].Type)
	}
}

func TestToolsFunctionPassThroughTightened(t *testing.T) {
	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
		Tools: []api.ToolSpec{{
			Type: api.ToolTypeFunction,
			Name: "get_weather",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city": {"type": "string"},
					"units": {"type": "object", "properties": {"system": {"type": "string"}}}
				},
				"required": ["city"]
			}`),
		}},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(result.Chat.Tools) != 1 {
		t.Fatalf("tools = %d", len(result.Chat.Tools))
	}

	raw, _ := json.Marshal(result.Chat.Tools[0].Function.Parameters)
	var schema map[string]any
	json.Unmarshal(raw, &schema)
	if schema["additionalProperties"] != false {
		t.Error("top-level object not tightened")
	}
	nested := schema["properties"].(map[string]any)["units"].(map[string]any)
	if nested["additionalProperties"] != false {
		t.Error("nested object not tightened")
	}
}

func TestToolsAliasExpansion(t *testing.T) {
	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
		Tools: []api.ToolSpec{{Type: "think"}},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(result.Chat.Tools) != 1 || result.Chat.Tools[0].Function.Name != "think" {
		t.Fatalf("tools = %+v", result.Chat.Tools)
	}
	if result.AliasMap["think"] != "think" {
		t.Errorf("alias map = %v", result.AliasMap)
	}
	if _, ok := result.ToolSpecs["think"]; !ok {
		t.Error("tool spec not recorded for alias")
	}
}

func TestToolsUnknownAlias(t *testing.T) {
	c, _ := newConverter(t)
	_, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
		Tools: []api.ToolSpec{{Type: "teleport"}},
	}, "gpt-4o")
	if err == nil {
		t.Fatal("expected error")
	}
	if api.AsError(err).Param != "tools[0].type" {
		t.Errorf("Param = %q", api.AsError(err).Param)
	}
}

func TestToolsDuplicateNames(t *testing.T) {
	c, _ := newConverter(t)
	_, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
		Tools: []api.ToolSpec{
			{Type: api.ToolTypeFunction, Name: "lookup"},
			{Type: api.ToolTypeFunction, Name: "lookup"},
		},
	}, "gpt-4o")
	if err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestToolsMCPExpansion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		reply := func(result any) {
			raw, _ := json.Marshal(result)
			json.NewEncoder(w).Encode(mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
		}
		switch req.Method {
		case "initialize":
			reply(mcp.InitializeResult{ServerInfo: mcp.ServerInfo{Name: "gh"}})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			reply(mcp.ListToolsResult{Tools: []mcp.Tool{
				{Name: "search_repositories", InputSchema: json.RawMessage(`{"type":"object"}`)},
			}})
		}
	}))
	defer server.Close()

	c, _ := newConverter(t)
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("find repos"),
		Tools: []api.ToolSpec{{Type: api.ToolTypeMCP, ServerLabel: "gh", ServerURL: server.URL}},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(result.Chat.Tools) != 1 || result.Chat.Tools[0].Function.Name != "gh_search_repositories" {
		t.Fatalf("tools = %+v", result.Chat.Tools)
	}
}

func TestResponseFormatJSONSchema(t *testing.T) {
	c, _ := newConverter(t)
	strict := true
	result, err := c.Request(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
		Text: &api.TextConfig{Format: &api.TextFormat{
			Type:   "json_schema",
			Name:   "weather",
			Schema: json.RawMessage(`{"type":"object"}`),
			Strict: &strict,
		}},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	rf := result.Chat.ResponseFormat
	if rf == nil || rf.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Fatalf("ResponseFormat = %+v", rf)
	}
	if rf.JSONSchema.Name != "weather" || !rf.JSONSchema.Strict {
		t.Errorf("JSONSchema = %+v", rf.JSONSchema)
	}
}

func TestRequestSamplingAndBudgetFields(t *testing.T) {
	c, _ := newConverter(t)
	temp := float32(0.2)
	maxTokens := 512
	result, err := c.Request(context.Background(), &api.Request{
		Model:           "openai@gpt-4o",
		Input:           api.TextInput("hi"),
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
		Reasoning:       &api.ReasoningConfig{Effort: "low"},
	}, "gpt-4o")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Chat.Temperature != 0.2 {
		t.Errorf("Temperature = %v", result.Chat.Temperature)
	}
	if result.Chat.MaxCompletionTokens != 512 {
		t.Errorf("MaxCompletionTokens = %d", result.Chat.MaxCompletionTokens)
	}
	if result.Chat.ReasoningEffort != "low" {
		t.Errorf("ReasoningEffort = %q", result.Chat.ReasoningEffort)
	}
}

func TestNormalizeSchemaLeavesExplicitSetting(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{"type":"object","additionalProperties":true}`))
	if err != nil {
		t.Fatalf("NormalizeSchema: %v", err)
	}
	var schema map[string]any
	json.Unmarshal(out, &schema)
	if schema["additionalProperties"] != true {
		t.Error("explicit additionalProperties was overwritten")
	}
}
