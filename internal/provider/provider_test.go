package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
)

func sseChunk(content, finish string) string {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`+"\n\n", content, finishJSON)
}

func newCompatTest(t *testing.T, handler http.HandlerFunc) *Compat {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewCompat("openai", server.URL, config.ProviderConfig{BaseURL: server.URL})
	p.retryDelay = time.Millisecond
	return p
}

func TestCompatStreamsChunks(t *testing.T) {
	p := newCompatTest(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-caller" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hel", ""))
		fmt.Fprint(w, sseChunk("lo", "stop"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, err := p.Complete(context.Background(), &Request{
		Token: "sk-caller",
		Chat:  openai.ChatCompletionRequest{Model: "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var text strings.Builder
	var done bool
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		if chunk.Done {
			done = true
			continue
		}
		text.WriteString(chunk.Response.Choices[0].Delta.Content)
	}
	if text.String() != "Hello" {
		t.Errorf("accumulated text = %q, want Hello", text.String())
	}
	if !done {
		t.Error("missing Done chunk")
	}
}

func TestCompatRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	p := newCompatTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("ok", "stop"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunks, err := p.Complete(context.Background(), &Request{Token: "sk", Chat: openai.ChatCompletionRequest{Model: "gpt-4o"}})
	if err != nil {
		t.Fatalf("Complete after retry: %v", err)
	}
	for range chunks {
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestCompatNonRetryableStatusPreserved(t *testing.T) {
	var calls atomic.Int32
	p := newCompatTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, http.StatusUnauthorized)
	})

	_, err := p.Complete(context.Background(), &Request{Token: "sk-bad", Chat: openai.ChatCompletionRequest{Model: "gpt-4o"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry on 401)", calls.Load())
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is %T, want *api.Error", err)
	}
	if apiErr.Type != api.ErrorTypeAPI {
		t.Errorf("Type = %q, want api_error", apiErr.Type)
	}
	if apiErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("HTTPStatus = %d, want 401", apiErr.HTTPStatus())
	}
}

func TestCompatNoCredentials(t *testing.T) {
	p := NewCompat("openai", "https://api.openai.com/v1", config.ProviderConfig{})
	_, err := p.Complete(context.Background(), &Request{Chat: openai.ChatCompletionRequest{Model: "gpt-4o"}})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if apiErr := api.AsError(err); apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("Type = %q, want invalid_request", apiErr.Type)
	}
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		model, header          string
		wantProvider, wantBare string
	}{
		{"openai@gpt-4o", "", "openai", "gpt-4o"},
		{"groq@llama-3.3-70b", "claude", "groq", "llama-3.3-70b"},
		{"gpt-4o", "", "openai", "gpt-4o"},
		{"claude-sonnet-4-5", "claude", "claude", "claude-sonnet-4-5"},
	}
	for _, tt := range tests {
		provider, bare := ParseModel(tt.model, tt.header)
		if provider != tt.wantProvider || bare != tt.wantBare {
			t.Errorf("ParseModel(%q, %q) = (%q, %q), want (%q, %q)",
				tt.model, tt.header, provider, bare, tt.wantProvider, tt.wantBare)
		}
	}
}

func TestRouterUnknownProvider(t *testing.T) {
	router := NewRouter(config.ProvidersConfig{})
	if _, err := router.Get("bedrock"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := router.Get("togetherai"); err != nil {
		t.Errorf("togetherai: %v", err)
	}
}

func TestBuildMessageParamsSystemAndTools(t *testing.T) {
	params, err := buildMessageParams(&openai.ChatCompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
			{Role: openai.ChatMessageRoleUser, Content: "hi"},
			{Role: openai.ChatMessageRoleAssistant, ToolCalls: []openai.ToolCall{{
				ID: "call_1", Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: openai.ChatMessageRoleTool, ToolCallID: "call_1", Content: "42"},
			{Role: openai.ChatMessageRoleTool, ToolCallID: "call_2", Content: "43"},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:       "lookup",
				Parameters: map[string]any{"type": "object"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("buildMessageParams: %v", err)
	}

	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("System = %+v", params.System)
	}
	// user, assistant, then the two tool results folded into one user turn
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if len(params.Tools) != 1 {
		t.Errorf("tools = %d, want 1", len(params.Tools))
	}
	if params.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default", params.MaxTokens)
	}
}

func TestBuildMessageParamsRejectsUnknownRole(t *testing.T) {
	_, err := buildMessageParams(&openai.ChatCompletionRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []openai.ChatCompletionMessage{{Role: "developer", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected error for unsupported role")
	}
}

func TestParseDataURL(t *testing.T) {
	mediaType, data, ok := parseDataURL("data:image/png;base64,AAAA")
	if !ok || mediaType != "image/png" || data != "AAAA" {
		t.Errorf("parseDataURL = (%q, %q, %v)", mediaType, data, ok)
	}
	if _, _, ok := parseDataURL("https://example.com/cat.png"); ok {
		t.Error("remote URL accepted as data URL")
	}
}

func TestMapStopReason(t *testing.T) {
	if got := mapStopReason("tool_use"); got != openai.FinishReasonToolCalls {
		t.Errorf("tool_use = %q", got)
	}
	if got := mapStopReason("max_tokens"); got != openai.FinishReasonLength {
		t.Errorf("max_tokens = %q", got)
	}
	if got := mapStopReason("end_turn"); got != openai.FinishReasonStop {
		t.Errorf("end_turn = %q", got)
	}
}

func TestCompatStreamStopsAfterCancel(t *testing.T) {
	p := newCompatTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			fmt.Fprint(w, sseChunk("x", ""))
			flusher.Flush()
			time.Sleep(time.Millisecond)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := p.Complete(ctx, &Request{
		Token: "sk-caller",
		Chat:  openai.ChatCompletionRequest{Model: "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	<-chunks
	cancel()

	// The consumer walks away without draining the channel. The producer
	// goroutine must still exit and release the upstream stream.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !streamGoroutineRunning() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("processStream goroutine still blocked after cancel")
}

func streamGoroutineRunning() bool {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Contains(string(buf[:n]), "processStream")
}

func TestBuildMessageParamsOutputCap(t *testing.T) {
	user := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}}

	params, err := buildMessageParams(&openai.ChatCompletionRequest{
		Model:               "claude-sonnet-4-5",
		MaxCompletionTokens: 512,
		Messages:            user,
	})
	if err != nil {
		t.Fatalf("buildMessageParams: %v", err)
	}
	if params.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", params.MaxTokens)
	}

	params, err = buildMessageParams(&openai.ChatCompletionRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 256,
		Messages:  user,
	})
	if err != nil {
		t.Fatalf("buildMessageParams: %v", err)
	}
	if params.MaxTokens != 256 {
		t.Errorf("deprecated MaxTokens = %d, want 256", params.MaxTokens)
	}
}
