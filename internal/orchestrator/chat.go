package orchestrator

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/convert"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/stream"
)

// ChatComplete runs a chat-completions request through the same tool loop.
// Tool calls that name a registered server-managed tool are executed here;
// anything else ends the loop and is returned to the caller, which owns the
// function. sse is nil for non-streaming requests; with a writer, provider
// chunks are relayed as they arrive and the stream ends with the [DONE]
// sentinel.
func (l *Loop) ChatComplete(parent context.Context, chatReq *openai.ChatCompletionRequest, token, headerProvider string, sse *stream.SSEWriter) (*openai.ChatCompletionResponse, error) {
	providerName, bareModel := provider.ParseModel(chatReq.Model, headerProvider)
	prov, err := l.router.Get(providerName)
	if err != nil {
		return nil, err
	}

	// The chat protocol has no alias tool specs; the request-level alias map
	// is the set of function names that match registered tools.
	conv := &convert.Result{
		AliasMap:  make(map[string]string),
		ToolSpecs: make(map[string]api.ToolSpec),
	}
	for _, tool := range chatReq.Tools {
		if tool.Function == nil {
			continue
		}
		if canonical := l.registry.Resolve(tool.Function.Name, nil); canonical != "" {
			conv.AliasMap[tool.Function.Name] = canonical
		}
	}

	ctx, cancel := context.WithTimeout(parent, l.cfg.MaxDuration())
	defer cancel()

	chat := *chatReq
	chat.Model = bareModel

	var acc *stream.Accumulator
	var usage openai.Usage
	iterations := 0
	for {
		iterations++

		acc, err = l.runChatTurn(ctx, prov, providerName, &chat, token, sse)
		if err != nil {
			l.observeIterations("chat_completions", iterations)
			return nil, err
		}
		if u := acc.Usage(); u != nil {
			usage.PromptTokens += u.PromptTokens
			usage.CompletionTokens += u.CompletionTokens
			usage.TotalTokens += u.TotalTokens
		}

		finish := acc.FinishReason()
		if !acc.HasToolCalls() || (finish != "tool_calls" && finish != "function_call") {
			break
		}
		if !l.allCallsRegistered(acc, conv.AliasMap) {
			// The caller owns at least one of these functions; hand the turn
			// back instead of failing the unregistered call.
			break
		}
		if iterations >= l.cfg.MaxIterations {
			if l.metrics != nil {
				l.metrics.BudgetBreaches.WithLabelValues(api.IncompleteReasonMaxToolCalls).Inc()
			}
			break
		}

		results := l.executeCalls(ctx, acc.ToolCalls(), conv, token, chatReq.Model, nil)
		assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		for _, r := range results {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:       r.callID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: r.name, Arguments: r.arguments},
			})
		}
		chat.Messages = append(chat.Messages, assistant)
		for _, r := range results {
			chat.Messages = append(chat.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: r.callID,
				Content:    r.output,
			})
		}
	}
	l.observeIterations("chat_completions", iterations)

	resp := l.chatResponse(chatReq.Model, acc, usage)
	if l.store != nil && parent.Err() == nil {
		if err := l.store.SaveChatCompletion(parent, resp); err != nil {
			l.logger.Error("persist chat completion", "id", resp.ID, "error", err)
		}
	}

	if sse != nil {
		if err := sse.Done(); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// runChatTurn is the chat-path stream pump: chunks relay to the client
// verbatim while the accumulator folds them for the loop decision.
func (l *Loop) runChatTurn(ctx context.Context, prov provider.Provider, providerName string, chat *openai.ChatCompletionRequest, token string, sse *stream.SSEWriter) (*stream.Accumulator, error) {
	start := time.Now()
	chunks, err := prov.Complete(ctx, &provider.Request{Token: token, Chat: *chat})
	if err != nil {
		l.recordProviderCall(providerName, chat.Model, start, false)
		return nil, err
	}

	acc := stream.NewAccumulator()
	for chunk := range chunks {
		if chunk.Err != nil {
			l.recordProviderCall(providerName, chat.Model, start, false)
			return nil, chunk.Err
		}
		if chunk.Done {
			break
		}
		acc.Feed(chunk.Response)
		if sse != nil {
			if err := sse.SendJSON(chunk.Response); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			l.recordProviderCall(providerName, chat.Model, start, false)
			return nil, err
		}
	}
	l.recordProviderCall(providerName, chat.Model, start, true)
	return acc, nil
}

func (l *Loop) allCallsRegistered(acc *stream.Accumulator, aliasMap map[string]string) bool {
	for _, call := range acc.ToolCalls() {
		if l.registry.Resolve(call.Name, aliasMap) == "" {
			return false
		}
	}
	return true
}

// chatResponse assembles the final non-streaming response object from the
// last turn's accumulator state. usage covers every iteration of the loop,
// not just the final turn.
func (l *Loop) chatResponse(model string, acc *stream.Accumulator, usage openai.Usage) *openai.ChatCompletionResponse {
	id := acc.ID()
	if id == "" {
		id = "chatcmpl-" + shortID()
	}

	message := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: acc.Text(),
	}
	for _, call := range acc.ToolCalls() {
		message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
			ID:       call.ID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: call.Name, Arguments: call.Arguments},
		})
	}

	resp := &openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: openai.FinishReason(acc.FinishReason()),
		}},
	}
	resp.Usage = usage
	return resp
}
