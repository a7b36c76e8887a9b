package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/convert"
	"github.com/haasonsaas/conduit/internal/files"
	"github.com/haasonsaas/conduit/internal/format"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/store"
	"github.com/haasonsaas/conduit/internal/stream"
)

// scriptedProvider plays back canned chunk turns and records every request.
type scriptedProvider struct {
	turns    [][]*openai.ChatCompletionStreamResponse
	requests []openai.ChatCompletionRequest
	calls    int

	// block makes every turn wait for ctx cancellation instead of streaming.
	block bool
}

func (p *scriptedProvider) Name() string { return "openai" }

func (p *scriptedProvider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	p.requests = append(p.requests, req.Chat)
	turn := p.calls
	p.calls++

	out := make(chan *provider.Chunk, 16)
	go func() {
		defer close(out)
		if p.block {
			<-ctx.Done()
			out <- &provider.Chunk{Err: ctx.Err()}
			return
		}
		if turn < len(p.turns) {
			for _, resp := range p.turns[turn] {
				out <- &provider.Chunk{Response: resp}
			}
		}
		out <- &provider.Chunk{Done: true}
	}()
	return out, nil
}

func textTurn(text string) []*openai.ChatCompletionStreamResponse {
	return []*openai.ChatCompletionStreamResponse{
		{ID: "chatcmpl-1", Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}},
		}},
		{ID: "chatcmpl-1", Choices: []openai.ChatCompletionStreamChoice{
			{FinishReason: openai.FinishReasonStop},
		}},
	}
}

func toolTurn(calls ...openai.ToolCall) []*openai.ChatCompletionStreamResponse {
	chunks := make([]*openai.ChatCompletionStreamResponse, 0, len(calls)+1)
	for _, call := range calls {
		chunks = append(chunks, &openai.ChatCompletionStreamResponse{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{call}},
			}},
		})
	}
	return append(chunks, &openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-1",
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}},
	})
}

func toolCall(index int, id, name, args string) openai.ToolCall {
	i := index
	return openai.ToolCall{Index: &i, ID: id, Function: openai.FunctionCall{Name: name, Arguments: args}}
}

// echoTool returns a fixed payload and counts executions.
type echoTool struct {
	name     string
	payload  string
	executed atomic.Int32
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "test tool" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
}
func (t *echoTool) Execute(context.Context, json.RawMessage, *registry.Invocation) (string, error) {
	t.executed.Add(1)
	return t.payload, nil
}

type fixture struct {
	loop  *Loop
	prov  *scriptedProvider
	reg   *registry.Registry
	store *store.Memory
}

func newFixture(t *testing.T, prov *scriptedProvider, loopCfg config.LoopConfig) *fixture {
	t.Helper()
	router := provider.NewRouter(config.ProvidersConfig{})
	router.Register(prov)

	reg := registry.New(nil)
	mem := store.NewMemory()
	conv := convert.New(reg, files.NewMemory())

	if loopCfg.MaxIterations == 0 {
		loopCfg = config.Default().Loop
	}
	loop := New(Options{
		Router:    router,
		Converter: conv,
		Registry:  reg,
		Store:     mem,
		Formatter: format.New(reg),
		Loop:      loopCfg,
	})
	return &fixture{loop: loop, prov: prov, reg: reg, store: mem}
}

func TestRespondTextNonStreaming(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{textTurn("Hello")}}
	f := newFixture(t, prov, config.LoopConfig{})

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("Hi"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if resp.Status != api.StatusCompleted {
		t.Errorf("Status = %q", resp.Status)
	}
	if got := resp.OutputText(); got != "Hello" {
		t.Errorf("OutputText = %q", got)
	}
	if resp.Model != "openai@gpt-4o" {
		t.Errorf("Model = %q", resp.Model)
	}
	if prov.calls != 1 {
		t.Errorf("provider calls = %d", prov.calls)
	}

	stored, err := f.store.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("stored response missing: %v", err)
	}
	if stored.OutputText() != "Hello" {
		t.Errorf("stored text = %q", stored.OutputText())
	}
}

func TestRespondStreamingEventOrder(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{textTurn("Hello")}}
	f := newFixture(t, prov, config.LoopConfig{})

	var events []*api.StreamEvent
	sink := stream.SinkFunc(func(ev *api.StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model:  "openai@gpt-4o",
		Input:  api.TextInput("Hi"),
		Stream: true,
	}, "sk-test", "", sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.Status != api.StatusCompleted {
		t.Errorf("Status = %q", resp.Status)
	}

	want := []string{
		api.EventResponseCreated,
		api.EventResponseInProgress,
		api.EventOutputItemAdded,
		api.EventContentPartAdded,
		api.EventOutputTextDelta,
		api.EventOutputTextDone,
		api.EventContentPartDone,
		api.EventOutputItemDone,
		api.EventResponseCompleted,
	}
	if len(events) != len(want) {
		for _, ev := range events {
			t.Logf("event %d: %s", ev.SequenceNumber, ev.Type)
		}
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, ev.Type, want[i])
		}
		if ev.SequenceNumber != int64(i) {
			t.Errorf("events[%d].SequenceNumber = %d", i, ev.SequenceNumber)
		}
	}
	if events[len(events)-1].Response.Status != api.StatusCompleted {
		t.Errorf("terminal payload status = %q", events[len(events)-1].Response.Status)
	}
}

func TestRespondToolLoop(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{
		toolTurn(toolCall(0, "c1", "get_weather", `{"city":"Paris"}`)),
		textTurn("It is 20°C."),
	}}
	f := newFixture(t, prov, config.LoopConfig{})
	weather := &echoTool{name: "get_weather", payload: `{"temp":20}`}
	f.reg.Register(weather)

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("Weather in Paris?"),
		Tools: []api.ToolSpec{{
			Type: api.ToolTypeFunction, Name: "get_weather",
			Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		}},
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if prov.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", prov.calls)
	}
	if weather.executed.Load() != 1 {
		t.Errorf("tool executed %d times", weather.executed.Load())
	}
	if resp.Status != api.StatusCompleted || !strings.Contains(resp.OutputText(), "20") {
		t.Errorf("resp = %q status %q", resp.OutputText(), resp.Status)
	}

	// The second provider call must carry the tool exchange.
	second := prov.requests[1]
	n := len(second.Messages)
	if n < 2 {
		t.Fatalf("second request messages = %d", n)
	}
	assistant, tool := second.Messages[n-2], second.Messages[n-1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "c1" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if tool.Role != openai.ChatMessageRoleTool || tool.ToolCallID != "c1" || tool.Content != `{"temp":20}` {
		t.Errorf("tool message = %+v", tool)
	}

	// Output keeps the function_call item; appended input items keep the pair.
	var fc *api.Item
	for i := range resp.Output {
		if resp.Output[i].Type == api.ItemTypeFunctionCall {
			fc = &resp.Output[i]
		}
	}
	if fc == nil || fc.CallID != "c1" || fc.Name != "get_weather" {
		t.Fatalf("function_call item = %+v", fc)
	}

	items, err := f.store.ListItems(context.Background(), resp.ID, 50, "")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	var kinds []string
	for _, item := range items.Data {
		if item.CallID == "c1" {
			kinds = append(kinds, item.Type)
		}
	}
	if len(kinds) != 2 || kinds[0] != api.ItemTypeFunctionCall || kinds[1] != api.ItemTypeFunctionCallOutput {
		t.Errorf("appended items = %v", kinds)
	}
}

func TestRespondParallelToolCallsPreserveOrder(t *testing.T) {
	// Argument fragments interleave across the two calls within one turn.
	turn := []*openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{toolCall(0, "c0", "get_weather", `{"city":`)},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{toolCall(1, "c1", "get_time", `{"zone":"UTC"}`)},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{toolCall(0, "", "", `"Paris"}`)},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}}},
	}
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{turn, textTurn("done")}}
	f := newFixture(t, prov, config.LoopConfig{})
	f.reg.Register(&echoTool{name: "get_weather", payload: `{"temp":20}`})
	f.reg.Register(&echoTool{name: "get_time", payload: `{"time":"12:00"}`})

	_, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("both please"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	second := prov.requests[1]
	n := len(second.Messages)
	assistant := second.Messages[n-3]
	if len(assistant.ToolCalls) != 2 || assistant.ToolCalls[0].ID != "c0" || assistant.ToolCalls[1].ID != "c1" {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	if second.Messages[n-2].ToolCallID != "c0" || second.Messages[n-1].ToolCallID != "c1" {
		t.Errorf("tool outputs out of order: %+v", second.Messages[n-2:])
	}
}

func TestRespondMaxIterationsBudget(t *testing.T) {
	loops := make([][]*openai.ChatCompletionStreamResponse, 5)
	for i := range loops {
		loops[i] = toolTurn(toolCall(0, "c1", "get_weather", `{"city":"Paris"}`))
	}
	prov := &scriptedProvider{turns: loops}
	f := newFixture(t, prov, config.LoopConfig{MaxIterations: 2, MaxDurationMS: 60000, PerToolTimeoutMS: 30000})
	f.reg.Register(&echoTool{name: "get_weather", payload: `{"temp":20}`})

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("loop forever"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if prov.calls != 2 {
		t.Errorf("provider calls = %d, want 2", prov.calls)
	}
	if resp.Status != api.StatusIncomplete {
		t.Fatalf("Status = %q", resp.Status)
	}
	if resp.IncompleteDetails == nil || resp.IncompleteDetails.Reason != api.IncompleteReasonMaxToolCalls {
		t.Errorf("IncompleteDetails = %+v", resp.IncompleteDetails)
	}
}

func TestRespondInvalidArgumentsNotExecuted(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{
		toolTurn(toolCall(0, "c1", "get_weather", `{not json`)),
		textTurn("recovered"),
	}}
	f := newFixture(t, prov, config.LoopConfig{})
	weather := &echoTool{name: "get_weather", payload: `{"temp":20}`}
	f.reg.Register(weather)

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("weather"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if weather.executed.Load() != 0 {
		t.Errorf("tool executed despite invalid arguments")
	}
	if resp.Status != api.StatusCompleted {
		t.Errorf("Status = %q", resp.Status)
	}

	second := prov.requests[1]
	toolMsg := second.Messages[len(second.Messages)-1]
	if !strings.Contains(toolMsg.Content, "invalid_arguments") {
		t.Errorf("synthetic output = %q", toolMsg.Content)
	}
	if prov.calls != 2 {
		t.Errorf("provider calls = %d, want 2", prov.calls)
	}
}

func TestRespondPreviousResponseID(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{
		textTurn("The capital of France is Paris."),
		textTurn("About two million people."),
	}}
	f := newFixture(t, prov, config.LoopConfig{})

	first, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("What is the capital of France?"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("first Respond: %v", err)
	}

	_, err = f.loop.Respond(context.Background(), &api.Request{
		Model:              "openai@gpt-4o",
		Input:              api.TextInput("How many people live there?"),
		PreviousResponseID: first.ID,
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}

	second := prov.requests[1]
	var haveQuestion, haveAnswer bool
	for _, msg := range second.Messages {
		if strings.Contains(msg.Content, "capital of France?") {
			haveQuestion = true
		}
		if strings.Contains(msg.Content, "Paris") {
			haveAnswer = true
		}
	}
	if !haveQuestion || !haveAnswer {
		t.Errorf("prior context missing: question=%v answer=%v", haveQuestion, haveAnswer)
	}
}

func TestRespondUnknownPreviousResponse(t *testing.T) {
	prov := &scriptedProvider{}
	f := newFixture(t, prov, config.LoopConfig{})

	_, err := f.loop.Respond(context.Background(), &api.Request{
		Model:              "openai@gpt-4o",
		Input:              api.TextInput("hi"),
		PreviousResponseID: "resp_missing",
	}, "sk-test", "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if api.AsError(err).Type != api.ErrorTypeNotFound {
		t.Errorf("Type = %q", api.AsError(err).Type)
	}
	if prov.calls != 0 {
		t.Errorf("provider called before validation")
	}
}

func TestRespondClientDisconnect(t *testing.T) {
	prov := &scriptedProvider{block: true}
	f := newFixture(t, prov, config.LoopConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.loop.Respond(ctx, &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
	}, "sk-test", "", nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestRespondDeadlineBecomesIncompleteTimeout(t *testing.T) {
	prov := &scriptedProvider{block: true}
	f := newFixture(t, prov, config.LoopConfig{MaxIterations: 10, MaxDurationMS: 30, PerToolTimeoutMS: 30000})

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model: "openai@gpt-4o",
		Input: api.TextInput("hi"),
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.Status != api.StatusIncomplete {
		t.Fatalf("Status = %q", resp.Status)
	}
	if resp.IncompleteDetails.Reason != api.IncompleteReasonTimeout {
		t.Errorf("Reason = %q", resp.IncompleteDetails.Reason)
	}

	// A timeout is a terminal response like any other: persisted when
	// storage is on.
	stored, err := f.store.Get(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("timed-out response not persisted: %v", err)
	}
	if stored.IncompleteDetails == nil || stored.IncompleteDetails.Reason != api.IncompleteReasonTimeout {
		t.Errorf("stored details = %+v", stored.IncompleteDetails)
	}
}

func TestRespondStreamingRefusalParts(t *testing.T) {
	turn := []*openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "Sorry."}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Refusal: "I cannot help with that."}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonStop}}},
	}
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{turn}}
	f := newFixture(t, prov, config.LoopConfig{})

	var events []*api.StreamEvent
	sink := stream.SinkFunc(func(ev *api.StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	resp, err := f.loop.Respond(context.Background(), &api.Request{
		Model:  "openai@gpt-4o",
		Input:  api.TextInput("do the thing"),
		Stream: true,
	}, "sk-test", "", sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	// Two content parts on the message: output_text at 0, refusal at 1.
	// Every announced part must get a matching done event.
	added, done := 0, 0
	var refusalDone *api.StreamEvent
	for _, ev := range events {
		switch ev.Type {
		case api.EventContentPartAdded:
			added++
		case api.EventContentPartDone:
			done++
		case api.EventRefusalDone:
			refusalDone = ev
		}
	}
	if added != 2 || done != 2 {
		t.Errorf("content_part events: added=%d done=%d, want 2/2", added, done)
	}
	if refusalDone == nil {
		t.Fatal("missing refusal.done event")
	}
	if refusalDone.ContentIndex == nil || *refusalDone.ContentIndex != 1 {
		t.Errorf("refusal.done content_index = %v, want 1", refusalDone.ContentIndex)
	}

	msg := resp.Output[0]
	if len(msg.Content) != 2 || msg.Content[1].Refusal != "I cannot help with that." {
		t.Errorf("message content = %+v", msg.Content)
	}
}

func TestChatCompleteToolLoop(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{
		toolTurn(toolCall(0, "c1", "get_weather", `{"city":"Paris"}`)),
		textTurn("It is sunny."),
	}}
	f := newFixture(t, prov, config.LoopConfig{})
	f.reg.Register(&echoTool{name: "get_weather", payload: `{"temp":20}`})

	resp, err := f.loop.ChatComplete(context.Background(), &openai.ChatCompletionRequest{
		Model:    "openai@gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "weather"}},
		Tools: []openai.Tool{{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "get_weather"},
		}},
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}

	if prov.calls != 2 {
		t.Errorf("provider calls = %d", prov.calls)
	}
	if resp.Choices[0].Message.Content != "It is sunny." {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}

	stored, err := f.store.GetChatCompletion(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("stored chat completion missing: %v", err)
	}
	if stored.Choices[0].Message.Content != "It is sunny." {
		t.Errorf("stored content = %q", stored.Choices[0].Message.Content)
	}
}

func TestChatCompleteSumsUsageAcrossTurns(t *testing.T) {
	turn1 := toolTurn(toolCall(0, "c1", "get_weather", `{"city":"Paris"}`))
	turn1 = append(turn1, &openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	turn2 := textTurn("It is sunny.")
	turn2 = append(turn2, &openai.ChatCompletionStreamResponse{
		Usage: &openai.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27},
	})
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{turn1, turn2}}
	f := newFixture(t, prov, config.LoopConfig{})
	f.reg.Register(&echoTool{name: "get_weather", payload: `{"temp":20}`})

	resp, err := f.loop.ChatComplete(context.Background(), &openai.ChatCompletionRequest{
		Model:    "openai@gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "weather"}},
		Tools: []openai.Tool{{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "get_weather"},
		}},
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}

	if prov.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", prov.calls)
	}
	want := openai.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42}
	if resp.Usage != want {
		t.Errorf("Usage = %+v, want %+v", resp.Usage, want)
	}
}

func TestChatCompleteReturnsUnregisteredToolCalls(t *testing.T) {
	prov := &scriptedProvider{turns: [][]*openai.ChatCompletionStreamResponse{
		toolTurn(toolCall(0, "c1", "lookup_order", `{"id":"42"}`)),
	}}
	f := newFixture(t, prov, config.LoopConfig{})

	resp, err := f.loop.ChatComplete(context.Background(), &openai.ChatCompletionRequest{
		Model:    "openai@gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "my order"}},
		Tools: []openai.Tool{{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "lookup_order"},
		}},
	}, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}

	if prov.calls != 1 {
		t.Errorf("provider calls = %d, want 1", prov.calls)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "lookup_order" {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.Choices[0].FinishReason != openai.FinishReasonToolCalls {
		t.Errorf("finish = %q", resp.Choices[0].FinishReason)
	}
}
