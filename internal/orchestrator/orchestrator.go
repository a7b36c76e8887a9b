// Package orchestrator runs the tool loop: it calls the upstream provider,
// folds the streamed turn, executes the tool calls the model makes, appends
// the results to the conversation, and repeats until the model stops or a
// budget guard fires.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/convert"
	"github.com/haasonsaas/conduit/internal/format"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/store"
	"github.com/haasonsaas/conduit/internal/stream"
)

// Options wires the loop's collaborators.
type Options struct {
	Router    *provider.Router
	Converter *convert.Converter
	Registry  *registry.Registry
	Store     store.Store
	Formatter *format.Formatter
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	Loop      config.LoopConfig
}

// Loop is the per-process orchestrator. All per-request state lives on the
// stack of Respond/ChatComplete; Loop itself is safe for concurrent use.
type Loop struct {
	router    *provider.Router
	converter *convert.Converter
	registry  *registry.Registry
	store     store.Store
	formatter *format.Formatter
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	cfg       config.LoopConfig
}

func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("conduit")
	}
	if opts.Loop.MaxIterations <= 0 {
		opts.Loop = config.Default().Loop
	}
	return &Loop{
		router:    opts.Router,
		converter: opts.Converter,
		registry:  opts.Registry,
		store:     opts.Store,
		formatter: opts.Formatter,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		cfg:       opts.Loop,
	}
}

// Respond runs one Responses API request to completion. sink is nil for
// non-streaming requests; with a sink, the full event sequence is emitted and
// the returned response mirrors the terminal event's payload.
//
// Errors returned before any event is emitted map to plain HTTP errors.
// After the stream begins, failures terminate the stream with
// response.failed and Respond returns the failed response.
func (l *Loop) Respond(parent context.Context, req *api.Request, token, headerProvider string, sink stream.Sink) (*api.Response, error) {
	providerName, bareModel := provider.ParseModel(req.Model, headerProvider)
	prov, err := l.router.Get(providerName)
	if err != nil {
		return nil, err
	}

	conv, err := l.conversation(parent, req)
	if err != nil {
		return nil, err
	}
	result, err := l.convertRequest(parent, req, conv, bareModel)
	if err != nil {
		return nil, err
	}
	chat := result.Chat

	resp := newResponse(req, providerName, bareModel)

	var emitter *stream.Emitter
	if sink != nil {
		emitter = stream.NewEmitter(sink)
	}

	deadline := time.Now().Add(l.cfg.MaxDuration())
	ctx, cancel := context.WithDeadline(parent, deadline)
	defer cancel()

	if emitter != nil {
		if err := emitter.Created(resp); err != nil {
			return nil, err
		}
	}

	iterations := 0
	appended := conv // persisted as the response's input items
	if appended == nil && req.Input.IsText() {
		appended = []api.Item{{
			Type: api.ItemTypeMessage, Role: "user",
			Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: req.Input.Text}},
		}}
	}
	for {
		iterations++

		turn, err := l.runTurn(ctx, prov, providerName, &chat, token, emitter, resp, iterations == 1)
		if err != nil {
			return l.finishError(parent, req, resp, emitter, appended, err, iterations)
		}

		resp.Usage = addUsage(resp.Usage, turn.Usage())
		finish := turn.FinishReason()

		if turn.HasToolCalls() && (finish == "tool_calls" || finish == "function_call") {
			if iterations >= l.cfg.MaxIterations {
				return l.finishIncomplete(parent, req, resp, emitter, appended, api.IncompleteReasonMaxToolCalls, iterations)
			}
			if time.Now().After(deadline) {
				return l.finishIncomplete(parent, req, resp, emitter, appended, api.IncompleteReasonTimeout, iterations)
			}

			results := l.executeCalls(ctx, turn.ToolCalls(), result, token, req.Model, req.Metadata)

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
				appended = append(appended,
					api.Item{Type: api.ItemTypeFunctionCall, ID: "fc_" + shortID(), CallID: r.callID, Name: r.name, Arguments: r.arguments, Status: "completed"},
					api.Item{Type: api.ItemTypeFunctionCallOutput, ID: "fco_" + shortID(), CallID: r.callID, Output: r.output},
				)
			}
			continue
		}

		// Final turn.
		resp.Status = api.StatusCompleted
		if finish == "length" {
			resp.Status = api.StatusIncomplete
			resp.IncompleteDetails = &api.IncompleteDetails{Reason: api.IncompleteReasonMaxTokens}
		}
		return l.finish(parent, req, resp, emitter, appended, iterations)
	}
}

// conversation materializes the effective input item list, reconstructing
// prior context from previous_response_id. A plain-text input with no prior
// response returns nil and converts as-is.
func (l *Loop) conversation(ctx context.Context, req *api.Request) ([]api.Item, error) {
	newItems := req.Input.Items
	if req.Input.IsText() {
		if req.PreviousResponseID == "" {
			return nil, nil
		}
		newItems = []api.Item{{
			Type: api.ItemTypeMessage, Role: "user",
			Content: []api.ContentPart{{Type: api.ContentTypeInputText, Text: req.Input.Text}},
		}}
	}
	if req.PreviousResponseID == "" {
		return newItems, nil
	}
	if l.store == nil {
		return nil, api.NewError(api.ErrorTypeInvalidRequest, "previous_response_id requires a response store")
	}

	prior, err := l.store.Get(ctx, req.PreviousResponseID)
	if err != nil {
		return nil, err
	}
	priorInput, err := l.allInputItems(ctx, req.PreviousResponseID)
	if err != nil {
		return nil, err
	}

	// Tool-call items the caller re-sends win over the stored copies.
	resent := make(map[string]struct{})
	for _, item := range newItems {
		if item.CallID != "" {
			resent[item.Type+"|"+item.CallID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var items []api.Item
	appendItem := func(item api.Item) {
		if item.CallID != "" {
			key := item.Type + "|" + item.CallID
			if _, dup := resent[key]; dup {
				return
			}
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
		}
		items = append(items, item)
	}
	for _, item := range priorInput {
		appendItem(item)
	}
	for _, item := range prior.Output {
		appendItem(item)
	}
	return append(items, newItems...), nil
}

func (l *Loop) allInputItems(ctx context.Context, id string) ([]api.Item, error) {
	var items []api.Item
	after := ""
	for {
		page, err := l.store.ListItems(ctx, id, store.DefaultPageSize, after)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Data...)
		if !page.HasMore || page.LastID == "" {
			return items, nil
		}
		after = page.LastID
	}
}

func (l *Loop) convertRequest(ctx context.Context, req *api.Request, conv []api.Item, bareModel string) (*convert.Result, error) {
	effective := *req
	if conv != nil {
		effective.Input = api.ItemsInput(conv)
	}
	return l.converter.Request(ctx, &effective, bareModel)
}

// finish closes out a response: terminal event, formatting, persistence.
func (l *Loop) finish(parent context.Context, req *api.Request, resp *api.Response, emitter *stream.Emitter, inputItems []api.Item, iterations int) (*api.Response, error) {
	l.observeIterations("responses", iterations)
	if l.formatter != nil {
		l.formatter.Response(resp)
	}

	if req.StoreEnabled() && l.store != nil && parent.Err() == nil {
		// Item ids anchor the input_items pagination cursor.
		for i := range inputItems {
			if inputItems[i].ID == "" {
				inputItems[i].ID = "item_" + shortID()
			}
		}
		if err := l.store.Save(parent, resp, inputItems); err != nil {
			l.logger.Error("persist response", "response_id", resp.ID, "error", err)
		}
	}

	if emitter != nil {
		switch resp.Status {
		case api.StatusIncomplete:
			if err := emitter.Incomplete(resp); err != nil {
				return resp, err
			}
		default:
			if err := emitter.Completed(resp); err != nil {
				return resp, err
			}
		}
	}
	return resp, nil
}

func (l *Loop) finishIncomplete(parent context.Context, req *api.Request, resp *api.Response, emitter *stream.Emitter, inputItems []api.Item, reason string, iterations int) (*api.Response, error) {
	resp.Status = api.StatusIncomplete
	resp.IncompleteDetails = &api.IncompleteDetails{Reason: reason}
	if l.metrics != nil {
		l.metrics.BudgetBreaches.WithLabelValues(reason).Inc()
	}
	l.logger.Warn("budget breach", "response_id", resp.ID, "reason", reason, "iterations", iterations)
	return l.finish(parent, req, resp, emitter, inputItems, iterations)
}

// finishError maps a turn failure. Client disconnects abort silently; a
// deadline hit becomes incomplete{timeout}; everything else fails the
// response.
func (l *Loop) finishError(parent context.Context, req *api.Request, resp *api.Response, emitter *stream.Emitter, inputItems []api.Item, err error, iterations int) (*api.Response, error) {
	if parent.Err() != nil {
		// Caller went away. Nothing to emit, nothing to persist.
		l.observeIterations("responses", iterations)
		return nil, parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A terminal response like any other: formatted and persisted.
		return l.finishIncomplete(parent, req, resp, emitter, inputItems, api.IncompleteReasonTimeout, iterations)
	}

	l.observeIterations("responses", iterations)
	apiErr := api.AsError(err)
	resp.Status = api.StatusFailed
	resp.Error = apiErr
	l.logger.Error("response failed", "response_id", resp.ID, "error", err)
	if emitter != nil {
		emitter.Error(apiErr)
		if emitErr := emitter.Failed(resp); emitErr != nil {
			return resp, emitErr
		}
		return resp, nil
	}
	return nil, apiErr
}

func (l *Loop) observeIterations(apiName string, iterations int) {
	if l.metrics != nil {
		l.metrics.LoopIterations.WithLabelValues(apiName).Observe(float64(iterations))
	}
}

func newResponse(req *api.Request, providerName, bareModel string) *api.Response {
	resp := &api.Response{
		ID:                 "resp_" + shortID(),
		Object:             "response",
		CreatedAt:          time.Now().Unix(),
		Status:             api.StatusInProgress,
		Model:              provider.QualifiedModel(providerName, bareModel),
		Output:             []api.Item{},
		ParallelToolCalls:  true,
		PreviousResponseID: req.PreviousResponseID,
		Instructions:       req.Instructions,
		MaxOutputTokens:    req.MaxOutputTokens,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		Text:               req.Text,
		Reasoning:          req.Reasoning,
		ToolChoice:         req.ToolChoice,
		Tools:              req.Tools,
		Truncation:         req.Truncation,
		Store:              req.StoreEnabled(),
		Metadata:           req.Metadata,
	}
	if resp.Tools == nil {
		resp.Tools = []api.ToolSpec{}
	}
	return resp
}

func addUsage(total *api.Usage, turn *openai.Usage) *api.Usage {
	if turn == nil {
		return total
	}
	if total == nil {
		total = &api.Usage{}
	}
	total.InputTokens += turn.PromptTokens
	total.OutputTokens += turn.CompletionTokens
	total.TotalTokens += turn.TotalTokens
	return total
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
