package orchestrator

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/provider"
	"github.com/haasonsaas/conduit/internal/stream"
)

// runTurn performs one provider call, folds the stream, emits per-item
// events, and appends the turn's output items to resp.Output in first-seen
// order.
func (l *Loop) runTurn(ctx context.Context, prov provider.Provider, providerName string, chat *openai.ChatCompletionRequest, token string, emitter *stream.Emitter, resp *api.Response, firstTurn bool) (*stream.Accumulator, error) {
	ctx, span := l.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("model", chat.Model),
	))
	defer span.End()

	start := time.Now()
	chunks, err := prov.Complete(ctx, &provider.Request{Token: token, Chat: *chat})
	if err != nil {
		l.recordProviderCall(providerName, chat.Model, start, false)
		return nil, err
	}
	if firstTurn && emitter != nil {
		emitter.InProgress(resp)
	}

	acc := stream.NewAccumulator()
	turn := &turnState{resp: resp, emitter: emitter}

	for chunk := range chunks {
		if chunk.Err != nil {
			l.recordProviderCall(providerName, chat.Model, start, false)
			return nil, chunk.Err
		}
		if chunk.Done {
			break
		}
		deltas := acc.Feed(chunk.Response)
		if emitter != nil {
			turn.emit(deltas)
		}
		if err := ctx.Err(); err != nil {
			l.recordProviderCall(providerName, chat.Model, start, false)
			return nil, err
		}
	}
	l.recordProviderCall(providerName, chat.Model, start, true)

	turn.close(acc)
	return acc, nil
}

func (l *Loop) recordProviderCall(providerName, model string, start time.Time, ok bool) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	l.metrics.ProviderRequests.WithLabelValues(providerName, model, status).Inc()
	l.metrics.ProviderRequestDuration.WithLabelValues(providerName, model).Observe(time.Since(start).Seconds())
}

// turnState tracks the output items announced during one turn so deltas and
// done events land on the right item and index.
type turnState struct {
	resp    *api.Response
	emitter *stream.Emitter

	msgIndex       int // position in resp.Output, -1 until announced
	msgAnnounced   bool
	refusalPart    bool // refusal content part (index 1) announced
	reasonIndex    int
	reasonAnnounce bool
	callIndexes    map[int]int // tool-call slot -> position in resp.Output
	callOrder      []int
}

// announce appends an item to the response output and emits output_item.added.
func (t *turnState) announce(item api.Item) int {
	t.resp.Output = append(t.resp.Output, item)
	index := len(t.resp.Output) - 1
	if t.emitter != nil {
		t.emitter.OutputItemAdded(index, &t.resp.Output[index])
	}
	return index
}

func (t *turnState) ensureMessage() int {
	if !t.msgAnnounced {
		t.msgAnnounced = true
		t.msgIndex = t.announce(api.Item{
			Type: api.ItemTypeMessage, ID: "msg_" + shortID(),
			Role: "assistant", Status: api.StatusInProgress,
		})
		if t.emitter != nil {
			item := &t.resp.Output[t.msgIndex]
			t.emitter.ContentPartAdded(item.ID, t.msgIndex, 0, &api.ContentPart{Type: api.ContentTypeOutputText})
		}
	}
	return t.msgIndex
}

// ensureRefusalPart announces the refusal content part. The message's
// output_text part always sits at content index 0, refusals at index 1.
func (t *turnState) ensureRefusalPart(msgIndex int) {
	if t.refusalPart {
		return
	}
	t.refusalPart = true
	if t.emitter != nil {
		item := &t.resp.Output[msgIndex]
		t.emitter.ContentPartAdded(item.ID, msgIndex, 1, &api.ContentPart{Type: api.ContentTypeRefusal})
	}
}

func (t *turnState) ensureReasoning() int {
	if !t.reasonAnnounce {
		t.reasonAnnounce = true
		t.reasonIndex = t.announce(api.Item{
			Type: api.ItemTypeReasoning, ID: "rs_" + shortID(),
			Status: api.StatusInProgress,
		})
	}
	return t.reasonIndex
}

func (t *turnState) ensureCall(slot int) int {
	if t.callIndexes == nil {
		t.callIndexes = make(map[int]int)
	}
	index, ok := t.callIndexes[slot]
	if !ok {
		index = t.announce(api.Item{
			Type: api.ItemTypeFunctionCall, ID: "fc_" + shortID(),
			Status: api.StatusInProgress,
		})
		t.callIndexes[slot] = index
		t.callOrder = append(t.callOrder, slot)
	}
	return index
}

// emit maps accumulator deltas to SSE events as they arrive.
func (t *turnState) emit(deltas []stream.Delta) {
	for _, d := range deltas {
		switch d.Kind {
		case stream.DeltaText:
			index := t.ensureMessage()
			t.emitter.OutputTextDelta(t.resp.Output[index].ID, index, 0, d.Text)

		case stream.DeltaRefusal:
			index := t.ensureMessage()
			t.ensureRefusalPart(index)
			t.emitter.RefusalDelta(t.resp.Output[index].ID, index, 1, d.Text)

		case stream.DeltaReasoning:
			index := t.ensureReasoning()
			t.emitter.ReasoningSummaryTextDelta(t.resp.Output[index].ID, index, d.Text)

		case stream.DeltaToolCallBegin:
			t.ensureCall(d.ToolIndex)

		case stream.DeltaToolCallArguments:
			index := t.ensureCall(d.ToolIndex)
			t.emitter.FunctionCallArgumentsDelta(t.resp.Output[index].ID, index, d.Text)
		}
	}
}

// close finalizes the turn's items: fills in accumulated content, marks them
// completed, and emits the done events in announce order.
func (t *turnState) close(acc *stream.Accumulator) {
	// Non-streaming turns announce everything here, preserving first-seen
	// order from the accumulator.
	if t.emitter == nil {
		if acc.Text() != "" || acc.Refusal() != "" {
			t.ensureMessage()
		}
		if acc.Reasoning() != "" {
			t.ensureReasoning()
		}
		for _, call := range acc.ToolCalls() {
			t.ensureCall(call.Index)
		}
	}

	if t.msgAnnounced {
		item := &t.resp.Output[t.msgIndex]
		item.Status = api.StatusCompleted
		item.Content = append(item.Content, api.TextPart(acc.Text()))
		if refusal := acc.Refusal(); refusal != "" {
			item.Content = append(item.Content, api.ContentPart{Type: api.ContentTypeRefusal, Refusal: refusal})
		}
		if t.emitter != nil {
			t.emitter.OutputTextDone(item.ID, t.msgIndex, 0, acc.Text())
			t.emitter.ContentPartDone(item.ID, t.msgIndex, 0, &item.Content[0])
			if refusal := acc.Refusal(); refusal != "" {
				t.emitter.RefusalDone(item.ID, t.msgIndex, 1, refusal)
				t.emitter.ContentPartDone(item.ID, t.msgIndex, 1, &item.Content[1])
			}
			t.emitter.OutputItemDone(t.msgIndex, item)
		}
	}

	if t.reasonAnnounce {
		item := &t.resp.Output[t.reasonIndex]
		item.Status = api.StatusCompleted
		item.Summary = []api.ContentPart{{Type: api.ContentTypeSummaryText, Text: acc.Reasoning()}}
		if t.emitter != nil {
			t.emitter.ReasoningSummaryTextDone(item.ID, t.reasonIndex, acc.Reasoning())
			t.emitter.OutputItemDone(t.reasonIndex, item)
		}
	}

	calls := acc.ToolCalls()
	bySlot := make(map[int]*stream.ToolCall, len(calls))
	for _, call := range calls {
		bySlot[call.Index] = call
	}
	for _, slot := range t.callOrder {
		call, ok := bySlot[slot]
		if !ok {
			continue
		}
		index := t.callIndexes[slot]
		item := &t.resp.Output[index]
		item.Status = api.StatusCompleted
		item.CallID = call.ID
		item.Name = call.Name
		item.Arguments = call.Arguments
		if t.emitter != nil {
			t.emitter.FunctionCallArgumentsDone(item.ID, index, call.Arguments)
			t.emitter.OutputItemDone(index, item)
		}
	}
}
