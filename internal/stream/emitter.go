package stream

import (
	"github.com/haasonsaas/conduit/internal/api"
)

// Sink receives emitted events. The SSE writer is the production sink; tests
// collect into a slice.
type Sink interface {
	Send(event *api.StreamEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event *api.StreamEvent) error

func (f SinkFunc) Send(event *api.StreamEvent) error { return f(event) }

// Emitter writes the Responses event sequence with monotonic sequence
// numbers. It enforces the single-terminal rule: once a terminal event is
// sent, every later emit is dropped.
type Emitter struct {
	sink     Sink
	seq      int64
	terminal bool
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Terminal reports whether a terminal event has been emitted.
func (e *Emitter) Terminal() bool { return e.terminal }

func (e *Emitter) send(event *api.StreamEvent) error {
	if e.terminal {
		return nil
	}
	event.SequenceNumber = e.seq
	e.seq++
	if api.TerminalEvent(event.Type) {
		e.terminal = true
	}
	return e.sink.Send(event)
}

func (e *Emitter) Created(resp *api.Response) error {
	return e.send(&api.StreamEvent{Type: api.EventResponseCreated, Response: resp})
}

func (e *Emitter) InProgress(resp *api.Response) error {
	return e.send(&api.StreamEvent{Type: api.EventResponseInProgress, Response: resp})
}

func (e *Emitter) OutputItemAdded(outputIndex int, item *api.Item) error {
	index := outputIndex
	return e.send(&api.StreamEvent{Type: api.EventOutputItemAdded, OutputIndex: &index, Item: item})
}

func (e *Emitter) OutputItemDone(outputIndex int, item *api.Item) error {
	index := outputIndex
	return e.send(&api.StreamEvent{Type: api.EventOutputItemDone, OutputIndex: &index, Item: item})
}

func (e *Emitter) ContentPartAdded(itemID string, outputIndex, contentIndex int, part *api.ContentPart) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventContentPartAdded, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Part: part,
	})
}

func (e *Emitter) ContentPartDone(itemID string, outputIndex, contentIndex int, part *api.ContentPart) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventContentPartDone, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Part: part,
	})
}

func (e *Emitter) OutputTextDelta(itemID string, outputIndex, contentIndex int, delta string) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventOutputTextDelta, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Delta: delta,
	})
}

func (e *Emitter) OutputTextDone(itemID string, outputIndex, contentIndex int, text string) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventOutputTextDone, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Text: text,
	})
}

func (e *Emitter) RefusalDelta(itemID string, outputIndex, contentIndex int, delta string) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventRefusalDelta, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Delta: delta,
	})
}

func (e *Emitter) RefusalDone(itemID string, outputIndex, contentIndex int, text string) error {
	oi, ci := outputIndex, contentIndex
	return e.send(&api.StreamEvent{
		Type: api.EventRefusalDone, ItemID: itemID,
		OutputIndex: &oi, ContentIndex: &ci, Text: text,
	})
}

func (e *Emitter) FunctionCallArgumentsDelta(itemID string, outputIndex int, delta string) error {
	index := outputIndex
	return e.send(&api.StreamEvent{
		Type: api.EventFunctionCallArgumentsDelta, ItemID: itemID,
		OutputIndex: &index, Delta: delta,
	})
}

func (e *Emitter) FunctionCallArgumentsDone(itemID string, outputIndex int, arguments string) error {
	index := outputIndex
	return e.send(&api.StreamEvent{
		Type: api.EventFunctionCallArgumentsDone, ItemID: itemID,
		OutputIndex: &index, Arguments: arguments,
	})
}

func (e *Emitter) ReasoningSummaryTextDelta(itemID string, outputIndex int, delta string) error {
	index := outputIndex
	return e.send(&api.StreamEvent{
		Type: api.EventReasoningSummaryTextDelta, ItemID: itemID,
		OutputIndex: &index, Delta: delta,
	})
}

func (e *Emitter) ReasoningSummaryTextDone(itemID string, outputIndex int, text string) error {
	index := outputIndex
	return e.send(&api.StreamEvent{
		Type: api.EventReasoningSummaryTextDone, ItemID: itemID,
		OutputIndex: &index, Text: text,
	})
}

// ToolCallStatus emits one of the tool-specific call status events, e.g.
// response.file_search_call.searching.
func (e *Emitter) ToolCallStatus(eventType, itemID string, outputIndex int) error {
	index := outputIndex
	return e.send(&api.StreamEvent{Type: eventType, ItemID: itemID, OutputIndex: &index})
}

func (e *Emitter) Completed(resp *api.Response) error {
	return e.send(&api.StreamEvent{Type: api.EventResponseCompleted, Response: resp})
}

func (e *Emitter) Failed(resp *api.Response) error {
	return e.send(&api.StreamEvent{Type: api.EventResponseFailed, Response: resp})
}

func (e *Emitter) Incomplete(resp *api.Response) error {
	return e.send(&api.StreamEvent{Type: api.EventResponseIncomplete, Response: resp})
}

// Error emits a non-terminal error event. Stream-fatal failures follow with
// Failed.
func (e *Emitter) Error(apiErr *api.Error) error {
	return e.send(&api.StreamEvent{Type: api.EventError, Error: apiErr})
}
