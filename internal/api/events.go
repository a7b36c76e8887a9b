package api

// Streaming event types emitted on a Responses SSE stream. Names are part of
// the external contract.
const (
	EventResponseCreated    = "response.created"
	EventResponseInProgress = "response.in_progress"
	EventResponseCompleted  = "response.completed"
	EventResponseFailed     = "response.failed"
	EventResponseIncomplete = "response.incomplete"

	EventOutputItemAdded = "response.output_item.added"
	EventOutputItemDone  = "response.output_item.done"

	EventContentPartAdded = "response.content_part.added"
	EventContentPartDone  = "response.content_part.done"

	EventOutputTextDelta = "response.output_text.delta"
	EventOutputTextDone  = "response.output_text.done"

	EventRefusalDelta = "response.refusal.delta"
	EventRefusalDone  = "response.refusal.done"

	EventFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	EventReasoningSummaryTextDelta = "response.reasoning_summary_text.delta"
	EventReasoningSummaryTextDone  = "response.reasoning_summary_text.done"

	EventFileSearchCallInProgress = "response.file_search_call.in_progress"
	EventFileSearchCallSearching  = "response.file_search_call.searching"
	EventFileSearchCallCompleted  = "response.file_search_call.completed"

	EventWebSearchCallInProgress = "response.web_search_call.in_progress"
	EventWebSearchCallCompleted  = "response.web_search_call.completed"

	EventImageGenCallInProgress = "response.image_generation_call.in_progress"
	EventImageGenCallCompleted  = "response.image_generation_call.completed"

	EventMCPCallInProgress = "response.mcp_call.in_progress"
	EventMCPCallCompleted  = "response.mcp_call.completed"
	EventMCPCallFailed     = "response.mcp_call.failed"

	EventError = "error"
)

// StreamEvent is the payload written after `data:` for one SSE record.
// The populated fields depend on Type.
type StreamEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number"`

	// response.* lifecycle events
	Response *Response `json:"response,omitempty"`

	// output_item events
	OutputIndex *int  `json:"output_index,omitempty"`
	Item        *Item `json:"item,omitempty"`

	// content_part and delta events
	ItemID       string       `json:"item_id,omitempty"`
	ContentIndex *int         `json:"content_index,omitempty"`
	Part         *ContentPart `json:"part,omitempty"`
	Delta        string       `json:"delta,omitempty"`
	Text         string       `json:"text,omitempty"`

	// function_call_arguments.done
	Arguments string `json:"arguments,omitempty"`

	// error event
	Error *Error `json:"error,omitempty"`
}

// TerminalEvent reports whether the event type ends a stream.
func TerminalEvent(eventType string) bool {
	switch eventType {
	case EventResponseCompleted, EventResponseFailed, EventResponseIncomplete:
		return true
	}
	return false
}
