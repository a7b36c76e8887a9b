// Package stream folds provider chat-completion chunks into structured turn
// state and re-emits that state as the Responses SSE event sequence.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// DeltaKind classifies one incremental change observed in a chunk.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaRefusal
	DeltaReasoning
	DeltaToolCallBegin
	DeltaToolCallArguments
	DeltaFinish
)

// Delta is one accumulator state transition, in chunk arrival order.
type Delta struct {
	Kind   DeltaKind
	Choice int

	// DeltaText / DeltaRefusal / DeltaReasoning / DeltaToolCallArguments
	Text string

	// tool call deltas
	ToolIndex int

	// DeltaFinish
	FinishReason string
}

// ToolCall is a provider tool call assembled from streamed fragments.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ArgumentsValid reports whether the accumulated arguments parse as JSON.
// Empty arguments count as valid; executors see `{}`.
func (tc *ToolCall) ArgumentsValid() bool {
	if strings.TrimSpace(tc.Arguments) == "" {
		return true
	}
	return json.Valid([]byte(tc.Arguments))
}

type choiceState struct {
	text      strings.Builder
	refusal   strings.Builder
	reasoning strings.Builder
	calls     map[int]*ToolCall
	order     []int
	finish    string
}

func newChoiceState() *choiceState {
	return &choiceState{calls: make(map[int]*ToolCall)}
}

// Accumulator folds a chat-completion chunk stream. Tool calls are keyed by
// the delta's tool_calls index field, not by array position, because
// providers interleave fragments for concurrent calls.
type Accumulator struct {
	choices map[int]*choiceState
	order   []int

	id    string
	model string
	usage *openai.Usage
}

func NewAccumulator() *Accumulator {
	return &Accumulator{choices: make(map[int]*choiceState)}
}

// Feed folds one chunk and returns the transitions it caused, in order.
func (a *Accumulator) Feed(resp *openai.ChatCompletionStreamResponse) []Delta {
	if resp == nil {
		return nil
	}
	if resp.ID != "" {
		a.id = resp.ID
	}
	if resp.Model != "" {
		a.model = resp.Model
	}
	if resp.Usage != nil {
		a.usage = resp.Usage
	}

	var deltas []Delta
	for _, choice := range resp.Choices {
		state := a.choice(choice.Index)

		if choice.Delta.Content != "" {
			state.text.WriteString(choice.Delta.Content)
			deltas = append(deltas, Delta{Kind: DeltaText, Choice: choice.Index, Text: choice.Delta.Content})
		}
		if choice.Delta.Refusal != "" {
			state.refusal.WriteString(choice.Delta.Refusal)
			deltas = append(deltas, Delta{Kind: DeltaRefusal, Choice: choice.Index, Text: choice.Delta.Refusal})
		}
		if choice.Delta.ReasoningContent != "" {
			state.reasoning.WriteString(choice.Delta.ReasoningContent)
			deltas = append(deltas, Delta{Kind: DeltaReasoning, Choice: choice.Index, Text: choice.Delta.ReasoningContent})
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			deltas = append(deltas, state.foldToolCall(choice.Index, index, tc.ID, tc.Function.Name, tc.Function.Arguments)...)
		}
		// Legacy single function_call shape folds to slot 0.
		if fc := choice.Delta.FunctionCall; fc != nil {
			deltas = append(deltas, state.foldToolCall(choice.Index, 0, "", fc.Name, fc.Arguments)...)
		}

		if choice.FinishReason != "" && state.finish == "" {
			state.finish = string(choice.FinishReason)
			deltas = append(deltas, Delta{Kind: DeltaFinish, Choice: choice.Index, FinishReason: state.finish})
		}
	}
	return deltas
}

func (s *choiceState) foldToolCall(choice, index int, id, name, arguments string) []Delta {
	var deltas []Delta
	call, ok := s.calls[index]
	if !ok {
		call = &ToolCall{Index: index}
		s.calls[index] = call
		s.order = append(s.order, index)
		deltas = append(deltas, Delta{Kind: DeltaToolCallBegin, Choice: choice, ToolIndex: index})
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name += name
	}
	if arguments != "" {
		call.Arguments += arguments
		deltas = append(deltas, Delta{Kind: DeltaToolCallArguments, Choice: choice, ToolIndex: index, Text: arguments})
	}
	return deltas
}

func (a *Accumulator) choice(index int) *choiceState {
	state, ok := a.choices[index]
	if !ok {
		state = newChoiceState()
		a.choices[index] = state
		a.order = append(a.order, index)
	}
	return state
}

// Done reports whether every choice seen so far has reached a finish reason.
func (a *Accumulator) Done() bool {
	if len(a.choices) == 0 {
		return false
	}
	for _, state := range a.choices {
		if state.finish == "" {
			return false
		}
	}
	return true
}

// FinishReason returns the primary choice's terminal reason, or "".
func (a *Accumulator) FinishReason() string {
	if state, ok := a.choices[0]; ok {
		return state.finish
	}
	return ""
}

// Text returns the primary choice's accumulated text.
func (a *Accumulator) Text() string {
	if state, ok := a.choices[0]; ok {
		return state.text.String()
	}
	return ""
}

// Refusal returns the primary choice's accumulated refusal text.
func (a *Accumulator) Refusal() string {
	if state, ok := a.choices[0]; ok {
		return state.refusal.String()
	}
	return ""
}

// Reasoning returns the primary choice's accumulated reasoning text.
func (a *Accumulator) Reasoning() string {
	if state, ok := a.choices[0]; ok {
		return state.reasoning.String()
	}
	return ""
}

// ToolCalls returns the primary choice's tool calls in first-seen order.
// Calls that streamed without an id get a synthesized one.
func (a *Accumulator) ToolCalls() []*ToolCall {
	state, ok := a.choices[0]
	if !ok {
		return nil
	}
	calls := make([]*ToolCall, 0, len(state.order))
	for _, index := range state.order {
		call := state.calls[index]
		if call.ID == "" {
			call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		calls = append(calls, call)
	}
	return calls
}

// HasToolCalls reports whether the primary choice produced any tool calls.
func (a *Accumulator) HasToolCalls() bool {
	state, ok := a.choices[0]
	return ok && len(state.order) > 0
}

// Usage returns the last usage payload seen, or nil.
func (a *Accumulator) Usage() *openai.Usage { return a.usage }

// ID returns the provider's completion id, or "".
func (a *Accumulator) ID() string { return a.id }

// Model returns the model name echoed by the provider, or "".
func (a *Accumulator) Model() string { return a.model }
