// Package api defines the wire types for the Responses API surface: requests,
// response objects, input/output item unions, tool specifications, and the
// streaming event envelope.
//
// Unions are represented as flat structs discriminated by a Type field with a
// switch at every use site. Fields that belong to other variants stay zero and
// are dropped by omitempty on marshal. This keeps serialization free of
// reflection-driven dispatch while still round-tripping unknown payloads.
package api

import (
	"encoding/json"
	"fmt"
)

// Item types appearing in request input and response output lists.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
	ItemTypeReasoning          = "reasoning"
	ItemTypeFileSearchCall     = "file_search_call"
	ItemTypeWebSearchCall      = "web_search_call"
	ItemTypeImageGenCall       = "image_generation_call"
	ItemTypeMCPListTools       = "mcp_list_tools"
	ItemTypeMCPCall            = "mcp_call"
)

// Content part types.
const (
	ContentTypeInputText   = "input_text"
	ContentTypeInputImage  = "input_image"
	ContentTypeInputFile   = "input_file"
	ContentTypeOutputText  = "output_text"
	ContentTypeRefusal     = "refusal"
	ContentTypeSummaryText = "summary_text"
)

// Tool spec types. Any other value is treated as a registered-tool alias
// (e.g. "think", "file_search", "brave_web_search").
const (
	ToolTypeFunction = "function"
	ToolTypeMCP      = "mcp"
)

// Response statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusIncomplete = "incomplete"
)

// Incomplete reasons reported in IncompleteDetails.
const (
	IncompleteReasonMaxToolCalls = "max_tool_calls"
	IncompleteReasonTimeout      = "timeout"
	IncompleteReasonMaxTokens    = "max_output_tokens"
)

// Request is a Responses API create-response request.
type Request struct {
	Model              string            `json:"model"`
	Input              Input             `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	Tools              []ToolSpec        `json:"tools,omitempty"`
	ToolChoice         any               `json:"tool_choice,omitempty"`
	Temperature        *float32          `json:"temperature,omitempty"`
	TopP               *float32          `json:"top_p,omitempty"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Text               *TextConfig       `json:"text,omitempty"`
	Reasoning          *ReasoningConfig  `json:"reasoning,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Store              *bool             `json:"store,omitempty"`
	Truncation         string            `json:"truncation,omitempty"`
	Stream             bool              `json:"stream,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// StoreEnabled reports whether the response should be persisted.
// Store defaults to true per the upstream protocol.
func (r *Request) StoreEnabled() bool {
	return r.Store == nil || *r.Store
}

// Input is either a plain string or a list of input items.
type Input struct {
	Text  string
	Items []Item

	// isText distinguishes an empty string input from an absent one.
	isText bool
}

// TextInput returns an Input holding a plain string.
func TextInput(s string) Input {
	return Input{Text: s, isText: true}
}

// ItemsInput returns an Input holding a list of items.
func ItemsInput(items []Item) Input {
	return Input{Items: items}
}

// IsText reports whether the input was a plain string.
func (in Input) IsText() bool { return in.isText }

func (in Input) MarshalJSON() ([]byte, error) {
	if in.isText {
		return json.Marshal(in.Text)
	}
	return json.Marshal(in.Items)
}

func (in *Input) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		in.isText = true
		return json.Unmarshal(data, &in.Text)
	}
	in.isText = false
	return json.Unmarshal(data, &in.Items)
}

// Item is one entry in a request input or response output list.
// The populated fields depend on Type.
type Item struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`

	// message
	Role    string      `json:"role,omitempty"`
	Content ContentList `json:"content,omitempty"`

	// function_call / mcp_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output / mcp_call
	Output string `json:"output,omitempty"`

	// reasoning
	Summary []ContentPart `json:"summary,omitempty"`

	// file_search_call / web_search_call
	Queries []string        `json:"queries,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`

	// image_generation_call
	Result string `json:"result,omitempty"`

	// mcp_list_tools / mcp_call
	ServerLabel string          `json:"server_label,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// itemAlias avoids recursion in UnmarshalJSON.
type itemAlias Item

func (it *Item) UnmarshalJSON(data []byte) error {
	var alias itemAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*it = Item(alias)
	// Bare `{"role": ..., "content": ...}` entries are messages.
	if it.Type == "" && it.Role != "" {
		it.Type = ItemTypeMessage
	}
	if it.Type == "" {
		return fmt.Errorf("input item missing type")
	}
	return nil
}

// ContentList holds a message's content parts. On the wire the whole content
// value may be a bare string instead of a part array; that decodes to a
// single input_text part.
type ContentList []ContentPart

func (c *ContentList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ContentList{{Type: ContentTypeInputText, Text: s}}
		return nil
	}
	return json.Unmarshal(data, (*[]ContentPart)(c))
}

// ContentPart is one part of a message's content. A part may also arrive as
// a bare string element; the decoder normalizes that to input_text.
type ContentPart struct {
	Type string `json:"type"`

	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// refusal
	Refusal string `json:"refusal,omitempty"`

	// output_text
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

type contentPartAlias ContentPart

func (p *ContentPart) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ContentPart{Type: ContentTypeInputText, Text: s}
		return nil
	}
	var alias contentPartAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*p = ContentPart(alias)
	return nil
}

// TextPart builds an output_text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeOutputText, Text: text, Annotations: []json.RawMessage{}}
}

// ToolSpec is one entry of the request's tools list: a full function
// definition, an MCP server declaration, or a `{type: <name>}` alias for a
// server-managed tool.
type ToolSpec struct {
	Type string `json:"type"`

	// function
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`

	// mcp
	ServerLabel  string            `json:"server_label,omitempty"`
	ServerURL    string            `json:"server_url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	AllowedTools []string          `json:"allowed_tools,omitempty"`

	// file_search alias configuration
	VectorStoreIDs []string        `json:"vector_store_ids,omitempty"`
	MaxNumResults  int             `json:"max_num_results,omitempty"`
	Filters        json.RawMessage `json:"filters,omitempty"`
}

// IsAlias reports whether the spec is a `{type: <name>}` reference to a
// server-managed tool rather than a full function or MCP declaration.
func (t ToolSpec) IsAlias() bool {
	return t.Type != ToolTypeFunction && t.Type != ToolTypeMCP
}

// TextConfig selects the output text format.
type TextConfig struct {
	Format *TextFormat `json:"format,omitempty"`
}

// TextFormat is `text`, `json_object` or `json_schema`.
type TextFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// ReasoningConfig carries reasoning-effort hints for reasoning models.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Usage reports token consumption for a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// IncompleteDetails explains why a response stopped early.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// Response is the Responses API response object.
type Response struct {
	ID                 string             `json:"id"`
	Object             string             `json:"object"`
	CreatedAt          int64              `json:"created_at"`
	Status             string             `json:"status"`
	Error              *Error             `json:"error"`
	IncompleteDetails  *IncompleteDetails `json:"incomplete_details"`
	Instructions       string             `json:"instructions,omitempty"`
	MaxOutputTokens    *int               `json:"max_output_tokens,omitempty"`
	Model              string             `json:"model"`
	Output             []Item             `json:"output"`
	ParallelToolCalls  bool               `json:"parallel_tool_calls"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	Reasoning          *ReasoningConfig   `json:"reasoning,omitempty"`
	Store              bool               `json:"store"`
	Temperature        *float32           `json:"temperature,omitempty"`
	Text               *TextConfig        `json:"text,omitempty"`
	ToolChoice         any                `json:"tool_choice,omitempty"`
	Tools              []ToolSpec         `json:"tools"`
	TopP               *float32           `json:"top_p,omitempty"`
	Truncation         string             `json:"truncation,omitempty"`
	Usage              *Usage             `json:"usage,omitempty"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
}

// OutputText concatenates the text of all message output items.
func (r *Response) OutputText() string {
	var out string
	for _, item := range r.Output {
		if item.Type != ItemTypeMessage {
			continue
		}
		for _, part := range item.Content {
			if part.Type == ContentTypeOutputText {
				out += part.Text
			}
		}
	}
	return out
}

// ItemList is the paginated wrapper for GET /v1/responses/{id}/input_items.
type ItemList struct {
	Object  string `json:"object"`
	Data    []Item `json:"data"`
	FirstID string `json:"first_id,omitempty"`
	LastID  string `json:"last_id,omitempty"`
	HasMore bool   `json:"has_more"`
}
