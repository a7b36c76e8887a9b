package api

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestInputUnmarshalString(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"model":"openai@gpt-4o","input":"Hi"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.Input.IsText() {
		t.Fatal("expected text input")
	}
	if req.Input.Text != "Hi" {
		t.Errorf("input text = %q, want %q", req.Input.Text, "Hi")
	}
}

func TestInputUnmarshalItems(t *testing.T) {
	raw := `{"model":"gpt-4o","input":[
		{"role":"user","content":"hello"},
		{"type":"message","role":"user","content":[{"type":"input_text","text":"part"}]},
		{"type":"function_call","call_id":"c1","name":"get_weather","arguments":"{}"},
		{"type":"function_call_output","call_id":"c1","output":"{\"temp\":20}"}
	]}`
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	items := req.Input.Items
	if len(items) != 4 {
		t.Fatalf("got %d items, want 4", len(items))
	}
	if items[0].Type != ItemTypeMessage {
		t.Errorf("bare role/content item type = %q, want message", items[0].Type)
	}
	if len(items[0].Content) != 1 || items[0].Content[0].Type != ContentTypeInputText || items[0].Content[0].Text != "hello" {
		t.Errorf("string content not normalized to input_text part: %+v", items[0].Content)
	}
	if items[2].CallID != "c1" || items[2].Name != "get_weather" {
		t.Errorf("function_call fields = %+v", items[2])
	}
	if items[3].Output != `{"temp":20}` {
		t.Errorf("function_call_output output = %q", items[3].Output)
	}
}

func TestInputItemMissingType(t *testing.T) {
	var item Item
	if err := json.Unmarshal([]byte(`{"content":[{"type":"input_text","text":"x"}]}`), &item); err == nil {
		t.Fatal("expected error for item with no type and no role")
	}
}

func TestInputRoundTrip(t *testing.T) {
	in := TextInput("Hi")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"Hi"` {
		t.Errorf("marshal = %s, want %q", data, `"Hi"`)
	}
}

func TestToolSpecAlias(t *testing.T) {
	cases := []struct {
		spec  ToolSpec
		alias bool
	}{
		{ToolSpec{Type: ToolTypeFunction, Name: "f"}, false},
		{ToolSpec{Type: ToolTypeMCP, ServerLabel: "gh"}, false},
		{ToolSpec{Type: "think"}, true},
		{ToolSpec{Type: "file_search"}, true},
	}
	for _, tc := range cases {
		if got := tc.spec.IsAlias(); got != tc.alias {
			t.Errorf("IsAlias(%q) = %v, want %v", tc.spec.Type, got, tc.alias)
		}
	}
}

func TestResponseOutputText(t *testing.T) {
	resp := &Response{Output: []Item{
		{Type: ItemTypeMessage, Role: "assistant", Content: []ContentPart{TextPart("Hello"), TextPart(" world")}},
		{Type: ItemTypeFunctionCall, Name: "x", Arguments: "{}"},
	}}
	if got := resp.OutputText(); got != "Hello world" {
		t.Errorf("OutputText = %q", got)
	}
}

func TestErrorHTTPStatus(t *testing.T) {
	cases := []struct {
		typ    ErrorType
		status int
	}{
		{ErrorTypeInvalidRequest, http.StatusBadRequest},
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeTimeout, http.StatusRequestTimeout},
		{ErrorTypeProcessing, http.StatusInternalServerError},
		{ErrorTypeStreaming, http.StatusInternalServerError},
		{ErrorTypeMCPUnavailable, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := NewError(tc.typ, "x").HTTPStatus(); got != tc.status {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.typ, got, tc.status)
		}
	}

	// Provider-reported status wins for api_error.
	e := NewError(ErrorTypeAPI, "upstream")
	e.Status = 503
	if got := e.HTTPStatus(); got != 503 {
		t.Errorf("HTTPStatus with override = %d, want 503", got)
	}
}

func TestParseUpstreamError(t *testing.T) {
	body := []byte(`{"error":{"message":"model not found","type":"invalid_request_error","param":"model","code":"model_not_found"}}`)
	e := ParseUpstreamError(404, body)
	if e.Message != "model not found" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Param != "model" {
		t.Errorf("param = %q", e.Param)
	}
	if e.Code != "model_not_found" {
		t.Errorf("code = %q", e.Code)
	}
	if e.HTTPStatus() != 404 {
		t.Errorf("status = %d", e.HTTPStatus())
	}
}

func TestParseUpstreamErrorNonJSON(t *testing.T) {
	e := ParseUpstreamError(502, []byte("bad gateway"))
	if e.Message != "bad gateway" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Type != ErrorTypeAPI {
		t.Errorf("type = %q", e.Type)
	}
}

func TestTerminalEvent(t *testing.T) {
	for _, typ := range []string{EventResponseCompleted, EventResponseFailed, EventResponseIncomplete} {
		if !TerminalEvent(typ) {
			t.Errorf("TerminalEvent(%s) = false", typ)
		}
	}
	if TerminalEvent(EventOutputTextDelta) {
		t.Error("delta treated as terminal")
	}
}
