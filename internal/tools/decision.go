package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decision is the parsed outcome of one agentic-search LLM step.
//
// The model replies in a line-oriented grammar: either `TERMINATE` or
// `NEXT_QUERY: <query>` optionally followed by a JSON object filter and an
// optional `##MEMORY##` block carrying accumulated knowledge.
type Decision struct {
	Terminate bool
	Query     string
	Filter    json.RawMessage
	Memory    string
}

const memoryMarker = "##MEMORY##"

// ParseDecision parses an LLM decision reply. Keywords are matched
// case-insensitively; anything unparseable is an error so the loop can stop
// rather than search for garbage.
func ParseDecision(text string) (*Decision, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty decision")
	}

	if strings.EqualFold(firstLine(trimmed), "TERMINATE") {
		return &Decision{Terminate: true}, nil
	}

	upper := strings.ToUpper(trimmed)
	idx := strings.Index(upper, "NEXT_QUERY:")
	if idx < 0 {
		return nil, fmt.Errorf("decision is neither TERMINATE nor NEXT_QUERY: %q", firstLine(trimmed))
	}
	rest := trimmed[idx+len("NEXT_QUERY:"):]

	var memory string
	if memIdx := strings.Index(rest, memoryMarker); memIdx >= 0 {
		memory = strings.TrimSpace(rest[memIdx+len(memoryMarker):])
		rest = rest[:memIdx]
	}

	query := strings.TrimSpace(rest)
	var filter json.RawMessage
	if braceIdx := strings.Index(rest, "{"); braceIdx >= 0 {
		if raw, ok := decodeLeadingObject(rest[braceIdx:]); ok {
			filter = raw
			query = strings.TrimSpace(rest[:braceIdx])
		}
	}
	if query == "" {
		return nil, fmt.Errorf("NEXT_QUERY missing query text")
	}

	return &Decision{Query: query, Filter: filter, Memory: memory}, nil
}

// decodeLeadingObject decodes exactly one JSON object from the front of s.
func decodeLeadingObject(s string) (json.RawMessage, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, false
	}
	return raw, true
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
