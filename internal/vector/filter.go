// Package vector provides the search interfaces consumed by the file_search
// and agentic_search tools, the attribute filter tree, and an in-memory
// index used when no external vector backend is configured.
package vector

import (
	"encoding/json"
	"fmt"
)

// Comparison operators accepted in filter nodes.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

// Filter is a node in the attribute filter tree. Filters are built once per
// request and evaluated against each candidate's attributes.
type Filter interface {
	Match(attrs map[string]any) bool
}

// Compare tests a single attribute against a value.
type Compare struct {
	Op    string
	Key   string
	Value any
}

// Match evaluates the comparison. Missing attributes never match except
// under ne.
func (c *Compare) Match(attrs map[string]any) bool {
	got, ok := attrs[c.Key]
	if !ok {
		return c.Op == OpNe
	}

	switch c.Op {
	case OpEq:
		return equal(got, c.Value)
	case OpNe:
		return !equal(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

// Compound combines child filters with "and" or "or".
type Compound struct {
	Op      string
	Filters []Filter
}

func (c *Compound) Match(attrs map[string]any) bool {
	if c.Op == "or" {
		for _, f := range c.Filters {
			if f.Match(attrs) {
				return true
			}
		}
		return len(c.Filters) == 0
	}
	for _, f := range c.Filters {
		if !f.Match(attrs) {
			return false
		}
	}
	return true
}

// And composes filters into a single conjunction, skipping nils. Returns nil
// when nothing remains so callers can skip filtering entirely.
func And(filters ...Filter) Filter {
	var kept []Filter
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Compound{Op: "and", Filters: kept}
	}
}

// filterJSON is the wire shape of a filter node.
type filterJSON struct {
	Type    string            `json:"type"`
	Key     string            `json:"key,omitempty"`
	Value   any               `json:"value,omitempty"`
	Filters []json.RawMessage `json:"filters,omitempty"`
}

// ParseFilter decodes a JSON filter tree. Empty input yields a nil filter.
func ParseFilter(raw json.RawMessage) (Filter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var node filterJSON
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}

	switch node.Type {
	case "and", "or":
		children := make([]Filter, 0, len(node.Filters))
		for _, childRaw := range node.Filters {
			child, err := ParseFilter(childRaw)
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return &Compound{Op: node.Type, Filters: children}, nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if node.Key == "" {
			return nil, fmt.Errorf("filter %s node missing key", node.Type)
		}
		return &Compare{Op: node.Type, Key: node.Key, Value: node.Value}, nil
	default:
		return nil, fmt.Errorf("unknown filter type %q", node.Type)
	}
}

func equal(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
