package convert

import (
	"encoding/json"
	"fmt"
)

// NormalizeSchema sets additionalProperties=false on every object node of a
// JSON Schema. Providers reject loose function schemas in strict mode, so
// the gateway tightens them uniformly before forwarding.
func NormalizeSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	tightenObjects(node)
	out, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func tightenObjects(node any) {
	switch n := node.(type) {
	case map[string]any:
		if isObjectSchema(n) {
			if _, ok := n["additionalProperties"]; !ok {
				n["additionalProperties"] = false
			}
		}
		if props, ok := n["properties"].(map[string]any); ok {
			for _, child := range props {
				tightenObjects(child)
			}
		}
		for _, key := range []string{"items", "additionalItems", "not"} {
			if child, ok := n[key]; ok {
				tightenObjects(child)
			}
		}
		for _, key := range []string{"anyOf", "oneOf", "allOf", "prefixItems"} {
			if list, ok := n[key].([]any); ok {
				for _, child := range list {
					tightenObjects(child)
				}
			}
		}
		for _, key := range []string{"$defs", "definitions", "patternProperties"} {
			if defs, ok := n[key].(map[string]any); ok {
				for _, child := range defs {
					tightenObjects(child)
				}
			}
		}
	case []any:
		for _, child := range n {
			tightenObjects(child)
		}
	}
}

func isObjectSchema(n map[string]any) bool {
	if t, ok := n["type"].(string); ok && t == "object" {
		return true
	}
	_, hasProps := n["properties"]
	return hasProps
}
