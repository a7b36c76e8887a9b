// Package format post-processes response payloads before they reach the
// client: server-managed tools are presented in their alias form and
// timestamp fields are normalized to fixed-point decimals.
package format

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/registry"
)

// Formatter rewrites response payloads using the registry's view of which
// tools are server-managed.
type Formatter struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Formatter {
	return &Formatter{registry: reg}
}

// Response rewrites the tools list in place.
func (f *Formatter) Response(resp *api.Response) {
	if resp == nil {
		return
	}
	resp.Tools = f.Tools(resp.Tools)
}

// Tools maps function entries that name a registered tool back to their
// alias form. Client-defined functions and existing alias entries pass
// through untouched.
func (f *Formatter) Tools(specs []api.ToolSpec) []api.ToolSpec {
	if f.registry == nil {
		return specs
	}
	out := make([]api.ToolSpec, len(specs))
	for i, spec := range specs {
		out[i] = spec
		if spec.Type != api.ToolTypeFunction {
			continue
		}
		def, ok := f.registry.FunctionTool(spec.Name)
		if !ok {
			continue
		}
		switch def.Protocol {
		case registry.ProtocolNative:
			out[i] = api.ToolSpec{
				Type:           def.Name,
				VectorStoreIDs: spec.VectorStoreIDs,
				MaxNumResults:  spec.MaxNumResults,
				Filters:        spec.Filters,
			}
		case registry.ProtocolMCP:
			out[i] = api.ToolSpec{
				Type:        api.ToolTypeMCP,
				Name:        def.RawName,
				ServerLabel: def.Server.Label,
				ServerURL:   def.Server.URL,
			}
		}
	}
	return out
}

// NormalizeCreatedAt rewrites a stored payload's top-level created_at (or
// created) field to fixed-point decimal when an earlier writer serialized it
// as a float. Nested timestamps are left alone; only the top-level field is
// part of the contract.
func NormalizeCreatedAt(raw []byte) []byte {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return raw
	}

	changed := false
	for _, key := range []string{"created_at", "created"} {
		number, ok := payload[key].(json.Number)
		if !ok {
			continue
		}
		text := number.String()
		if !strings.ContainsAny(text, "eE.") {
			continue
		}
		value, err := number.Float64()
		if err != nil {
			continue
		}
		payload[key] = json.RawMessage(strconv.FormatFloat(value, 'f', -1, 64))
		changed = true
	}
	if !changed {
		return raw
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return raw
	}
	return out
}
