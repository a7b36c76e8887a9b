// Package registry catalogs the tools a request can invoke: native handlers
// registered at startup and MCP tools discovered per server. It resolves
// aliases, validates arguments against each tool's schema, and dispatches by
// protocol.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/mcp"
)

// Protocol selects the dispatch path for a tool.
type Protocol string

const (
	ProtocolNative Protocol = "native"
	ProtocolMCP    Protocol = "mcp"
)

// ServerInfo records the MCP server a remote tool belongs to.
type ServerInfo struct {
	ID      string
	Label   string
	URL     string
	Headers map[string]string
}

// Definition is the registry's view of one tool.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Protocol    Protocol

	// Server is set for MCP tools; RawName is the unqualified name used on
	// the wire to the server.
	Server  *ServerInfo
	RawName string
}

// Invocation carries per-request context into a tool execution.
type Invocation struct {
	// Spec is the request's tool entry for this tool, holding alias-level
	// configuration such as vector store ids for file_search.
	Spec api.ToolSpec

	// Token is the caller's bearer token, forwarded when a tool makes its
	// own model calls.
	Token string

	// Model is the request's qualified model name.
	Model string

	Metadata map[string]string
}

// Handler is a native tool implementation.
type Handler interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, inv *Invocation) (string, error)
}

// Registry is safe for concurrent use. Native registration happens at
// startup; MCP caches mutate under the write lock as servers come and go.
type Registry struct {
	pool *mcp.Pool

	mu      sync.RWMutex
	native  map[string]Handler
	remote  map[string]Definition          // qualified name -> definition
	servers map[string]map[string]struct{} // server id -> qualified names
	schemas map[string]*jsonschema.Schema
}

// New creates a registry. pool may be nil when MCP is disabled; declaring an
// mcp tool then fails with mcp_unavailable.
func New(pool *mcp.Pool) *Registry {
	r := &Registry{
		pool:    pool,
		native:  make(map[string]Handler),
		remote:  make(map[string]Definition),
		servers: make(map[string]map[string]struct{}),
		schemas: make(map[string]*jsonschema.Schema),
	}
	if pool != nil {
		pool.OnEvict(r.evictServer)
	}
	return r
}

// Register adds a native tool. Startup only; later registrations replace.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.native[h.Name()] = h
}

// ListAvailable returns definitions for every tool visible to the process.
func (r *Registry) ListAvailable() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.native)+len(r.remote))
	for _, h := range r.native {
		defs = append(defs, Definition{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.Schema(),
			Protocol:    ProtocolNative,
		})
	}
	for _, def := range r.remote {
		defs = append(defs, def)
	}
	return defs
}

// Resolve maps a wire name through the request's alias map to a canonical
// registered name, or "" when unknown.
func (r *Registry) Resolve(name string, aliasMap map[string]string) string {
	if canonical, ok := aliasMap[name]; ok {
		name = canonical
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.native[name]; ok {
		return name
	}
	if _, ok := r.remote[name]; ok {
		return name
	}
	return ""
}

// FunctionTool returns the function-shape definition for a registered tool,
// used when a request references it by alias.
func (r *Registry) FunctionTool(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.native[name]; ok {
		return &Definition{
			Name:        h.Name(),
			Description: h.Description(),
			Parameters:  h.Schema(),
			Protocol:    ProtocolNative,
		}, true
	}
	if def, ok := r.remote[name]; ok {
		return &def, true
	}
	return nil, false
}

// EnsureMCPServer connects to the server declared by spec (first use only),
// caches its tool listing, and returns qualified definitions filtered by
// allowed_tools.
func (r *Registry) EnsureMCPServer(ctx context.Context, spec api.ToolSpec) ([]Definition, error) {
	if r.pool == nil {
		return nil, api.NewError(api.ErrorTypeMCPUnavailable, "mcp support is disabled")
	}

	serverID := mcp.ServerID(spec.ServerLabel, spec.ServerURL)

	r.mu.RLock()
	cached := r.cachedServerDefs(serverID, spec.AllowedTools)
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	client, err := r.pool.Get(ctx, spec.ServerLabel, spec.ServerURL, spec.Headers)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	info := &ServerInfo{ID: serverID, Label: spec.ServerLabel, URL: spec.ServerURL, Headers: spec.Headers}

	r.mu.Lock()
	names := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		qualified := spec.ServerLabel + "_" + tool.Name
		r.remote[qualified] = Definition{
			Name:        qualified,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
			Protocol:    ProtocolMCP,
			Server:      info,
			RawName:     tool.Name,
		}
		names[qualified] = struct{}{}
	}
	r.servers[serverID] = names
	defs := r.cachedServerDefs(serverID, spec.AllowedTools)
	r.mu.Unlock()

	return defs, nil
}

// cachedServerDefs returns the cached definitions for a server, or nil when
// the server has no cache entry. Callers hold at least the read lock.
func (r *Registry) cachedServerDefs(serverID string, allowed []string) []Definition {
	names, ok := r.servers[serverID]
	if !ok {
		return nil
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	defs := make([]Definition, 0, len(names))
	for qualified := range names {
		def := r.remote[qualified]
		if len(allowedSet) > 0 {
			if _, ok := allowedSet[def.RawName]; !ok {
				continue
			}
		}
		defs = append(defs, def)
	}
	return defs
}

// evictServer drops a disconnected server's tools and schemas.
func (r *Registry) evictServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for qualified := range r.servers[serverID] {
		delete(r.remote, qualified)
		delete(r.schemas, qualified)
	}
	delete(r.servers, serverID)
}

// Dispatch validates arguments and routes the call by protocol. name must
// already be canonical (resolved through the alias map).
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage, inv *Invocation) (string, error) {
	r.mu.RLock()
	handler, isNative := r.native[name]
	def, isRemote := r.remote[name]
	r.mu.RUnlock()

	switch {
	case isNative:
		if err := r.validateArgs(name, handler.Schema(), args); err != nil {
			return "", err
		}
		return handler.Execute(ctx, args, inv)

	case isRemote:
		if err := r.validateArgs(name, def.Parameters, args); err != nil {
			return "", err
		}
		var arguments map[string]any
		if len(args) > 0 {
			if err := json.Unmarshal(args, &arguments); err != nil {
				return "", api.NewErrorf(api.ErrorTypeInvalidArguments, "tool %q: %v", name, err)
			}
		}
		client, err := r.pool.Get(ctx, def.Server.Label, def.Server.URL, def.Server.Headers)
		if err != nil {
			return "", err
		}
		return client.CallTool(ctx, def.RawName, arguments)

	default:
		return "", api.NewErrorf(api.ErrorTypeToolNotFound, "tool %q is not registered", name)
	}
}

// validateArgs checks args against the tool's parameters schema. Schemas are
// compiled once per tool name and cached.
func (r *Registry) validateArgs(name string, schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := r.compiledSchema(name, schema)
	if err != nil {
		// A broken schema is the tool author's bug, not the caller's.
		return api.NewErrorf(api.ErrorTypeProcessing, "tool %q schema: %v", name, err)
	}

	payload := args
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return api.NewErrorf(api.ErrorTypeInvalidArguments, "tool %q: arguments are not valid JSON: %v", name, err)
	}
	if err := compiled.Validate(value); err != nil {
		return api.NewErrorf(api.ErrorTypeInvalidArguments, "tool %q: %v", name, err)
	}
	return nil
}

func (r *Registry) compiledSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	r.mu.RLock()
	compiled, ok := r.schemas[name]
	r.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	resource := fmt.Sprintf("tool://%s/schema.json", strings.ReplaceAll(name, " ", "_"))
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[name] = compiled
	r.mu.Unlock()
	return compiled, nil
}
