package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conduit/internal/api"
)

const protocolVersion = "2024-11-05"

// Client talks to a single MCP server. Safe for concurrent use after
// Connect; the pool guarantees Connect runs once per server identity.
type Client struct {
	label     string
	url       string
	transport *httpTransport
	logger    *slog.Logger

	serverInfo ServerInfo
}

// NewClient creates an unconnected client.
func NewClient(label, url string, headers map[string]string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		label:     label,
		url:       url,
		transport: newHTTPTransport(url, headers),
		logger:    logger.With("mcp_server", label),
	}
}

// Label returns the server label used for wire-level tool qualification.
func (c *Client) Label() string { return c.label }

// Connect performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "conduit",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return api.NewErrorf(api.ErrorTypeMCPUnavailable, "connect to MCP server %q: %v", c.label, err)
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return api.NewErrorf(api.ErrorTypeMCPUnavailable, "parse initialize result from %q: %v", c.label, err)
	}
	c.serverInfo = init.ServerInfo
	c.logger.Info("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", init.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	return nil
}

// ListTools enumerates the server's tools, retrying once on transient
// failure since the call is idempotent.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		result, err = c.transport.Call(ctx, "tools/list", nil)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeMCPUnavailable, "list tools on %q: %v", c.label, err)
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeMCPUnavailable, "parse tools/list from %q: %v", c.label, err)
	}
	return resp.Tools, nil
}

// CallTool invokes a tool by its raw (unqualified) name and returns the
// concatenated text content. Server-reported tool errors come back as plain
// errors with the server's text untouched.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	result, err := c.transport.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return "", err
	}

	var call ToolCallResult
	if err := json.Unmarshal(result, &call); err != nil {
		return "", fmt.Errorf("parse tools/call result: %w", err)
	}

	var text strings.Builder
	for _, item := range call.Content {
		if item.Type == "text" {
			text.WriteString(item.Text)
		}
	}
	if call.IsError {
		return "", fmt.Errorf("%s", text.String())
	}
	return text.String(), nil
}
