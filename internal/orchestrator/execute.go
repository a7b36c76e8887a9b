package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/convert"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/stream"
)

// toolResult pairs a tool call with its output, in the call's first-seen
// position.
type toolResult struct {
	callID    string
	name      string
	arguments string
	output    string
}

// executeCalls runs a turn's tool calls concurrently with a per-tool timeout
// and returns the results in the original call order. Tool failures never
// abort the loop; they become structured error outputs the model can react
// to.
func (l *Loop) executeCalls(ctx context.Context, calls []*stream.ToolCall, conv *convert.Result, token, model string, metadata map[string]string) []toolResult {
	results := make([]toolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		results[i] = toolResult{callID: call.ID, name: call.Name, arguments: call.Arguments}

		if !call.ArgumentsValid() {
			results[i].output = errorOutput("invalid_arguments", "arguments are not valid JSON")
			l.countTool(call.Name, "native", "error")
			continue
		}

		wg.Add(1)
		go func(i int, call *stream.ToolCall) {
			defer wg.Done()
			results[i].output = l.executeOne(ctx, call, conv, token, model, metadata)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (l *Loop) executeOne(ctx context.Context, call *stream.ToolCall, conv *convert.Result, token, model string, metadata map[string]string) string {
	canonical := l.registry.Resolve(call.Name, conv.AliasMap)
	if canonical == "" {
		l.countTool(call.Name, "native", "error")
		return errorOutput("tool_not_found", "tool \""+call.Name+"\" is not registered")
	}

	inv := &registry.Invocation{
		Spec:     conv.ToolSpecs[canonical],
		Token:    token,
		Model:    model,
		Metadata: metadata,
	}
	protocol := "native"
	if def, ok := l.registry.FunctionTool(canonical); ok && def.Protocol == registry.ProtocolMCP {
		protocol = "mcp"
	}

	toolCtx, cancel := context.WithTimeout(ctx, l.cfg.PerToolTimeout())
	defer cancel()

	ctxSpan, span := l.tracer.Start(toolCtx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool", canonical),
		attribute.String("protocol", protocol),
	))
	defer span.End()

	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	start := time.Now()
	output, err := l.registry.Dispatch(ctxSpan, canonical, args, inv)
	if l.metrics != nil {
		l.metrics.ToolDuration.WithLabelValues(canonical).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			l.countTool(canonical, protocol, "timeout")
			l.logger.Warn("tool timed out", "tool", canonical, "call_id", call.ID)
			return `{"error":"tool_timeout"}`
		}
		apiErr := api.AsError(err)
		l.countTool(canonical, protocol, "error")
		l.logger.Warn("tool failed", "tool", canonical, "call_id", call.ID, "error", err)
		return errorOutput(string(apiErr.Type), apiErr.Message)
	}

	l.countTool(canonical, protocol, "success")
	return output
}

func (l *Loop) countTool(tool, protocol, status string) {
	if l.metrics != nil {
		l.metrics.ToolInvocations.WithLabelValues(tool, protocol, status).Inc()
	}
}

// errorOutput builds the structured error body surfaced to the model as the
// tool's function_call_output.
func errorOutput(kind, detail string) string {
	out, err := json.Marshal(map[string]string{"error": kind, "detail": detail})
	if err != nil {
		return `{"error":"` + kind + `"}`
	}
	return string(out)
}
