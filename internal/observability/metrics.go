package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's Prometheus metrics.
//
// Tracked signals:
//   - tool invocations by tool name, protocol, and outcome
//   - tool-loop iterations per request
//   - budget breaches (iteration cap, deadline) and per-tool timeouts
//   - provider call latency and outcomes
//   - HTTP request latency by method, path, and status
type Metrics struct {
	// ToolInvocations counts tool executions.
	// Labels: tool, protocol (native|mcp), status (success|error|timeout)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// LoopIterations observes the number of provider calls per request.
	// Labels: api (responses|chat_completions)
	LoopIterations *prometheus.HistogramVec

	// BudgetBreaches counts early terminations.
	// Labels: reason (max_tool_calls|timeout)
	BudgetBreaches *prometheus.CounterVec

	// ProviderRequestDuration measures upstream call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequests counts upstream calls.
	// Labels: provider, model, status (success|error)
	ProviderRequests *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all gateway metrics with reg. Passing nil
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ToolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_invocations_total",
				Help: "Tool executions by tool, protocol, and outcome",
			},
			[]string{"tool", "protocol", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_tool_duration_seconds",
				Help:    "Tool execution duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		LoopIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_loop_iterations",
				Help:    "Provider calls per request",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
			[]string{"api"},
		),
		BudgetBreaches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_budget_breaches_total",
				Help: "Requests terminated by a budget guard",
			},
			[]string{"reason"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_provider_request_duration_seconds",
				Help:    "Upstream provider call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_provider_requests_total",
				Help: "Upstream provider calls by outcome",
			},
			[]string{"provider", "model", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_http_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
