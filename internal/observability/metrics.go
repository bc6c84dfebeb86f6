package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting orchestrator
// metrics. It is built on Prometheus and tracks:
//   - Orchestrator rounds consumed per run
//   - Provider call performance and response times
//   - Tool execution patterns and latencies
//   - Retry attempts issued by executor back-ends
//   - Error rates categorized by type and component
//   - Active orchestrator runs, for capacity planning
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordProviderRequest("anthropic", "claude-sonnet-4-20250514", "success", time.Since(start).Seconds(), 0, 0)
type Metrics struct {
	// RoundCounter counts orchestrator rounds consumed per run.
	// Labels: outcome (tool_calls|final|round_cap)
	RoundCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider (anthropic|openai), model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls by provider and model.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RetryCounter counts retry attempts issued by executor back-ends.
	// Labels: component (local|remote), reason
	RetryCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by phase and component.
	// Labels: component (orchestrator|tool|provider), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveRuns is a gauge tracking orchestrator runs currently in flight.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers a new Metrics instance with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RoundCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_orchestrator_rounds_total",
				Help: "Total number of orchestrator rounds consumed, by outcome",
			},
			[]string{"outcome"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Total provider requests, by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_tokens_total",
				Help: "Total tokens consumed, by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total tool invocations, by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		RetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_retries_total",
				Help: "Total retry attempts issued by executor back-ends",
			},
			[]string{"component", "reason"},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total errors, by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Current number of orchestrator runs in flight",
			},
		),
	}
}

// RecordRound increments the round counter for the given outcome.
func (m *Metrics) RecordRound(outcome string) {
	if m == nil {
		return
	}
	m.RoundCounter.WithLabelValues(outcome).Inc()
}

// RecordProviderRequest observes a provider call's duration, status and
// token usage in one call.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution observes a tool execution's duration and status.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordRetry increments the retry counter for the given component and reason.
func (m *Metrics) RecordRetry(component, reason string) {
	if m == nil {
		return
	}
	m.RetryCounter.WithLabelValues(component, reason).Inc()
}

// RecordError increments the error counter for the given component and type.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active-runs gauge.
func (m *Metrics) RunEnded() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
