package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks turn throughput, model call health, and tool executions.
// All metrics register on the injected registerer, never a global.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: status (success|error)
	TurnCounter *prometheus.CounterVec

	// ModelCallCounter counts model calls by provider.
	// Labels: provider, failover (true|false)
	ModelCallCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// PersonaFallbackCounter counts turns served with the built-in
	// fallback persona after a failed resolution.
	PersonaFallbackCounter prometheus.Counter
}

// NewMetrics creates and registers the orchestrator metrics.
// Call once at startup; duplicate registration panics by prometheus design.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogcore_turns_total",
				Help: "Total number of turns by status",
			},
			[]string{"status"},
		),

		ModelCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogcore_model_calls_total",
				Help: "Total number of model calls by provider and failover",
			},
			[]string{"provider", "failover"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		PersonaFallbackCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dialogcore_persona_fallbacks_total",
				Help: "Total number of turns served with the fallback persona",
			},
		),
	}
}

func (m *Metrics) recordTurn(status string) {
	m.TurnCounter.WithLabelValues(status).Inc()
}

func (m *Metrics) recordModelCall(provider string, failover bool) {
	label := "false"
	if failover {
		label = "true"
	}
	m.ModelCallCounter.WithLabelValues(provider, label).Inc()
}

func (m *Metrics) recordToolExecution(tool string, isError bool) {
	status := "success"
	if isError {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
}
