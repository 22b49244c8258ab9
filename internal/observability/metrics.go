package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the application's Prometheus metrics.
type Metrics struct {
	// InvocationCounter counts agent invocations.
	// Labels: agent_id, status (success|error)
	InvocationCounter *prometheus.CounterVec

	// InvocationDuration measures full stream duration in seconds.
	// Labels: agent_id
	InvocationDuration *prometheus.HistogramVec

	// FrameCounter counts streamed frames by event type.
	FrameCounter *prometheus.CounterVec

	// CacheCounter counts descriptor cache outcomes.
	// Labels: outcome (hit|stale|miss|refresh|refresh_error)
	CacheCounter *prometheus.CounterVec

	// StoreErrorCounter counts storage failures by operation.
	StoreErrorCounter *prometheus.CounterVec

	// ToolExecutionCounter counts finance tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers metrics on a fresh registry, returning
// both so the HTTP layer can expose the registry at /metrics.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		InvocationCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finchat_invocations_total",
			Help: "Agent invocations by agent and status.",
		}, []string{"agent_id", "status"}),

		InvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finchat_invocation_duration_seconds",
			Help:    "Duration of agent invocation streams.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"agent_id"}),

		FrameCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finchat_stream_frames_total",
			Help: "Streamed frames by event type.",
		}, []string{"event_type"}),

		CacheCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finchat_agent_cache_total",
			Help: "Agent descriptor cache outcomes.",
		}, []string{"outcome"}),

		StoreErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finchat_store_errors_total",
			Help: "Session store failures by operation.",
		}, []string{"operation"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "finchat_tool_executions_total",
			Help: "Finance tool executions by tool and status.",
		}, []string{"tool_name", "status"}),
	}
	return m, reg
}
