package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for tool execution and decision runs.
type Metrics struct {
	// Tool attempts by tool and outcome (success, failure, fault)
	ToolAttempts *prometheus.CounterVec

	// Tool calls that exhausted their attempt budget
	ToolExhausted *prometheus.CounterVec

	// Latency of a single tool attempt
	ToolLatency *prometheus.HistogramVec

	// Decisions produced by the orchestrator
	Decisions *prometheus.CounterVec
}

// New registers the agent metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ToolAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_tool_attempts_total",
			Help: "Tool invocation attempts by tool and outcome",
		}, []string{"tool", "outcome"}),

		ToolExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_tool_exhausted_total",
			Help: "Tool calls that failed on every attempt",
		}, []string{"tool"}),

		ToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payguard_tool_attempt_duration_seconds",
			Help:    "Duration of a single tool attempt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"tool"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_orchestrator_decisions_total",
			Help: "Decisions produced by the orchestrator",
		}, []string{"decision"}),
	}
}

func (m *Metrics) ObserveAttempt(tool, outcome string, d time.Duration) {
	if m != nil {
		m.ToolAttempts.WithLabelValues(tool, outcome).Inc()
		m.ToolLatency.WithLabelValues(tool).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementExhausted(tool string) {
	if m != nil {
		m.ToolExhausted.WithLabelValues(tool).Inc()
	}
}

func (m *Metrics) IncrementDecision(decision string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
	}
}
