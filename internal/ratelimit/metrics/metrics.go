package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Checks         *prometheus.CounterVec
	StoreErrors    prometheus.Counter
	DegradedChecks prometheus.Counter
	CircuitOpen    prometheus.Gauge
}

// New registers the limiter metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Checks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_ratelimit_checks_total",
			Help: "Admission checks by outcome",
		}, []string{"outcome"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_ratelimit_store_errors_total",
			Help: "Errors returned by the primary limiter store",
		}),
		DegradedChecks: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_ratelimit_degraded_checks_total",
			Help: "Admission checks answered by the fallback store",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "payguard_ratelimit_circuit_open",
			Help: "1 while the limiter store circuit is open",
		}),
	}
}

func (m *Metrics) RecordCheck(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.Checks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) IncrementDegraded() {
	if m == nil {
		return
	}
	m.DegradedChecks.Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
