package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the idempotent decide flow.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Replays         prometheus.Counter
	ConflictReplays prometheus.Counter
	Debits          prometheus.Counter
	TxFailures      prometheus.Counter
	ProcessLatency  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_payments_requests_total",
			Help: "Decide requests by final decision, or error",
		}, []string{"outcome"}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_payments_replays_total",
			Help: "Requests answered from a stored decision record",
		}),
		ConflictReplays: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_payments_conflict_replays_total",
			Help: "Concurrent duplicates that lost the insert race and replayed the winner",
		}),
		Debits: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_payments_debits_total",
			Help: "Balance debits committed",
		}),
		TxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_payments_tx_failures_total",
			Help: "Decision transactions rolled back",
		}),
		ProcessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "payguard_payments_process_duration_seconds",
			Help:    "Duration of the idempotent decide flow",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementRequest(outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementReplay(conflict bool) {
	if m == nil {
		return
	}
	m.Replays.Inc()
	if conflict {
		m.ConflictReplays.Inc()
	}
}

func (m *Metrics) IncrementDebit() {
	if m != nil {
		m.Debits.Inc()
	}
}

func (m *Metrics) IncrementTxFailure() {
	if m != nil {
		m.TxFailures.Inc()
	}
}

func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	if m != nil {
		m.ProcessLatency.Observe(d.Seconds())
	}
}
