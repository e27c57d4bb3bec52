package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published *prometheus.CounterVec
	Dropped   prometheus.Counter
	Forwarded *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_events_published_total",
			Help: "Events appended to the in-process log",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "payguard_events_subscriber_dropped_total",
			Help: "Deliveries skipped because a subscriber buffer was full",
		}),
		Forwarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_events_forwarded_total",
			Help: "Events handed to an external broker, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncPublished(eventType string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) AddDropped(n int) {
	if m == nil {
		return
	}
	m.Dropped.Add(float64(n))
}

func (m *Metrics) IncForwarded(ok bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.Forwarded.WithLabelValues(outcome).Inc()
}
