// Package metrics holds the HTTP-level Prometheus metrics shared by every route.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request counters and latency histogram.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payguard_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "status"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payguard_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.Latency.WithLabelValues(route).Observe(d.Seconds())
}
