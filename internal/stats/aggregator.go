// Package stats keeps the process-wide decision tallies and recent latencies
// served by GET /metrics.
package stats

import (
	"slices"
	"sync"
	"time"

	"payguard/internal/domain"
)

// DefaultCapacity is how many recent latencies are kept.
const DefaultCapacity = 1000

// Snapshot is a point-in-time copy of the aggregate. Latencies are in
// milliseconds, oldest first.
type Snapshot struct {
	TotalRequests  int64                     `json:"totalRequests"`
	DecisionCounts map[domain.Decision]int64 `json:"decisionCounts"`
	Latencies      []float64                 `json:"latencies"`
	P95Latency     float64                   `json:"p95Latency"`
}

// Aggregator counts decisions and keeps the most recent latencies in a ring,
// evicting the oldest sample once full.
type Aggregator struct {
	mu       sync.Mutex
	total    int64
	counts   map[domain.Decision]int64
	samples  []time.Duration
	head     int // next write position
	count    int
	capacity int
}

func New(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	counts := make(map[domain.Decision]int64, len(domain.Decisions))
	for _, d := range domain.Decisions {
		counts[d] = 0
	}
	return &Aggregator{
		counts:   counts,
		samples:  make([]time.Duration, capacity),
		capacity: capacity,
	}
}

// Record tallies one completed request. Unknown decisions count as block.
func (a *Aggregator) Record(decision domain.Decision, latency time.Duration) {
	if !decision.IsValid() {
		decision = domain.DecisionBlock
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.counts[decision]++

	a.samples[a.head] = latency
	a.head = (a.head + 1) % a.capacity
	if a.count < a.capacity {
		a.count++
	}
}

// Snapshot copies the current state. P95Latency is the nearest-rank value
// at index floor(n*0.95) of the ascending samples, or 0 with no samples.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	ordered := make([]time.Duration, a.count)
	start := (a.head - a.count + a.capacity) % a.capacity
	for i := range a.count {
		ordered[i] = a.samples[(start+i)%a.capacity]
	}
	counts := make(map[domain.Decision]int64, len(a.counts))
	for d, n := range a.counts {
		counts[d] = n
	}
	total := a.total
	a.mu.Unlock()

	latencies := make([]float64, len(ordered))
	for i, d := range ordered {
		latencies[i] = millis(d)
	}

	return Snapshot{
		TotalRequests:  total,
		DecisionCounts: counts,
		Latencies:      latencies,
		P95Latency:     p95(ordered),
	}
}

func p95(samples []time.Duration) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return millis(sorted[n*95/100])
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
