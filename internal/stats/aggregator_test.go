package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payguard/internal/domain"
)

func TestRecord(t *testing.T) {
	agg := New(0)
	agg.Record(domain.DecisionAllow, 10*time.Millisecond)
	agg.Record(domain.DecisionReview, 20*time.Millisecond)
	agg.Record(domain.DecisionBlock, 30*time.Millisecond)
	agg.Record(domain.Decision("bogus"), 40*time.Millisecond)

	snap := agg.Snapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.DecisionCounts[domain.DecisionAllow])
	assert.Equal(t, int64(1), snap.DecisionCounts[domain.DecisionReview])
	assert.Equal(t, int64(2), snap.DecisionCounts[domain.DecisionBlock])
	assert.Equal(t, []float64{10, 20, 30, 40}, snap.Latencies)
}

func TestEmptySnapshot(t *testing.T) {
	snap := New(10).Snapshot()
	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.P95Latency)
	assert.Empty(t, snap.Latencies)
	assert.Len(t, snap.DecisionCounts, 3)
}

func TestRingEvictsOldest(t *testing.T) {
	agg := New(3)
	for i := 1; i <= 5; i++ {
		agg.Record(domain.DecisionAllow, time.Duration(i)*time.Millisecond)
	}
	snap := agg.Snapshot()
	assert.Equal(t, []float64{3, 4, 5}, snap.Latencies)
	assert.Equal(t, int64(5), snap.TotalRequests, "counters are not bounded by the ring")
}

func TestP95NearestRank(t *testing.T) {
	t.Run("twenty samples picks the largest", func(t *testing.T) {
		agg := New(100)
		for i := 20; i >= 1; i-- {
			agg.Record(domain.DecisionAllow, time.Duration(i)*time.Millisecond)
		}
		// floor(20*0.95) = 19
		assert.Equal(t, 20.0, agg.Snapshot().P95Latency)
	})

	t.Run("hundred samples picks index 95", func(t *testing.T) {
		agg := New(100)
		for i := range 100 {
			agg.Record(domain.DecisionAllow, time.Duration(i)*time.Millisecond)
		}
		assert.Equal(t, 95.0, agg.Snapshot().P95Latency)
	})

	t.Run("single sample", func(t *testing.T) {
		agg := New(100)
		agg.Record(domain.DecisionAllow, 7*time.Millisecond)
		assert.Equal(t, 7.0, agg.Snapshot().P95Latency)
	})
}

func TestConcurrentRecord(t *testing.T) {
	agg := New(DefaultCapacity)
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			for range 100 {
				agg.Record(domain.DecisionAllow, time.Millisecond)
			}
		})
	}
	wg.Wait()

	snap := agg.Snapshot()
	require.Equal(t, int64(5000), snap.TotalRequests)
	assert.Len(t, snap.Latencies, DefaultCapacity)
}
