package stats

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"payguard/internal/domain"
	"payguard/pkg/testutil"
)

func TestHandleSnapshot(t *testing.T) {
	agg := New(10)
	agg.Record(domain.DecisionAllow, 12*time.Millisecond)
	agg.Record(domain.DecisionReview, 30*time.Millisecond)

	r := chi.NewRouter()
	NewHandler(agg).Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/metrics"))

	testutil.AssertStatusOK(t, rr)
	snap := testutil.UnmarshalResponse[Snapshot](t, rr)
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, map[domain.Decision]int64{
		domain.DecisionAllow:  1,
		domain.DecisionReview: 1,
		domain.DecisionBlock:  0,
	}, snap.DecisionCounts)
	assert.Equal(t, []float64{12, 30}, snap.Latencies)
	assert.Equal(t, 30.0, snap.P95Latency)
}
