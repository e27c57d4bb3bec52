package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks WindowStore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"payguard/internal/ratelimit/metrics"
	"payguard/internal/ratelimit/models"
	"payguard/internal/ratelimit/service/mocks"
	"payguard/internal/ratelimit/store/window"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/circuit"
)

// =============================================================================
// Service Test Suite
// =============================================================================
// Justification for unit tests: the fallback routing and circuit transitions
// depend on store failures that cannot be produced on demand against a real
// Redis, and the deny-on-error rule for Admit is easiest to pin here.

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	primary *mocks.MockWindowStore
	metrics *metrics.Metrics
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.primary = mocks.NewMockWindowStore(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = context.Background()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) TestNew() {
	_, err := New(nil)
	s.Require().Error(err)

	svc, err := New(s.primary)
	s.Require().NoError(err)
	limit, w := svc.Limit()
	s.Equal(DefaultLimit, limit)
	s.Equal(DefaultWindow, w)
}

func (s *ServiceSuite) TestCheckUsesCustomerKeyAndLimits() {
	svc, err := New(s.primary, WithLimit(3, 2*time.Second), WithMetrics(s.metrics))
	s.Require().NoError(err)

	s.primary.EXPECT().
		Allow(gomock.Any(), models.CustomerKey("cust-1"), 3, 2*time.Second).
		Return(&models.RateLimitResult{Allowed: true, Limit: 3, Remaining: 2}, nil)

	res, err := svc.Check(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.False(res.Degraded)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Checks.WithLabelValues("allowed")))
}

func (s *ServiceSuite) TestStoreErrorWithoutFallback() {
	svc, err := New(s.primary)
	s.Require().NoError(err)

	s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection refused")).Times(2)

	_, err = svc.Check(s.ctx, "cust-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	s.False(svc.Admit(s.ctx, "cust-1"), "an unanswerable check denies")
}

func (s *ServiceSuite) TestFallbackOnStoreError() {
	fallback := window.NewInMemoryFixedWindowStore()
	svc, err := New(s.primary,
		WithFallback(fallback),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)

	s.Run("errors are answered by the fallback", func() {
		s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("timeout")).Times(2)

		for range 2 {
			res, err := svc.Check(s.ctx, "cust-1")
			s.Require().NoError(err)
			s.True(res.Allowed)
			s.True(res.Degraded)
		}
		s.Equal(1.0, testutil.ToFloat64(s.metrics.CircuitOpen))
		s.Equal(2.0, testutil.ToFloat64(s.metrics.DegradedChecks))
	})

	s.Run("open circuit stays degraded until enough primary successes", func() {
		s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}, nil).Times(2)

		res, err := svc.Check(s.ctx, "cust-1")
		s.Require().NoError(err)
		s.True(res.Degraded)

		res, err = svc.Check(s.ctx, "cust-1")
		s.Require().NoError(err)
		s.False(res.Degraded)
		s.Equal(0.0, testutil.ToFloat64(s.metrics.CircuitOpen))
	})
}

func (s *ServiceSuite) TestRecoveringCircuitConsumesOneToken() {
	fallback := mocks.NewMockWindowStore(s.ctrl)
	svc, err := New(s.primary,
		WithFallback(fallback),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)

	gomock.InOrder(
		s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("timeout")),
		fallback.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4}, nil),
		s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 3}, nil).Times(2),
	)

	res, err := svc.Check(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.True(res.Degraded)

	res, err = svc.Check(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.True(res.Degraded)
	s.Equal(3, res.Remaining, "the primary's answer is returned")

	res, err = svc.Check(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.False(res.Degraded)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.DegradedChecks))
}

func (s *ServiceSuite) TestFallbackEnforcesLimit() {
	svc, err := New(s.primary, WithFallback(window.NewInMemoryFixedWindowStore()))
	s.Require().NoError(err)

	s.primary.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("down")).AnyTimes()

	for range DefaultLimit {
		s.Require().True(svc.Admit(s.ctx, "cust-2"))
	}
	s.False(svc.Admit(s.ctx, "cust-2"))
}

func (s *ServiceSuite) TestReset() {
	fallback := mocks.NewMockWindowStore(s.ctrl)
	svc, err := New(s.primary, WithFallback(fallback))
	s.Require().NoError(err)

	key := models.CustomerKey("cust-3")
	s.primary.EXPECT().Reset(gomock.Any(), key).Return(nil)
	fallback.EXPECT().Reset(gomock.Any(), key).Return(nil)
	s.Require().NoError(svc.Reset(s.ctx, "cust-3"))
}

// =============================================================================
// In-memory admission
// =============================================================================

func TestAdmitFixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := window.NewInMemoryFixedWindowStore(window.WithClock(func() time.Time { return now }))
	svc, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := range 5 {
		if !svc.Admit(ctx, "fresh") {
			t.Fatalf("admit %d denied", i+1)
		}
		now = now.Add(150 * time.Millisecond)
	}
	if svc.Admit(ctx, "fresh") {
		t.Fatal("6th admit within the window allowed")
	}
	now = now.Add(time.Second)
	if !svc.Admit(ctx, "fresh") {
		t.Fatal("admit after the window denied")
	}
}
