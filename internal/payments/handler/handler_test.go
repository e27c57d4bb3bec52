package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,Limiter

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"payguard/internal/agent/trace"
	"payguard/internal/domain"
	"payguard/internal/payments"
	"payguard/internal/payments/handler/mocks"
	"payguard/internal/ratelimit/models"
	"payguard/internal/stats"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/testutil"
)

// =============================================================================
// Decide Handler Test Suite
// =============================================================================
// Justification for unit tests: the handler owns the order of validation,
// admission and processing, and the mapping of each failure to a status code.

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	limiter *mocks.MockLimiter
	stats   *stats.Aggregator
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.limiter = mocks.NewMockLimiter(s.ctrl)
	s.stats = stats.New(stats.DefaultCapacity)

	h := New(s.service, s.limiter, s.stats, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func validBody() map[string]any {
	return map[string]any{
		"customerId":     "cust-1",
		"amount":         100,
		"currency":       "usd",
		"payeeId":        "payee-1",
		"idempotencyKey": "k1",
	}
}

func admitted() *models.RateLimitResult {
	return &models.RateLimitResult{Allowed: true, Limit: 5, Remaining: 4, ResetAt: time.Unix(1_700_000_000, 0)}
}

func storedRecord() *payments.DecisionRecord {
	return &payments.DecisionRecord{
		RequestID: "req-1",
		Decision:  domain.DecisionAllow,
		Reasons:   []string{},
		Trace:     []trace.Entry{{Step: trace.StepPlan, Detail: "plan"}},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *HandlerSuite) TestDecide() {
	testutil.Given(s.T(), "a valid request", func(t *testing.T) {
		s.SetupTest()
		s.limiter.EXPECT().Check(gomock.Any(), "cust-1").Return(admitted(), nil)
		s.service.EXPECT().Process(gomock.Any(), payments.DecisionRequest{
			CustomerID: "cust-1", Amount: 100, Currency: "USD", PayeeID: "payee-1", IdempotencyKey: "k1",
		}).Return(&payments.Outcome{Record: storedRecord()}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/payments/decide", validBody()))

		testutil.AssertStatusOK(t, rr)
		s.Empty(rr.Header().Get(ReplayedHeader))
		s.Equal("5", rr.Header().Get("X-RateLimit-Limit"))
		s.Equal("4", rr.Header().Get("X-RateLimit-Remaining"))
		got := testutil.UnmarshalResponse[payments.DecisionRecord](t, rr)
		s.Equal(storedRecord(), got)
		s.Equal(int64(1), s.stats.Snapshot().DecisionCounts[domain.DecisionAllow])
	})

	testutil.Given(s.T(), "a replayed request", func(t *testing.T) {
		s.SetupTest()
		s.limiter.EXPECT().Check(gomock.Any(), "cust-1").Return(admitted(), nil)
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).
			Return(&payments.Outcome{Record: storedRecord(), Replayed: true}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/payments/decide", validBody()))

		testutil.AssertStatusOK(t, rr)
		s.Equal("true", rr.Header().Get(ReplayedHeader))
	})
}

func (s *HandlerSuite) TestValidation() {
	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing customer", func(b map[string]any) { delete(b, "customerId") }},
		{"missing idempotency key", func(b map[string]any) { b["idempotencyKey"] = "  " }},
		{"zero amount", func(b map[string]any) { b["amount"] = 0 }},
		{"negative amount", func(b map[string]any) { b["amount"] = -5 }},
		{"bad currency", func(b map[string]any) { b["currency"] = "dollars" }},
	}
	for _, tc := range cases {
		testutil.Given(s.T(), tc.name, func(t *testing.T) {
			s.SetupTest()
			body := validBody()
			tc.mutate(body)

			rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/payments/decide", body))

			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
			s.Equal(int64(0), s.stats.Snapshot().TotalRequests)
		})
	}

	testutil.Given(s.T(), "a malformed body", func(t *testing.T) {
		s.SetupTest()
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/payments/decide", `{"amount":`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
		s.Equal(int64(0), s.stats.Snapshot().TotalRequests)
	})
}

func (s *HandlerSuite) TestRateLimited() {
	s.limiter.EXPECT().Check(gomock.Any(), "cust-1").Return(&models.RateLimitResult{
		Allowed:    false,
		Limit:      5,
		Remaining:  0,
		ResetAt:    time.Unix(1_700_000_001, 0),
		RetryAfter: 400 * time.Millisecond,
	}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/payments/decide", validBody()))

	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.Equal("1", rr.Header().Get("Retry-After"))
	body := testutil.UnmarshalResponse[models.RateLimitExceededResponse](s.T(), rr)
	s.Equal("rate_limit_exceeded", body.Error)
	s.Equal(1, body.RetryAfter)
	s.Equal(int64(0), s.stats.Snapshot().TotalRequests)
}

func (s *HandlerSuite) TestServiceErrors() {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown payee", dErrors.New(dErrors.CodeNotFound, "payee not found"), http.StatusNotFound, "not_found"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "decision timed out"), http.StatusGatewayTimeout, "timeout"},
		{"transaction failure", dErrors.New(dErrors.CodeInternal, "failed to process payment"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		testutil.Given(s.T(), tc.name, func(t *testing.T) {
			s.SetupTest()
			s.limiter.EXPECT().Check(gomock.Any(), "cust-1").Return(admitted(), nil)
			s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, tc.err)

			rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/payments/decide", validBody()))

			testutil.AssertStatusAndError(t, rr, tc.status, tc.code)
			snap := s.stats.Snapshot()
			s.Equal(int64(1), snap.TotalRequests)
			s.Equal(int64(1), snap.DecisionCounts[domain.DecisionBlock])
		})
	}
}

func (s *HandlerSuite) TestLimiterErrorIsInternal() {
	s.limiter.EXPECT().Check(gomock.Any(), "cust-1").
		Return(nil, dErrors.New(dErrors.CodeInternal, "failed to check rate limit"))

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/payments/decide", validBody()))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	s.Equal(int64(0), s.stats.Snapshot().TotalRequests)
}
