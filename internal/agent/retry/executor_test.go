package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"payguard/internal/agent/metrics"
	"payguard/internal/agent/tools"
	"payguard/internal/agent/tools/mocks"
	"payguard/internal/agent/trace"
)

// =============================================================================
// Retry Executor Test Suite
// =============================================================================
// Justification for unit tests: the attempt budget and the exact shape of the
// trace are part of the decision record clients receive.

type ExecutorSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	tool    *mocks.MockTool
	metrics *metrics.Metrics
	sleeps  []time.Duration
	exec    *Executor
	ctx     context.Context
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.tool = mocks.NewMockTool(s.ctrl)
	s.tool.EXPECT().Name().Return(tools.FetchBalance).AnyTimes()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.sleeps = nil
	s.ctx = context.Background()
	s.exec = New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithSleep(s.recordSleep),
	)
}

func (s *ExecutorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ExecutorSuite) recordSleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *ExecutorSuite) TestFirstAttemptSucceeds() {
	want := tools.Ok(tools.BalanceData{Balance: 10})
	s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(want, nil).Times(1)

	tr := trace.New()
	got := s.exec.Run(s.ctx, s.tool, tools.Args{CustomerID: "c"}, tr)

	s.Equal(want, got)
	s.Equal([]trace.Entry{
		{Step: trace.StepToolCall, Detail: "Calling fetchBalance (Attempt 1)"},
	}, tr.Entries())
	s.Empty(s.sleeps)
}

func (s *ExecutorSuite) TestSucceedsOnThirdAttempt() {
	gomock.InOrder(
		s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Fail("timeout"), nil),
		s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Result{}, errors.New("socket closed")),
		s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Ok(tools.BalanceData{Balance: 1}), nil),
	)

	tr := trace.New()
	got := s.exec.Run(s.ctx, s.tool, tools.Args{}, tr)

	s.True(got.Success)
	s.Equal(3, tr.Count(trace.StepToolCall))
	s.Equal(2, tr.Count(trace.StepToolError))
	s.Equal([]trace.Entry{
		{Step: trace.StepToolCall, Detail: "Calling fetchBalance (Attempt 1)"},
		{Step: trace.StepToolError, Detail: "Error in fetchBalance: timeout"},
		{Step: trace.StepToolCall, Detail: "Calling fetchBalance (Attempt 2)"},
		{Step: trace.StepToolError, Detail: "Exception in fetchBalance: socket closed"},
		{Step: trace.StepToolCall, Detail: "Calling fetchBalance (Attempt 3)"},
	}, tr.Entries())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ToolAttempts.WithLabelValues("fetchBalance", "success")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ToolAttempts.WithLabelValues("fetchBalance", "fault")))
}

func (s *ExecutorSuite) TestExhaustion() {
	s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Fail("Customer not found"), nil).Times(3)

	tr := trace.New()
	got := s.exec.Run(s.ctx, s.tool, tools.Args{}, tr)

	s.False(got.Success)
	s.Equal("fetchBalance failed after 3 attempts.", got.Error)
	s.Equal(3, tr.Count(trace.StepToolCall))
	s.Equal(3, tr.Count(trace.StepToolError))
	s.Equal(6, tr.Len())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ToolExhausted.WithLabelValues("fetchBalance")))
}

func (s *ExecutorSuite) TestPanicIsTreatedAsFault() {
	gomock.InOrder(
		s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, tools.Args) (tools.Result, error) {
			panic("nil map")
		}),
		s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Ok(nil), nil),
	)

	tr := trace.New()
	got := s.exec.Run(s.ctx, s.tool, tools.Args{}, tr)

	s.True(got.Success)
	s.Equal("Exception in fetchBalance: panic: nil map", tr.Entries()[1].Detail)
}

func (s *ExecutorSuite) TestBackoffBetweenAttempts() {
	exec := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond}),
		WithSleep(s.recordSleep),
	)
	s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Fail("down"), nil).Times(3)

	exec.Run(s.ctx, s.tool, tools.Args{}, trace.New())

	s.Equal([]time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, s.sleeps)
}

func (s *ExecutorSuite) TestCancelledContextStopsRetries() {
	ctx, cancel := context.WithCancel(s.ctx)
	s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, tools.Args) (tools.Result, error) {
		cancel()
		return tools.Result{}, context.Canceled
	}).Times(1)

	tr := trace.New()
	got := s.exec.Run(ctx, s.tool, tools.Args{}, tr)

	s.False(got.Success)
	s.Equal("fetchBalance failed after 1 attempts.", got.Error)
	s.Equal(1, tr.Count(trace.StepToolCall))
	s.Equal(1, tr.Count(trace.StepToolError))
}

func (s *ExecutorSuite) TestFirstAttemptRunsEvenWhenContextDone() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Ok(nil), nil).Times(1)

	got := s.exec.Run(ctx, s.tool, tools.Args{}, trace.New())
	s.True(got.Success)
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	cases := map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 40 * time.Millisecond,
		4: 50 * time.Millisecond,
		9: 50 * time.Millisecond,
	}
	for n, want := range cases {
		if got := p.Backoff(n); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", n, got, want)
		}
	}
	if got := DefaultPolicy().Backoff(1); got != 0 {
		t.Fatalf("default policy should not wait, got %v", got)
	}
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	tool := mocks.NewMockTool(ctrl)
	tool.EXPECT().Name().Return(tools.CreateCase).AnyTimes()
	tool.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(tools.Fail("x"), nil).Times(1)

	exec := New(WithPolicy(Policy{MaxAttempts: 0}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	got := exec.Run(context.Background(), tool, tools.Args{}, trace.New())
	if got.Error != "createCase failed after 1 attempts." {
		t.Fatalf("unexpected error %q", got.Error)
	}
}
