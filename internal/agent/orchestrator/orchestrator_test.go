package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"payguard/internal/agent/retry"
	"payguard/internal/agent/tools"
	"payguard/internal/agent/tools/mocks"
	"payguard/internal/agent/trace"
	"payguard/internal/domain"
	"payguard/pkg/platform/sentinel"
)

type balances map[string]float64

func (b balances) Balance(_ context.Context, customerID string) (float64, error) {
	v, ok := b[customerID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return v, nil
}

type caseLog struct {
	reasons []string
	err     error
}

func (c *caseLog) CreateCase(_ context.Context, cs tools.Case) error {
	if c.err != nil {
		return c.err
	}
	c.reasons = append(c.reasons, cs.Reason)
	return nil
}

// =============================================================================
// Orchestrator Test Suite
// =============================================================================
// Justification for unit tests: the escalation rules and the asymmetric
// fail-safe policy are audit-relevant and must hold for every input.

type OrchestratorSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
	runner *retry.Executor
	cases  *caseLog
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.runner = retry.New(retry.WithLogger(s.logger))
	s.cases = &caseLog{}
}

func (s *OrchestratorSuite) newOrchestrator(b balances, extra ...tools.Tool) *Orchestrator {
	registered := []tools.Tool{
		tools.NewBalanceTool(b, s.logger),
		tools.NewRiskTool(tools.DefaultHighRiskThreshold),
		tools.NewCaseTool(s.cases, s.logger),
	}
	reg, err := tools.NewRegistry(append(registered, extra...)...)
	s.Require().NoError(err)
	o, err := New(reg, s.runner, WithLogger(s.logger))
	s.Require().NoError(err)
	return o
}

func (s *OrchestratorSuite) TestNew() {
	s.Run("missing capability fails fast", func() {
		reg, err := tools.NewRegistry(tools.NewRiskTool(1000))
		s.Require().NoError(err)
		_, err = New(reg, s.runner)
		s.Require().Error(err)
		s.Contains(err.Error(), "fetchBalance")
	})

	s.Run("nil registry", func() {
		_, err := New(nil, s.runner)
		s.ErrorContains(err, "tool registry is required")
	})

	s.Run("nil runner", func() {
		reg, _ := tools.NewRegistry()
		_, err := New(reg, nil)
		s.ErrorContains(err, "runner is required")
	})
}

func (s *OrchestratorSuite) TestLogsRegisteredCapabilities() {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg, err := tools.NewRegistry(
		tools.NewBalanceTool(balances{"cust": 50}, s.logger),
		tools.NewRiskTool(tools.DefaultHighRiskThreshold),
		tools.NewCaseTool(s.cases, s.logger),
	)
	s.Require().NoError(err)
	o, err := New(reg, s.runner, WithLogger(logger))
	s.Require().NoError(err)
	o.Decide(s.ctx, "ghost", 100)

	var lines []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		s.Require().NoError(dec.Decode(&line))
		lines = append(lines, line)
	}
	s.Require().Len(lines, 4)
	for i, want := range []string{"createCase", "fetchBalance", "fetchRiskSignals"} {
		s.Equal("capability registered", lines[i]["msg"])
		s.Equal(want, lines[i]["tool"])
		s.NotEmpty(lines[i]["description"])
		s.Equal(true, lines[i]["planned"])
	}

	reached := lines[3]
	s.Equal("decision reached", reached["msg"])
	s.Equal("block", reached["decision"])
	s.Equal(float64(retry.DefaultPolicy().MaxAttempts), reached["tool_errors"])
}

func (s *OrchestratorSuite) TestAllow() {
	o := s.newOrchestrator(balances{"cust": 500})

	res := o.Decide(s.ctx, "cust", 100)

	s.Equal(domain.DecisionAllow, res.Decision)
	s.Empty(res.Reasons)
	s.NotNil(res.Reasons)
	s.Empty(s.cases.reasons)
	s.Equal([]trace.Entry{
		{Step: trace.StepPlan, Detail: PlanDetail},
		{Step: trace.StepToolCall, Detail: "Calling fetchBalance (Attempt 1)"},
		{Step: trace.StepToolResult, Detail: "Balance: 500"},
		{Step: trace.StepToolCall, Detail: "Calling fetchRiskSignals (Attempt 1)"},
		{Step: trace.StepToolResult, Detail: "Risk: low"},
	}, res.Trace)
}

func (s *OrchestratorSuite) TestInsufficientFundsBlocks() {
	o := s.newOrchestrator(balances{"cust": 50})

	res := o.Decide(s.ctx, "cust", 100)

	s.Equal(domain.DecisionBlock, res.Decision)
	s.Equal([]string{ReasonInsufficientFunds}, res.Reasons)
	s.Equal([]string{"Insufficient funds."}, s.cases.reasons)
	s.Zero(countCalls(res.Trace, "fetchRiskSignals"), "risk is never consulted after a block")
	s.Equal(trace.Entry{Step: trace.StepToolResult, Detail: "Case created."}, res.Trace[len(res.Trace)-1])
}

func (s *OrchestratorSuite) TestBlockRegardlessOfRisk() {
	o := s.newOrchestrator(balances{"cust": 1500})

	res := o.Decide(s.ctx, "cust", 2000)

	s.Equal(domain.DecisionBlock, res.Decision)
	s.Equal([]string{ReasonInsufficientFunds}, res.Reasons)
}

func (s *OrchestratorSuite) TestHighRiskReview() {
	o := s.newOrchestrator(balances{"cust": 5000})

	res := o.Decide(s.ctx, "cust", 2000)

	s.Equal(domain.DecisionReview, res.Decision)
	s.Equal([]string{ReasonHighRisk}, res.Reasons)
	s.Equal([]string{"High risk transaction."}, s.cases.reasons)
}

func (s *OrchestratorSuite) TestBalanceExhaustionBlocks() {
	o := s.newOrchestrator(balances{})

	res := o.Decide(s.ctx, "ghost", 100)

	s.Equal(domain.DecisionBlock, res.Decision)
	s.Equal([]string{"fetchBalance failed after 3 attempts."}, res.Reasons)
	s.Equal(3, countCalls(res.Trace, "fetchBalance"))
	s.Contains(res.Trace, trace.Entry{Step: trace.StepToolError, Detail: "Error in fetchBalance: Customer not found"})
	s.Contains(res.Trace, trace.Entry{Step: trace.StepToolResult, Detail: "Error: fetchBalance failed after 3 attempts."})
}

func (s *OrchestratorSuite) TestCaseFailureDoesNotChangeDecision() {
	s.cases.err = errors.New("case db down")
	o := s.newOrchestrator(balances{"cust": 50})

	res := o.Decide(s.ctx, "cust", 100)

	s.Equal(domain.DecisionBlock, res.Decision)
	s.Equal([]string{ReasonInsufficientFunds}, res.Reasons)
	s.Equal(3, countCalls(res.Trace, "createCase"))
	s.Equal(trace.Entry{
		Step:   trace.StepToolResult,
		Detail: "Error creating case: createCase failed after 3 attempts.",
	}, res.Trace[len(res.Trace)-1])
}

func (s *OrchestratorSuite) TestRiskFailureEscalatesToReview() {
	ctrl := gomock.NewController(s.T())
	risk := mocks.NewMockTool(ctrl)
	risk.EXPECT().Name().Return(tools.FetchRiskSignals).AnyTimes()
	risk.EXPECT().Execute(gomock.Any(), tools.Args{Amount: 100}).Return(tools.Result{}, errors.New("scoring offline")).Times(3)

	reg, err := tools.NewRegistry(
		tools.NewBalanceTool(balances{"cust": 500}, s.logger),
		risk,
		tools.NewCaseTool(s.cases, s.logger),
	)
	s.Require().NoError(err)
	o, err := New(reg, s.runner, WithLogger(s.logger))
	s.Require().NoError(err)

	res := o.Decide(s.ctx, "cust", 100)

	s.Equal(domain.DecisionReview, res.Decision)
	s.Equal([]string{"fetchRiskSignals failed after 3 attempts."}, res.Reasons)
	s.Equal([]string{"fetchRiskSignals failed after 3 attempts."}, s.cases.reasons)
	s.Contains(res.Trace, trace.Entry{Step: trace.StepToolError, Detail: "Exception in fetchRiskSignals: scoring offline"})
}

func countCalls(entries []trace.Entry, tool string) int {
	n := 0
	prefix := "Calling " + tool + " "
	for _, e := range entries {
		if e.Step == trace.StepToolCall && len(e.Detail) >= len(prefix) && e.Detail[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
