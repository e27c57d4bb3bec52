// Package orchestrator turns one payment into a decision by running the
// fixed balance, risk and case plan through the retry executor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"payguard/internal/agent/metrics"
	"payguard/internal/agent/tools"
	"payguard/internal/agent/trace"
	"payguard/internal/domain"
)

const (
	PlanDetail = "1. Get balance. 2. Get risk signals. 3. Decide."

	ReasonInsufficientFunds = "Insufficient funds."
	ReasonHighRisk          = "High risk transaction."
)

// Plan is the ordered set of capabilities every run may use.
var Plan = []tools.Name{tools.FetchBalance, tools.FetchRiskSignals, tools.CreateCase}

// Runner executes one capability with retries.
type Runner interface {
	Run(ctx context.Context, tool tools.Tool, args tools.Args, tr *trace.Trace) tools.Result
}

// Result is the outcome of one run.
type Result struct {
	Decision domain.Decision
	Reasons  []string
	Trace    []trace.Entry
}

// Orchestrator sequences the plan. Steps never run concurrently.
type Orchestrator struct {
	tracer  oteltrace.Tracer
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Metrics

	fetchBalance tools.Tool
	fetchRisk    tools.Tool
	createCase   tools.Tool
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithTracer(t oteltrace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New resolves every planned capability up front and fails if any is missing.
func New(registry *tools.Registry, runner Runner, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	resolved, err := registry.Resolve(Plan...)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	o := &Orchestrator{
		tracer:       otel.Tracer("payguard/agent/orchestrator"),
		runner:       runner,
		logger:       slog.Default(),
		fetchBalance: resolved[tools.FetchBalance],
		fetchRisk:    resolved[tools.FetchRiskSignals],
		createCase:   resolved[tools.CreateCase],
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, name := range registry.Names() {
		t, _ := registry.Get(name)
		o.logger.Info("capability registered",
			"tool", name,
			"description", t.Description(),
			"planned", slices.Contains(Plan, name),
		)
	}
	return o, nil
}

// Decide runs the plan for one payment. The decision only escalates:
// balance failure blocks, risk failure flags for review, and a case is opened
// for anything that is not allowed. Case creation failures are recorded in
// the trace and never change the decision.
func (o *Orchestrator) Decide(ctx context.Context, customerID string, amount float64) Result {
	ctx, span := o.tracer.Start(ctx, "orchestrator.decide",
		oteltrace.WithAttributes(attribute.Float64("amount", amount)))
	defer span.End()

	tr := trace.New()
	decision := domain.DecisionAllow
	var reasons []string

	tr.Append(trace.StepPlan, PlanDetail)

	balanceRes := o.runner.Run(ctx, o.fetchBalance, tools.Args{CustomerID: customerID}, tr)
	if !balanceRes.Success {
		decision = domain.Escalate(decision, domain.DecisionBlock)
		reasons = append(reasons, failureReason(balanceRes, "Failed to get balance"))
		tr.Append(trace.StepToolResult, "Error: "+balanceRes.Error)
	} else {
		balance := balanceOf(balanceRes)
		tr.Append(trace.StepToolResult, "Balance: "+formatAmount(balance))
		if balance < amount {
			decision = domain.Escalate(decision, domain.DecisionBlock)
			reasons = append(reasons, ReasonInsufficientFunds)
		}
	}

	if decision == domain.DecisionAllow {
		riskRes := o.runner.Run(ctx, o.fetchRisk, tools.Args{Amount: amount}, tr)
		if !riskRes.Success {
			decision = domain.Escalate(decision, domain.DecisionReview)
			reasons = append(reasons, failureReason(riskRes, "Failed to get risk signals"))
			tr.Append(trace.StepToolResult, "Error: "+riskRes.Error)
		} else {
			risk := riskOf(riskRes)
			tr.Append(trace.StepToolResult, "Risk: "+string(risk))
			if risk == tools.RiskHigh {
				decision = domain.Escalate(decision, domain.DecisionReview)
				reasons = append(reasons, ReasonHighRisk)
			}
		}
	}

	if decision == domain.DecisionReview || decision == domain.DecisionBlock {
		caseRes := o.runner.Run(ctx, o.createCase, tools.Args{
			CustomerID: customerID,
			Amount:     amount,
			Reason:     strings.Join(reasons, ", "),
		}, tr)
		if !caseRes.Success {
			tr.Append(trace.StepToolResult, "Error creating case: "+caseRes.Error)
		} else {
			tr.Append(trace.StepToolResult, "Case created.")
		}
	}

	if reasons == nil {
		reasons = []string{}
	}
	toolErrors := tr.Count(trace.StepToolError)
	span.SetAttributes(
		attribute.String("decision", string(decision)),
		attribute.Int("tool_errors", toolErrors),
	)
	o.metrics.IncrementDecision(string(decision))
	o.logger.DebugContext(ctx, "decision reached",
		"decision", decision,
		"reasons", len(reasons),
		"trace_entries", tr.Len(),
		"tool_errors", toolErrors,
	)
	return Result{Decision: decision, Reasons: reasons, Trace: tr.Entries()}
}

func failureReason(res tools.Result, fallback string) string {
	if res.Error != "" {
		return res.Error
	}
	return fallback
}

// balanceOf reads a balance payload. A success without a balance payload
// reads as zero, which blocks any positive amount.
func balanceOf(res tools.Result) float64 {
	switch d := res.Data.(type) {
	case tools.BalanceData:
		return d.Balance
	case *tools.BalanceData:
		if d != nil {
			return d.Balance
		}
	}
	return 0
}

func riskOf(res tools.Result) tools.RiskLevel {
	switch d := res.Data.(type) {
	case tools.RiskData:
		return d.Risk
	case *tools.RiskData:
		if d != nil {
			return d.Risk
		}
	}
	return tools.RiskLow
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
