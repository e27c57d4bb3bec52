// Package tools defines the capability contract the orchestrator drives and
// the registry that resolves capabilities by name.
package tools

import (
	"context"
)

// Name identifies a registered capability.
type Name string

const (
	FetchBalance     Name = "fetchBalance"
	FetchRiskSignals Name = "fetchRiskSignals"
	CreateCase       Name = "createCase"
)

// Args is the union of arguments the built-in capabilities read.
// Each tool documents which fields it uses.
type Args struct {
	CustomerID string
	Amount     float64
	Reason     string
}

// Result is the uniform outcome of a capability call. A failed capability is
// a value with Success false, never a Go error.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// Ok wraps a successful payload.
func Ok(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result carrying msg.
func Fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Tool is one capability. Execute returns a non-nil error only for faults the
// tool could not turn into a Result; callers treat both the same way.
type Tool interface {
	Name() Name
	Description() string
	Execute(ctx context.Context, args Args) (Result, error)
}

// RiskLevel is the output of fetchRiskSignals.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// BalanceData is the payload of a successful fetchBalance.
type BalanceData struct {
	Balance float64
}

// RiskData is the payload of a successful fetchRiskSignals.
type RiskData struct {
	Risk RiskLevel
}

// CaseData is the payload of a successful createCase.
type CaseData struct {
	CaseID string
}
