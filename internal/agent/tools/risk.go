package tools

import "context"

// DefaultHighRiskThreshold is the amount above which a payment is high risk.
const DefaultHighRiskThreshold = 1000

// RiskTool implements fetchRiskSignals. It is a pure function of Args.Amount.
type RiskTool struct {
	threshold float64
}

func NewRiskTool(threshold float64) *RiskTool {
	return &RiskTool{threshold: threshold}
}

func (t *RiskTool) Name() Name { return FetchRiskSignals }

func (t *RiskTool) Description() string { return "Get risk signals for a payment." }

func (t *RiskTool) Execute(_ context.Context, args Args) (Result, error) {
	if args.Amount > t.threshold {
		return Ok(RiskData{Risk: RiskHigh}), nil
	}
	return Ok(RiskData{Risk: RiskLow}), nil
}
