package tools

import (
	"context"
	"errors"
	"log/slog"

	"payguard/pkg/platform/sentinel"
)

// BalanceReader reads a customer's balance. Implementations read through the
// transaction carried by ctx when there is one.
type BalanceReader interface {
	Balance(ctx context.Context, customerID string) (float64, error)
}

// BalanceTool implements fetchBalance. Reads Args.CustomerID.
type BalanceTool struct {
	reader BalanceReader
	logger *slog.Logger
}

func NewBalanceTool(reader BalanceReader, logger *slog.Logger) *BalanceTool {
	return &BalanceTool{reader: reader, logger: logger}
}

func (t *BalanceTool) Name() Name { return FetchBalance }

func (t *BalanceTool) Description() string { return "Get the balance for a customer." }

func (t *BalanceTool) Execute(ctx context.Context, args Args) (Result, error) {
	balance, err := t.reader.Balance(ctx, args.CustomerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Fail("Customer not found"), nil
		}
		if t.logger != nil {
			t.logger.WarnContext(ctx, "balance lookup failed", "error", err)
		}
		return Fail("Balance lookup failed"), nil
	}
	return Ok(BalanceData{Balance: balance}), nil
}
