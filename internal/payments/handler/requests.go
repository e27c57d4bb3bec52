package handler

import (
	"strings"

	"payguard/internal/payments"
	dErrors "payguard/pkg/domain-errors"
)

// DecideRequest is the POST /payments/decide body.
type DecideRequest struct {
	CustomerID     string  `json:"customerId"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	PayeeID        string  `json:"payeeId"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

func (r *DecideRequest) Normalize() {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.PayeeID = strings.TrimSpace(r.PayeeID)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
}

func (r *DecideRequest) Validate() error {
	if r.CustomerID == "" || r.Currency == "" || r.PayeeID == "" || r.IdempotencyKey == "" || r.Amount == 0 {
		return dErrors.New(dErrors.CodeValidation, "Missing required fields")
	}
	if r.Amount < 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if !isCurrencyCode(r.Currency) {
		return dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter code")
	}
	return nil
}

func (r *DecideRequest) toDomain() payments.DecisionRequest {
	return payments.DecisionRequest{
		CustomerID:     r.CustomerID,
		Amount:         r.Amount,
		Currency:       r.Currency,
		PayeeID:        r.PayeeID,
		IdempotencyKey: r.IdempotencyKey,
	}
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
