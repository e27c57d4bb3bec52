// Package payments holds the decision record model and the storage contract
// behind the idempotent decide flow.
package payments

import (
	"time"

	"payguard/internal/agent/trace"
	"payguard/internal/domain"
)

// DecisionRequest is one payment to decide. Immutable once received.
type DecisionRequest struct {
	CustomerID     string
	Amount         float64
	Currency       string
	PayeeID        string
	IdempotencyKey string
}

// DecisionRecord is the persisted outcome for one (idempotency key, customer)
// pair, returned verbatim on every replay.
type DecisionRecord struct {
	RequestID string          `json:"requestId"`
	Decision  domain.Decision `json:"decision"`
	Reasons   []string        `json:"reasons"`
	Trace     []trace.Entry   `json:"agentTrace"`
	Timestamp time.Time       `json:"timestamp"`
}

// Outcome is what the coordinator returns for one request.
type Outcome struct {
	Record *DecisionRecord
	// Replayed is set when the record was already stored and nothing ran.
	Replayed bool
}
