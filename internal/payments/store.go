package payments

import "context"

// Store is the persisted state the decide flow touches. Every method reads
// and writes through the transaction carried by ctx when there is one.
type Store interface {
	// FindRecord returns sentinel.ErrNotFound when no record exists.
	FindRecord(ctx context.Context, customerID, idempotencyKey string) (*DecisionRecord, error)
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	// Debit returns sentinel.ErrNotFound for an unknown customer.
	Debit(ctx context.Context, customerID string, amount float64) error
	// SaveRecord returns sentinel.ErrConflict when the pair is already stored.
	SaveRecord(ctx context.Context, customerID, idempotencyKey string, record *DecisionRecord) error
}

// StoreTx runs fn atomically: either every write made through store commits
// or none does.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

type txCustomerKey struct{}

// WithTxCustomer names the customer a transaction works on, so stores that
// lock per customer can pick the right lock.
func WithTxCustomer(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, txCustomerKey{}, customerID)
}

// TxCustomer returns the customer set by WithTxCustomer.
func TxCustomer(ctx context.Context) string {
	id, _ := ctx.Value(txCustomerKey{}).(string)
	return id
}
