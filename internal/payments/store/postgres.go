package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"payguard/internal/agent/tools"
	"payguard/internal/payments"
	"payguard/internal/platform/postgres"
	"payguard/pkg/platform/sentinel"
	txcontext "payguard/pkg/platform/tx"
)

// PostgresStore is pure I/O over the customers, idempotency_keys and cases
// tables. Methods run inside the transaction carried by ctx when present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindRecord(ctx context.Context, customerID, idempotencyKey string) (*payments.DecisionRecord, error) {
	var raw []byte
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT response FROM idempotency_keys WHERE key = $1 AND customer_id = $2`,
		idempotencyKey, customerID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	var record payments.DecisionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check customer: %w", err)
	}
	return exists, nil
}

// Balance implements tools.BalanceReader. Inside a transaction the row stays
// locked until commit, so the debit that follows sees the balance it decided on.
func (s *PostgresStore) Balance(ctx context.Context, customerID string) (float64, error) {
	var balance float64
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT balance FROM customers WHERE id = $1 FOR UPDATE`, customerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) Debit(ctx context.Context, customerID string, amount float64) error {
	res, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE customers SET balance = balance - $1 WHERE id = $2`, amount, customerID,
	)
	if err != nil {
		return fmt.Errorf("debit customer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, customerID, idempotencyKey string, record *payments.DecisionRecord) error {
	if record == nil {
		return errors.New("decision record is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	_, err = txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, customer_id, response, created_at) VALUES ($1, $2, $3, $4)`,
		idempotencyKey, customerID, string(raw), record.Timestamp,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// CreateCase implements tools.CaseRecorder. Inside a transaction the case
// commits or rolls back with the decision and uses the connection the
// transaction already holds.
func (s *PostgresStore) CreateCase(ctx context.Context, c tools.Case) error {
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx,
		`INSERT INTO cases (id, customer_id, amount, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.CustomerID, c.Amount, c.Reason, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// SetBalance upserts a customer.
func (s *PostgresStore) SetBalance(ctx context.Context, customerID string, balance float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, balance) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance
	`, customerID, balance)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
