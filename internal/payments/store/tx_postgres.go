package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payguard/internal/payments"
	dErrors "payguard/pkg/domain-errors"
	txcontext "payguard/pkg/platform/tx"
)

// PostgresTx runs the decide flow in one database transaction.
type PostgresTx struct {
	db      *sql.DB
	store   *PostgresStore
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB, timeout time.Duration) *PostgresTx {
	return &PostgresTx{db: db, store: NewPostgres(db), timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store payments.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
