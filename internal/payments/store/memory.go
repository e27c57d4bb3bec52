// Package store persists customers, decision records and cases, in process
// memory or in Postgres.
package store

import (
	"context"
	"sync"
	"time"

	"payguard/internal/agent/tools"
	"payguard/internal/payments"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/sentinel"
)

// numTxShards spreads customers over independent transaction locks.
const numTxShards = 128

const defaultTxTimeout = 5 * time.Second

type recordKey struct {
	customerID string
	key        string
}

// memTx buffers the writes of one transaction until commit.
type memTx struct {
	debits  map[string]float64
	records map[recordKey]payments.DecisionRecord
	cases   []tools.Case
}

type memTxKey struct{}

// InMemoryStore keeps all state in maps. Transactions on the same customer
// are serialized by a sharded lock; writes are buffered and applied at commit
// so a failed transaction leaves nothing behind.
type InMemoryStore struct {
	mu        sync.RWMutex
	customers map[string]float64
	records   map[recordKey]payments.DecisionRecord
	cases     []tools.Case

	txShards [numTxShards]sync.Mutex
	timeout  time.Duration
}

type MemoryOption func(*InMemoryStore)

func WithTxTimeout(d time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		s.timeout = d
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		customers: make(map[string]float64),
		records:   make(map[recordKey]payments.DecisionRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBalance creates or overwrites a customer.
func (s *InMemoryStore) SetBalance(customerID string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customerID] = balance
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store payments.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &s.txShards[hashString(payments.TxCustomer(ctx))%numTxShards]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memTx{
		debits:  make(map[string]float64),
		records: make(map[recordKey]payments.DecisionRecord),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx), s); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	return s.commit(tx)
}

func (s *InMemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range tx.records {
		if _, exists := s.records[k]; exists {
			return sentinel.ErrConflict
		}
	}
	for id := range tx.debits {
		if _, ok := s.customers[id]; !ok {
			return sentinel.ErrNotFound
		}
	}
	for id, amount := range tx.debits {
		s.customers[id] -= amount
	}
	for k, rec := range tx.records {
		s.records[k] = rec
	}
	s.cases = append(s.cases, tx.cases...)
	return nil
}

func txFrom(ctx context.Context) (*memTx, bool) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	return tx, ok
}

func (s *InMemoryStore) FindRecord(ctx context.Context, customerID, idempotencyKey string) (*payments.DecisionRecord, error) {
	k := recordKey{customerID: customerID, key: idempotencyKey}
	if tx, ok := txFrom(ctx); ok {
		if rec, ok := tx.records[k]; ok {
			return cloneRecord(rec), nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[k]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) CustomerExists(_ context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.customers[customerID]
	return ok, nil
}

// Balance implements tools.BalanceReader, including debits pending in the
// caller's transaction.
func (s *InMemoryStore) Balance(ctx context.Context, customerID string) (float64, error) {
	s.mu.RLock()
	balance, ok := s.customers[customerID]
	s.mu.RUnlock()
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if tx, ok := txFrom(ctx); ok {
		balance -= tx.debits[customerID]
	}
	return balance, nil
}

func (s *InMemoryStore) Debit(ctx context.Context, customerID string, amount float64) error {
	if tx, ok := txFrom(ctx); ok {
		if exists, _ := s.CustomerExists(ctx, customerID); !exists {
			return sentinel.ErrNotFound
		}
		tx.debits[customerID] += amount
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customerID]; !ok {
		return sentinel.ErrNotFound
	}
	s.customers[customerID] -= amount
	return nil
}

func (s *InMemoryStore) SaveRecord(ctx context.Context, customerID, idempotencyKey string, record *payments.DecisionRecord) error {
	k := recordKey{customerID: customerID, key: idempotencyKey}
	s.mu.RLock()
	_, exists := s.records[k]
	s.mu.RUnlock()
	if exists {
		return sentinel.ErrConflict
	}
	if tx, ok := txFrom(ctx); ok {
		if _, pending := tx.records[k]; pending {
			return sentinel.ErrConflict
		}
		tx.records[k] = *cloneRecord(*record)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[k]; ok {
		return sentinel.ErrConflict
	}
	s.records[k] = *cloneRecord(*record)
	return nil
}

// CreateCase implements tools.CaseRecorder. Inside a transaction the case
// is buffered and applied at commit.
func (s *InMemoryStore) CreateCase(ctx context.Context, c tools.Case) error {
	if tx, ok := txFrom(ctx); ok {
		tx.cases = append(tx.cases, c)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = append(s.cases, c)
	return nil
}

// Cases returns the recorded cases, oldest first.
func (s *InMemoryStore) Cases() []tools.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tools.Case, len(s.cases))
	copy(out, s.cases)
	return out
}

func (s *InMemoryStore) Health(context.Context) error {
	return nil
}

func cloneRecord(rec payments.DecisionRecord) *payments.DecisionRecord {
	out := rec
	out.Reasons = append([]string{}, rec.Reasons...)
	out.Trace = append(out.Trace[:0:0], rec.Trace...)
	return &out
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
