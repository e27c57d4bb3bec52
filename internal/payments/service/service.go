// Package service runs the idempotent decide flow: replay a stored decision,
// or decide, debit and record inside one transaction and publish after commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"payguard/internal/agent/orchestrator"
	"payguard/internal/domain"
	"payguard/internal/events"
	"payguard/internal/payments"
	"payguard/internal/payments/metrics"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/sentinel"
	"payguard/pkg/requestcontext"
)

// Decider produces a decision for one payment.
type Decider interface {
	Decide(ctx context.Context, customerID string, amount float64) orchestrator.Result
}

// Publisher receives committed decisions.
type Publisher interface {
	Publish(ctx context.Context, event events.PaymentEvent)
}

type Service struct {
	store     payments.Store
	tx        payments.StoreTx
	decider   Decider
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    oteltrace.Tracer
	now       func() time.Time
	timeout   time.Duration
	inflight  singleflight.Group
}

const defaultTimeout = 5 * time.Second

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t oteltrace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds one decide run. The run is detached from the caller's
// cancellation so that callers sharing it are not failed by the first one.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(store payments.Store, tx payments.StoreTx, decider Decider, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if tx == nil {
		return nil, errors.New("store tx is required")
	}
	if decider == nil {
		return nil, errors.New("decider is required")
	}
	s := &Service{
		store:   store,
		tx:      tx,
		decider: decider,
		logger:  slog.Default(),
		tracer:  otel.Tracer("payguard/payments"),
		now:     time.Now,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process returns the one decision record for the request's (customer,
// idempotency key) pair, creating it at most once. Concurrent duplicates in
// this process share a single run and see it as a replay; duplicates racing
// from other processes lose the insert and replay the winner's record. A
// caller that gives up gets a timeout while the shared run finishes.
func (s *Service) Process(ctx context.Context, req payments.DecisionRequest) (*payments.Outcome, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveProcessLatency(time.Since(start)) }()

	ctx, span := s.tracer.Start(ctx, "payments.process")
	defer span.End()

	leader := false
	ch := s.inflight.DoChan(req.CustomerID+"\x00"+req.IdempotencyKey, func() (any, error) {
		leader = true
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.process(runCtx, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "decision timed out")
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "decide failed")
		s.metrics.IncrementRequest("error")
		return nil, res.Err
	}

	out := res.Val.(*payments.Outcome)
	if !leader {
		s.metrics.IncrementReplay(false)
		out = &payments.Outcome{Record: out.Record, Replayed: true}
	}
	span.SetAttributes(
		attribute.String("decision", string(out.Record.Decision)),
		attribute.Bool("replayed", out.Replayed),
	)
	s.metrics.IncrementRequest(string(out.Record.Decision))
	return out, nil
}

func (s *Service) process(ctx context.Context, req payments.DecisionRequest) (*payments.Outcome, error) {
	existing, err := s.store.FindRecord(ctx, req.CustomerID, req.IdempotencyKey)
	switch {
	case err == nil:
		s.metrics.IncrementReplay(false)
		s.logger.InfoContext(ctx, "idempotent request detected", "request_id", requestcontext.RequestID(ctx))
		return &payments.Outcome{Record: existing, Replayed: true}, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, s.internal(ctx, err, "failed to look up idempotency record")
	}

	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var record *payments.DecisionRecord
	debited := false
	err = s.tx.RunInTx(payments.WithTxCustomer(ctx, req.CustomerID), func(ctx context.Context, store payments.Store) error {
		exists, err := store.CustomerExists(ctx, req.PayeeID)
		if err != nil {
			return fmt.Errorf("check payee: %w", err)
		}
		if !exists {
			return dErrors.New(dErrors.CodeNotFound, "payee not found")
		}

		result := s.decider.Decide(ctx, req.CustomerID, req.Amount)
		if result.Decision == domain.DecisionAllow {
			if err := store.Debit(ctx, req.CustomerID, req.Amount); err != nil {
				return fmt.Errorf("debit: %w", err)
			}
			debited = true
		}

		record = &payments.DecisionRecord{
			RequestID: requestID,
			Decision:  result.Decision,
			Reasons:   result.Reasons,
			Trace:     result.Trace,
			Timestamp: s.now().UTC(),
		}
		if err := store.SaveRecord(ctx, req.CustomerID, req.IdempotencyKey, record); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrementTxFailure()
		return s.handleTxError(ctx, req, err)
	}

	if debited {
		s.metrics.IncrementDebit()
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, events.NewPaymentDecided(record.RequestID, record.Decision, req.CustomerID, req.Amount))
	}
	s.logger.InfoContext(ctx, "payment decision processed",
		"request_id", requestID,
		"customer_id", req.CustomerID,
		"decision", record.Decision,
	)
	return &payments.Outcome{Record: record}, nil
}

func (s *Service) handleTxError(ctx context.Context, req payments.DecisionRequest, err error) (*payments.Outcome, error) {
	if errors.Is(err, sentinel.ErrConflict) {
		// another writer committed this pair first
		winner, findErr := s.store.FindRecord(ctx, req.CustomerID, req.IdempotencyKey)
		if findErr != nil {
			return nil, s.internal(ctx, findErr, "failed to load concurrent decision")
		}
		s.metrics.IncrementReplay(true)
		return &payments.Outcome{Record: winner, Replayed: true}, nil
	}
	if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeTimeout) {
		s.logger.WarnContext(ctx, "payment transaction rolled back",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "payment transaction timed out",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "decision timed out")
	}
	return nil, s.internal(ctx, err, "failed to process payment")
}

func (s *Service) internal(ctx context.Context, err error, msg string) error {
	s.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
