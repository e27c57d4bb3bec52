// Package service is the per-customer admission gate in front of the
// decision pipeline.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"payguard/internal/ratelimit/metrics"
	"payguard/internal/ratelimit/models"
	"payguard/internal/ratelimit/ports"
	dErrors "payguard/pkg/domain-errors"
	"payguard/pkg/platform/circuit"
)

const (
	DefaultLimit  = 5
	DefaultWindow = time.Second
)

type Service struct {
	store    ports.WindowStore
	fallback ports.WindowStore
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

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

// WithLimit sets the per-customer allowance. Non-positive values keep the defaults.
func WithLimit(limit int, window time.Duration) Option {
	return func(s *Service) {
		if limit > 0 {
			s.limit = limit
		}
		if window > 0 {
			s.window = window
		}
	}
}

// WithFallback answers checks from store while the primary is failing.
func WithFallback(store ports.WindowStore) Option {
	return func(s *Service) {
		s.fallback = store
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

func New(store ports.WindowStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	svc := &Service{
		store:  store,
		limit:  DefaultLimit,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.fallback != nil && svc.breaker == nil {
		svc.breaker = circuit.New("ratelimit")
	}
	return svc, nil
}

// Check consumes one unit of the customer's allowance. Primary store errors
// are answered by the fallback store, if configured, with Degraded set. While
// the circuit is recovering the primary answers but the result stays Degraded.
func (s *Service) Check(ctx context.Context, customerID string) (*models.RateLimitResult, error) {
	key := models.CustomerKey(customerID)

	result, err := s.store.Allow(ctx, key, s.limit, s.window)
	if err != nil {
		s.metrics.IncrementStoreErrors()
		if s.fallback == nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
		}
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.metrics.SetCircuitOpen(true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "rate limit store unavailable, using fallback", "error", err)
			}
		}
		return s.checkFallback(ctx, key, customerID)
	}

	if s.breaker != nil {
		usePrimary, change := s.breaker.RecordSuccess()
		if change.Closed {
			s.metrics.SetCircuitOpen(false)
			if s.logger != nil {
				s.logger.InfoContext(ctx, "rate limit store recovered")
			}
		}
		if !usePrimary {
			// the primary already consumed a token; still flagged until closed
			result.Degraded = true
			s.metrics.IncrementDegraded()
		}
	}

	s.record(ctx, result, customerID)
	return result, nil
}

func (s *Service) checkFallback(ctx context.Context, key, customerID string) (*models.RateLimitResult, error) {
	result, err := s.fallback.Allow(ctx, key, s.limit, s.window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check fallback rate limit")
	}
	result.Degraded = true
	s.metrics.IncrementDegraded()
	s.record(ctx, result, customerID)
	return result, nil
}

func (s *Service) record(ctx context.Context, result *models.RateLimitResult, customerID string) {
	s.metrics.RecordCheck(result.Allowed)
	if result.Allowed {
		return
	}
	ports.LogAudit(ctx, s.logger, "rate_limit_exceeded",
		"customer_id", customerID,
		"limit", s.limit,
		"window_ms", s.window.Milliseconds(),
		"degraded", result.Degraded,
	)
}

// Admit reports whether the customer may proceed. A check that cannot be
// answered at all denies.
func (s *Service) Admit(ctx context.Context, customerID string) bool {
	result, err := s.Check(ctx, customerID)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
		}
		return false
	}
	return result.Allowed
}

// Reset clears a customer's allowance in the primary and fallback stores.
func (s *Service) Reset(ctx context.Context, customerID string) error {
	key := models.CustomerKey(customerID)
	if err := s.store.Reset(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit")
	}
	if s.fallback != nil {
		return s.fallback.Reset(ctx, key)
	}
	return nil
}

func (s *Service) Limit() (int, time.Duration) {
	return s.limit, s.window
}
