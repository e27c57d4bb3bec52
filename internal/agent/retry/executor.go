// Package retry runs one capability under a bounded attempt budget and
// records every attempt in the run's trace.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"payguard/internal/agent/metrics"
	"payguard/internal/agent/tools"
	"payguard/internal/agent/trace"
)

// Executor retries failed capability calls according to its Policy.
type Executor struct {
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  oteltrace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

func WithPolicy(p Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithTracer(t oteltrace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithSleep replaces the backoff wait, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		policy: DefaultPolicy(),
		logger: slog.Default(),
		tracer: otel.Tracer("payguard/agent/retry"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run invokes tool until it succeeds or the attempt budget is spent. Each
// attempt appends a Tool Call entry, each failure a Tool Error entry. The
// first attempt always runs; later attempts are skipped once ctx is done.
// Run always returns exactly one Result.
func (e *Executor) Run(ctx context.Context, tool tools.Tool, args tools.Args, tr *trace.Trace) tools.Result {
	name := tool.Name()
	maxAttempts := e.policy.attempts()

	made := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			break
		}
		made++
		tr.Append(trace.StepToolCall, fmt.Sprintf("Calling %s (Attempt %d)", name, attempt))

		res, err := e.attempt(ctx, tool, args, attempt)
		switch {
		case err != nil:
			tr.Append(trace.StepToolError, fmt.Sprintf("Exception in %s: %s", name, err.Error()))
		case res.Success:
			return res
		default:
			tr.Append(trace.StepToolError, fmt.Sprintf("Error in %s: %s", name, res.Error))
		}

		if attempt < maxAttempts {
			if err := e.sleep(ctx, e.policy.Backoff(attempt)); err != nil {
				break
			}
		}
	}

	e.metrics.IncrementExhausted(string(name))
	e.logger.WarnContext(ctx, "tool exhausted attempts",
		"tool", name,
		"attempts", made,
	)
	return tools.Fail(fmt.Sprintf("%s failed after %d attempts.", name, made))
}

func (e *Executor) attempt(ctx context.Context, tool tools.Tool, args tools.Args, attempt int) (res tools.Result, err error) {
	name := string(tool.Name())
	ctx, span := e.tracer.Start(ctx, "tool.attempt",
		oteltrace.WithAttributes(
			attribute.String("tool", name),
			attribute.Int("attempt", attempt),
		))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		outcome := "success"
		switch {
		case err != nil:
			outcome = "fault"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case !res.Success:
			outcome = "failure"
			span.SetStatus(codes.Error, res.Error)
		}
		e.metrics.ObserveAttempt(name, outcome, time.Since(start))
		span.End()
	}()

	return tool.Execute(ctx, args)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
