// Package events is the in-process log of committed payment decisions.
// Delivery to subscribers is best effort; nothing here is durable.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"payguard/internal/domain"
)

const TypePaymentDecided = "payment.decided"

type PaymentDecided struct {
	RequestID  string          `json:"requestId"`
	Decision   domain.Decision `json:"decision"`
	CustomerID string          `json:"customerId"`
	Amount     float64         `json:"amount"`
}

type PaymentEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    PaymentDecided `json:"payload"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// NewPaymentDecided builds the event published after a decision commits.
func NewPaymentDecided(requestID string, decision domain.Decision, customerID string, amount float64) PaymentEvent {
	return PaymentEvent{
		Type: TypePaymentDecided,
		Payload: PaymentDecided{
			RequestID:  requestID,
			Decision:   decision,
			CustomerID: customerID,
			Amount:     amount,
		},
	}
}

type subscriber struct {
	ch     chan PaymentEvent
	closed bool
}

// Publisher appends events in publish order and fans them out to
// subscribers without blocking. A subscriber whose buffer is full misses
// the event.
type Publisher struct {
	mu        sync.Mutex
	events    []PaymentEvent
	head      int // oldest entry once a bounded log is full
	retention int
	subs      map[*subscriber]struct{}
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithRetention keeps only the newest n events in the log. n <= 0 keeps all.
func WithRetention(n int) Option {
	return func(p *Publisher) {
		p.retention = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records event. Call it only after the decision has committed.
func (p *Publisher) Publish(ctx context.Context, event PaymentEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}

	p.mu.Lock()
	if p.retention > 0 && len(p.events) == p.retention {
		p.events[p.head] = event
		p.head = (p.head + 1) % p.retention
	} else {
		p.events = append(p.events, event)
	}
	dropped := 0
	for sub := range p.subs {
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}
	p.mu.Unlock()

	p.metrics.IncPublished(event.Type)
	if dropped > 0 {
		p.metrics.AddDropped(dropped)
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "event published",
			"event_type", event.Type,
			"event_id", event.ID,
			"decision", event.Payload.Decision,
		)
	}
}

// Events returns a copy of the log, oldest first.
func (p *Publisher) Events() []PaymentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaymentEvent, len(p.events))
	n := copy(out, p.events[p.head:])
	copy(out[n:], p.events[:p.head])
	return out
}

// Subscribe registers a buffered listener for events published from now on.
// The returned cancel func unregisters it and closes the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan PaymentEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan PaymentEvent, buffer)}
	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(p.subs, sub)
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Close closes every subscriber channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		sub.closed = true
		close(sub.ch)
		delete(p.subs, sub)
	}
}
