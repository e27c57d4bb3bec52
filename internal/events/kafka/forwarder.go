// Package kafka mirrors published payment events onto a Kafka topic. The
// mirror is at most once: a failed produce is logged and counted, never
// retried, and never affects the decision that produced the event.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"payguard/internal/events"
)

const defaultFlushTimeout = 5 * time.Second

type Forwarder struct {
	client       *kgo.Client
	topic        string
	logger       *slog.Logger
	metrics      *events.Metrics
	flushTimeout time.Duration
}

type Option func(*Forwarder)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

func WithMetrics(m *events.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

func WithFlushTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.flushTimeout = d
		}
	}
}

func New(brokers []string, topic string, opts ...Option) (*Forwarder, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	f := &Forwarder{
		client:       client,
		topic:        topic,
		logger:       slog.Default(),
		flushTimeout: defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (f *Forwarder) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(f.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, f.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", f.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Run forwards events until ctx is done or the channel closes, then flushes
// what is still buffered.
func (f *Forwarder) Run(ctx context.Context, in <-chan events.PaymentEvent) error {
	defer f.flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.PaymentEvent) {
	value, err := json.Marshal(ev)
	if err != nil {
		f.metrics.IncForwarded(false)
		f.logger.ErrorContext(ctx, "failed to encode event", "event_id", ev.ID, "error", err)
		return
	}
	record := &kgo.Record{
		Key:   []byte(ev.Payload.CustomerID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	// The produce outlives the request that published the event.
	f.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			f.metrics.IncForwarded(false)
			f.logger.Warn("failed to forward event", "event_id", ev.ID, "topic", r.Topic, "error", err)
			return
		}
		f.metrics.IncForwarded(true)
	})
}

func (f *Forwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.flushTimeout)
	defer cancel()
	if err := f.client.Flush(ctx); err != nil {
		f.logger.Warn("failed to flush forwarded events", "error", err)
	}
}

func (f *Forwarder) Ping(ctx context.Context) error {
	return f.client.Ping(ctx)
}

func (f *Forwarder) Close() {
	f.client.Close()
}
