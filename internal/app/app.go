// Package app wires the service from configuration. The server and the
// evaluation harness both build through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"payguard/internal/agent/metrics"
	"payguard/internal/agent/orchestrator"
	"payguard/internal/agent/retry"
	"payguard/internal/agent/tools"
	"payguard/internal/events"
	"payguard/internal/events/kafka"
	jwttoken "payguard/internal/jwt_token"
	"payguard/internal/payments"
	paymenthandler "payguard/internal/payments/handler"
	paymentmetrics "payguard/internal/payments/metrics"
	paymentservice "payguard/internal/payments/service"
	paymentstore "payguard/internal/payments/store"
	"payguard/internal/platform/config"
	platformmetrics "payguard/internal/platform/metrics"
	"payguard/internal/platform/middleware"
	"payguard/internal/platform/postgres"
	platformredis "payguard/internal/platform/redis"
	ratelimitmetrics "payguard/internal/ratelimit/metrics"
	"payguard/internal/ratelimit/models"
	"payguard/internal/ratelimit/ports"
	ratelimitservice "payguard/internal/ratelimit/service"
	"payguard/internal/ratelimit/store/window"
	"payguard/internal/stats"
	httptransport "payguard/internal/transport/http"
)

const (
	forwarderBuffer = 1024
	sweepInterval   = time.Minute
)

type sweeper interface {
	Sweep(window time.Duration) int
}

// App holds the wired service and the resources it owns.
type App struct {
	Handler   http.Handler
	Publisher *events.Publisher
	Stats     *stats.Aggregator
	Limiter   *ratelimitservice.Service

	logger      *slog.Logger
	cfg         *config.Config
	memory      *paymentstore.InMemoryStore
	pg          *paymentstore.PostgresStore
	db          *sql.DB
	redis       *platformredis.Client
	forwarder   *kafka.Forwarder
	sweepers    []sweeper
	eventsFeed  <-chan events.PaymentEvent
	unsubscribe func()
}

// New builds every component. An empty DATABASE_URL keeps payments in
// memory, an empty REDIS_URL keeps limiter state in memory, and no Kafka
// brokers disables forwarding.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &App{logger: logger, cfg: cfg}

	var (
		store       payments.Store
		tx          payments.StoreTx
		balances    tools.BalanceReader
		cases       tools.CaseRecorder
		storeHealth httptransport.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		a.pg = paymentstore.NewPostgres(db)
		store, tx, balances, cases, storeHealth = a.pg, paymentstore.NewPostgresTx(db, cfg.TxTimeout), a.pg, a.pg, a.pg
		logger.Info("payments store ready", "backend", "postgres", "driver", cfg.DBDriver)
	} else {
		a.memory = paymentstore.NewInMemory(paymentstore.WithTxTimeout(cfg.TxTimeout))
		store, tx, balances, cases, storeHealth = a.memory, a.memory, a.memory, a.memory, a.memory
		logger.Info("payments store ready", "backend", "memory")
	}

	limiter, err := a.buildLimiter(ctx, reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Limiter = limiter

	agentMetrics := metrics.New(reg)
	registry, err := tools.NewRegistry(
		tools.NewBalanceTool(balances, logger),
		tools.NewRiskTool(cfg.RiskHighThreshold),
		tools.NewCaseTool(cases, logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	executor := retry.New(
		retry.WithPolicy(retry.Policy{
			MaxAttempts: cfg.ToolMaxAttempts,
			BaseDelay:   cfg.ToolBackoffBase,
			MaxDelay:    cfg.ToolBackoffMax,
		}),
		retry.WithLogger(logger),
		retry.WithMetrics(agentMetrics),
	)
	orch, err := orchestrator.New(registry, executor,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(agentMetrics),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	eventMetrics := events.NewMetrics(reg)
	a.Publisher = events.NewPublisher(
		events.WithLogger(logger),
		events.WithMetrics(eventMetrics),
		events.WithRetention(cfg.EventRetention),
	)
	if len(cfg.KafkaBrokers) > 0 {
		a.forwarder, err = kafka.New(cfg.KafkaBrokers, cfg.KafkaTopic,
			kafka.WithLogger(logger),
			kafka.WithMetrics(eventMetrics),
		)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.eventsFeed, a.unsubscribe = a.Publisher.Subscribe(forwarderBuffer)
	}

	svc, err := paymentservice.New(store, tx, orch,
		paymentservice.WithLogger(logger),
		paymentservice.WithMetrics(paymentmetrics.New(reg)),
		paymentservice.WithPublisher(a.Publisher),
		paymentservice.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build payment service: %w", err)
	}

	a.Stats = stats.New(cfg.LatencyWindow)

	var validator middleware.JWTValidator
	if cfg.JWTSecret != "" {
		signer, err := jwttoken.NewSigner(cfg.JWTSecret)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build token signer: %w", err)
		}
		validator = jwttoken.NewValidator(signer)
	}

	health := map[string]httptransport.HealthChecker{"store": storeHealth}
	if a.redis != nil {
		health["redis"] = a.redis
	}
	a.Handler = httptransport.NewRouter(httptransport.Config{
		APIKey:       cfg.APIKey,
		JWTValidator: validator,
		Logger:       logger,
		Metrics:      platformmetrics.New(reg),
		Gatherer:     reg,
		Protected: []httptransport.Registrar{
			paymenthandler.New(svc, limiter, a.Stats, logger, cfg.RequestTimeout),
		},
		Public: []httptransport.Registrar{
			stats.NewHandler(a.Stats),
		},
		Health: health,
	})
	return a, nil
}

func (a *App) buildLimiter(ctx context.Context, reg prometheus.Registerer) (*ratelimitservice.Service, error) {
	mode, err := models.ParseMode(a.cfg.RateLimitMode)
	if err != nil {
		return nil, err
	}

	var local ports.WindowStore
	switch mode {
	case models.ModeBucket:
		s := window.NewInMemoryTokenBucketStore()
		local = s
		a.sweepers = append(a.sweepers, s)
	default:
		s := window.NewInMemoryFixedWindowStore()
		local = s
		a.sweepers = append(a.sweepers, s)
	}

	opts := []ratelimitservice.Option{
		ratelimitservice.WithLogger(a.logger),
		ratelimitservice.WithMetrics(ratelimitmetrics.New(reg)),
		ratelimitservice.WithLimit(a.cfg.RateLimitMax, a.cfg.RateLimitWindow),
	}

	a.redis, err = platformredis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if a.redis == nil {
		a.logger.Info("rate limiter ready", "backend", "memory", "mode", mode)
		return ratelimitservice.New(local, opts...)
	}

	primary, err := window.NewRedisStore(a.redis.Client, mode)
	if err != nil {
		return nil, err
	}
	a.logger.Info("rate limiter ready", "backend", "redis", "mode", mode)
	// the in-process store answers while redis is unreachable
	return ratelimitservice.New(primary, append(opts, ratelimitservice.WithFallback(local))...)
}

// SeedCustomer creates or overwrites a customer balance.
func (a *App) SeedCustomer(ctx context.Context, customerID string, balance float64) error {
	if a.pg != nil {
		return a.pg.SetBalance(ctx, customerID, balance)
	}
	a.memory.SetBalance(customerID, balance)
	return nil
}

// Run drives the background work until ctx is done: forwarding events to
// Kafka when configured, and evicting idle in-memory limiter state.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.forwarder != nil {
		g.Go(func() error {
			if err := a.forwarder.EnsureTopic(ctx, 1, 1); err != nil {
				a.logger.WarnContext(ctx, "kafka topic check failed", "error", err)
			}
			return a.forwarder.Run(ctx, a.eventsFeed)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, s := range a.sweepers {
					if n := s.Sweep(a.cfg.RateLimitWindow); n > 0 {
						a.logger.DebugContext(ctx, "evicted idle rate limit state", "count", n)
					}
				}
			}
		}
	})

	return g.Wait()
}

// Close releases every owned connection. Safe to call on a partly built App.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
}
