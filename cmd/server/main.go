package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"payguard/internal/app"
	"payguard/internal/platform/config"
	"payguard/internal/platform/httpserver"
	"payguard/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies from the environment and runs the HTTP server and
// background workers until SIGINT or SIGTERM.
func main() {
	envFile := pflag.String("env-file", "", "optional .env or YAML file exported before reading PAYGUARD_* variables")
	pflag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "payguard: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogRedactFields...)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, log, reg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	srv := httpserver.New(cfg.Addr, a.Handler, cfg.RequestTimeout+5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting payguard", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
