// Package main runs the signal consumer: it drains trading signals from the
// queue, reconciles them against open positions, places orders on Bybit and
// records the resulting deals in PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-trader/internal/config"
	"signal-trader/internal/exchange/bybit"
	"signal-trader/internal/logging"
	"signal-trader/internal/observability"
	"signal-trader/internal/processor"
	"signal-trader/internal/queue"
	"signal-trader/internal/recovery"
	"signal-trader/internal/risk"
	"signal-trader/internal/storage/migrations"
	pgstore "signal-trader/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", ".", "Directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("consumer exited", zap.Error(err))
	}
	logger.Info("consumer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}
	store := pgstore.NewDealStore(pool, cfg.Cooldown)

	client := newBybitClient(cfg)

	var volatility risk.VolatilityProvider
	if cfg.Risk.UseATR {
		volatility = risk.NewATRLevels(client)
	}
	policy := risk.Policy{
		DefaultStopLossPct:   decimal.NewFromFloat(cfg.Risk.DefaultStopLossPct),
		DefaultTakeProfitPct: decimal.NewFromFloat(cfg.Risk.DefaultTakeProfitPct),
		Volatility:           volatility,
	}

	metrics := observability.NewMetrics("")
	proc := processor.New(store, client, client, policy, logger, metrics)

	sweeper := recovery.NewSweeper(store, client, logger)
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = sweeper.Sweep(sweepCtx, cfg.Symbols)
	cancel()
	if err != nil {
		// An unreachable exchange at boot must not keep signals queued
		// forever; the sweep reruns on next restart.
		logger.Warn("startup sweep failed", zap.Error(err))
	}

	go serveMetrics(ctx, cfg.Metrics.Addr, logger)

	consumer := queue.NewConsumer(queue.Config{
		URL:             cfg.AMQP.URL,
		Queue:           cfg.AMQP.Queue,
		Prefetch:        cfg.AMQP.Prefetch,
		MaxRedeliveries: cfg.AMQP.MaxRedeliveries,
	}, proc, logger, metrics)

	logger.Info("consumer starting",
		zap.String("queue", cfg.AMQP.Queue),
		zap.Duration("cooldown", cfg.Cooldown),
		zap.Bool("testnet", cfg.Bybit.Testnet),
	)
	return consumer.Run(ctx)
}

func newBybitClient(cfg *config.Config) *bybit.Client {
	opts := []bybit.ClientOption{
		bybit.WithTimeout(cfg.Bybit.Timeout),
		bybit.WithMaxRetries(cfg.Bybit.MaxRetries),
	}
	switch {
	case cfg.Bybit.BaseURL != "":
		opts = append(opts, bybit.WithBaseURL(cfg.Bybit.BaseURL))
	case cfg.Bybit.Testnet:
		opts = append(opts, bybit.WithBaseURL(bybit.TestnetBaseURL))
	}
	return bybit.NewClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret, opts...)
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}
