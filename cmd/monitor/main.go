// Package main runs the position monitor: it watches open positions and
// marks take-profit and stop-loss triggers when the market crosses their
// levels. Prices come from the public ticker stream when enabled, with REST
// as the fallback for symbols the stream has not seen recently.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"signal-trader/internal/config"
	"signal-trader/internal/exchange/bybit"
	"signal-trader/internal/logging"
	"signal-trader/internal/monitor"
	"signal-trader/internal/observability"
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
		logger.Fatal("monitor exited", zap.Error(err))
	}
	logger.Info("monitor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := pgstore.NewDealStore(pool, cfg.Cooldown)
	client := bybit.NewClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret,
		bybit.WithTimeout(cfg.Bybit.Timeout),
		bybit.WithMaxRetries(cfg.Bybit.MaxRetries),
	)

	var cache monitor.PriceCache
	if cfg.Monitor.UseStream {
		// Satisfies monitor.PriceSubscriber too, so the sweep can subscribe
		// symbols opened after startup.
		stream := bybit.NewTickerStream(bybit.MainnetPublicWSURL, cfg.Symbols, nil, logger)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("ticker stream stopped", zap.Error(err))
			}
		}()
		cache = stream
	}

	metrics := observability.NewMetrics("")
	mon := monitor.New(store, client, cache, cfg.Monitor.Interval, logger, metrics)

	logger.Info("monitor starting",
		zap.Duration("interval", cfg.Monitor.Interval),
		zap.Bool("stream", cfg.Monitor.UseStream),
	)
	return mon.Run(ctx)
}
