// Package monitor watches open positions and marks the ones taken out by
// their take-profit or stop-loss triggers. It is the collaborator that flips
// is_tp_triggered / is_sl_triggered; the consumer core only reads them.
package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal-trader/internal/domain"
	"signal-trader/internal/exchange"
	"signal-trader/internal/observability"
	"signal-trader/internal/storage"
)

// DefaultInterval between sweeps.
const DefaultInterval = 1 * time.Minute

// PriceCache serves prices from a streaming source. ok=false falls back to
// REST.
type PriceCache interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// PriceSubscriber is an optional PriceCache capability. Caches that implement
// it are asked to start streaming symbols the sweep discovers, so positions
// opened after startup stop paying the REST fallback on every sweep.
type PriceSubscriber interface {
	Subscribe(symbol string) error
}

// Monitor periodically sweeps open positions.
type Monitor struct {
	store    storage.DealStore
	market   exchange.MarketData
	cache    PriceCache // optional
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics // optional
}

// New creates a Monitor. cache and metrics may be nil; interval <= 0 uses the
// default.
func New(store storage.DealStore, market exchange.MarketData, cache PriceCache, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		store:    store,
		market:   market,
		cache:    cache,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. One failed
// sweep never stops the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.Sweep(ctx); err != nil {
			m.logger.Error("position sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep processes all open positions once.
func (m *Monitor) Sweep(ctx context.Context) error {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.PositionsOpen.Set(float64(len(open)))
	}
	if len(open) == 0 {
		return nil
	}

	// one price fetch per symbol, positions often share symbols
	prices := make(map[string]decimal.Decimal)
	for _, deal := range open {
		price, ok := prices[deal.Symbol]
		if !ok {
			price, err = m.price(ctx, deal.Symbol)
			if err != nil {
				m.logger.Warn("skipping symbol, no price",
					zap.String("symbol", deal.Symbol), zap.Error(err))
				continue
			}
			prices[deal.Symbol] = price
		}
		m.check(ctx, deal, price)
	}
	return nil
}

func (m *Monitor) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m.cache != nil {
		if price, ok := m.cache.Price(symbol); ok {
			return price, nil
		}
		if sub, ok := m.cache.(PriceSubscriber); ok {
			if err := sub.Subscribe(symbol); err != nil {
				m.logger.Warn("price stream subscribe failed",
					zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
	return m.market.TickerPrice(ctx, symbol)
}

func (m *Monitor) check(ctx context.Context, deal *domain.Deal, price decimal.Decimal) {
	switch {
	case deal.StopLossPrice != nil && price.LessThanOrEqual(*deal.StopLossPrice):
		m.mark(ctx, deal, price, "stop_loss", m.store.MarkStopLossTriggered)

	case deal.TakeProfitPrice != nil && price.GreaterThanOrEqual(*deal.TakeProfitPrice):
		m.mark(ctx, deal, price, "take_profit", m.store.MarkTakeProfitTriggered)
	}
}

type markFunc func(ctx context.Context, id uuid.UUID, closePrice decimal.Decimal) error

func (m *Monitor) mark(ctx context.Context, deal *domain.Deal, price decimal.Decimal, kind string, fn markFunc) {
	if err := fn(ctx, deal.ID, price); err != nil {
		// ErrNotFound: a concurrent SELL already closed it. Fine.
		m.logger.Warn("marking trigger failed",
			zap.String("deal_id", deal.ID.String()), zap.String("kind", kind), zap.Error(err))
		return
	}

	m.logger.Info("position trigger hit",
		zap.String("deal_id", deal.ID.String()),
		zap.String("symbol", deal.Symbol),
		zap.String("source", deal.Source),
		zap.String("kind", kind),
		zap.String("price", price.String()))
	if m.metrics != nil {
		m.metrics.TriggeredPositions.WithLabelValues(kind).Inc()
	}
}
