// Package recovery reconciles exchange order history with persisted deals on
// startup. A process crash between a trade executing and its deal committing
// leaves an order on the exchange with no row in the database; the sweeper
// finds those orders and alerts so an operator can reconcile them manually.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"signal-trader/internal/exchange"
	"signal-trader/internal/storage"
)

// Sweeper cross-checks recent exchange orders against the deal store.
type Sweeper struct {
	store  storage.DealStore
	market exchange.MarketData
	logger *zap.Logger
}

// NewSweeper creates a startup sweeper.
func NewSweeper(store storage.DealStore, market exchange.MarketData, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, market: market, logger: logger}
}

// Sweep fetches recent order history for each symbol and reports filled
// orders that have no corresponding deal row. It never mutates the store:
// quantities and close semantics of an unrecorded order are unknowable here,
// so the sweep alerts instead of guessing.
func (s *Sweeper) Sweep(ctx context.Context, symbols []string) error {
	var unrecorded int
	for _, symbol := range symbols {
		orders, err := s.market.OrderHistory(ctx, symbol, "")
		if err != nil {
			return fmt.Errorf("fetch order history for %s: %w", symbol, err)
		}
		for _, order := range orders {
			if order.Status != "Filled" {
				continue
			}
			_, err := s.store.GetByExchangeOrderID(ctx, order.OrderID)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("look up order %s: %w", order.OrderID, err)
			}
			unrecorded++
			s.logger.Error("filled exchange order has no recorded deal, needs manual reconciliation",
				zap.String("symbol", symbol),
				zap.String("exchange_order_id", order.OrderID),
				zap.String("side", order.Side),
			)
		}
	}
	if unrecorded > 0 {
		s.logger.Warn("startup sweep found unrecorded orders", zap.Int("count", unrecorded))
	} else {
		s.logger.Info("startup sweep clean", zap.Int("symbols", len(symbols)))
	}
	return nil
}
