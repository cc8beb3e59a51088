// Package stats computes aggregate statistics over recorded deals.
package stats

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/domain"
	"signal-trader/internal/storage"
)

// DealStats summarizes BUY deals created in a time window. Realized PnL is
// computed only for closed deals, where the close price is known; open and
// break-even deals contribute to the invested totals but not to the win/loss
// split.
type DealStats struct {
	Count         int
	TotalInvested decimal.Decimal
	AvgBuyPrice   decimal.Decimal
	MinBuyPrice   decimal.Decimal
	MaxBuyPrice   decimal.Decimal

	TakeProfitTriggered int
	StopLossTriggered   int
	ManuallyClosed      int

	TotalEarned  decimal.Decimal
	WinningDeals int
	LosingDeals  int
}

// Service computes deal statistics.
type Service struct {
	store storage.DealStore
}

// NewService creates a statistics service.
func NewService(store storage.DealStore) *Service {
	return &Service{store: store}
}

// Compute aggregates BUY deals created within [from, to). Empty symbol or
// source matches all values.
func (s *Service) Compute(ctx context.Context, from, to time.Time, symbol, source string) (*DealStats, error) {
	deals, err := s.store.ListCreatedBetween(ctx, from, to, symbol, source)
	if err != nil {
		return nil, err
	}

	stats := &DealStats{}
	priceSum := decimal.Zero

	for _, d := range deals {
		if d.Action != domain.ActionBuy {
			continue
		}
		stats.Count++

		invested := d.Quantity.Mul(d.ExecutionPrice)
		stats.TotalInvested = stats.TotalInvested.Add(invested)

		priceSum = priceSum.Add(d.ExecutionPrice)
		if stats.Count == 1 || d.ExecutionPrice.LessThan(stats.MinBuyPrice) {
			stats.MinBuyPrice = d.ExecutionPrice
		}
		if stats.Count == 1 || d.ExecutionPrice.GreaterThan(stats.MaxBuyPrice) {
			stats.MaxBuyPrice = d.ExecutionPrice
		}

		switch {
		case d.IsTPTriggered:
			stats.TakeProfitTriggered++
		case d.IsSLTriggered:
			stats.StopLossTriggered++
		case d.IsManuallyClosed:
			stats.ManuallyClosed++
		}

		if d.ClosePrice != nil {
			pnl := d.ClosePrice.Sub(d.ExecutionPrice).Mul(d.Quantity)
			stats.TotalEarned = stats.TotalEarned.Add(pnl)
			// Break-even deals count in neither bucket.
			switch {
			case pnl.IsPositive():
				stats.WinningDeals++
			case pnl.IsNegative():
				stats.LosingDeals++
			}
		}
	}

	if stats.Count > 0 {
		stats.AvgBuyPrice = priceSum.Div(decimal.NewFromInt(int64(stats.Count)))
	}
	return stats, nil
}
