package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"signal-trader/internal/exchange"
)

// ATR defaults.
const (
	DefaultATRPeriod   = 14
	DefaultATRInterval = "15" // 15-minute bars
)

var (
	DefaultATRStopLossMult   = decimal.NewFromFloat(1.5)
	DefaultATRTakeProfitMult = decimal.NewFromFloat(2.5)
)

// ATRLevels derives price levels from the average true range of recent
// candles: stop = fill - atr*StopLossMult, target = fill + atr*TakeProfitMult.
type ATRLevels struct {
	Market         exchange.MarketData
	Period         int
	Interval       string
	StopLossMult   decimal.Decimal
	TakeProfitMult decimal.Decimal
}

// NewATRLevels creates an ATR provider with the standard parameters.
func NewATRLevels(market exchange.MarketData) *ATRLevels {
	return &ATRLevels{
		Market:         market,
		Period:         DefaultATRPeriod,
		Interval:       DefaultATRInterval,
		StopLossMult:   DefaultATRStopLossMult,
		TakeProfitMult: DefaultATRTakeProfitMult,
	}
}

var _ VolatilityProvider = (*ATRLevels)(nil)

// Levels implements VolatilityProvider. ok=false when there is not enough
// candle history or the derived stop would not sit below the fill.
func (a *ATRLevels) Levels(ctx context.Context, symbol string, fillPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool, error) {
	candles, err := a.Market.Candles(ctx, symbol, a.Interval, a.Period+1)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) < a.Period+1 {
		return decimal.Zero, decimal.Zero, false, nil
	}

	atr := AverageTrueRange(candles, a.Period)
	if !atr.IsPositive() {
		return decimal.Zero, decimal.Zero, false, nil
	}

	sl := fillPrice.Sub(atr.Mul(a.StopLossMult))
	tp := fillPrice.Add(atr.Mul(a.TakeProfitMult))
	if !sl.IsPositive() || !sl.LessThan(fillPrice) {
		return decimal.Zero, decimal.Zero, false, nil
	}
	return sl, tp, true, nil
}

// AverageTrueRange computes a simple ATR over the last period bars. Candles
// are expected newest first, the order the exchange returns them in.
func AverageTrueRange(candles []exchange.Candle, period int) decimal.Decimal {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero
	}

	sum := decimal.Zero
	// candles[i] is newer than candles[i+1]; the previous close for bar i
	// is candles[i+1].Close.
	for i := 0; i < period; i++ {
		cur, prev := candles[i], candles[i+1]

		tr := cur.High.Sub(cur.Low)
		if hc := cur.High.Sub(prev.Close).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := cur.Low.Sub(prev.Close).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
