// Package risk derives stop-loss and take-profit price levels for new
// positions.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"signal-trader/internal/domain"
)

// Default percentage levels applied when neither the signal nor a volatility
// provider supplies one.
var (
	DefaultStopLossPct   = decimal.NewFromInt(2)
	DefaultTakeProfitPct = decimal.NewFromInt(3)
)

var hundred = decimal.NewFromInt(100)

// VolatilityProvider supplies dynamic price levels, typically derived from
// recent volatility. ok=false means the provider has nothing for this symbol
// and the policy falls through to static defaults.
type VolatilityProvider interface {
	Levels(ctx context.Context, symbol string, fillPrice decimal.Decimal) (stopLoss, takeProfit decimal.Decimal, ok bool, err error)
}

// Levels holds the derived prices for one BUY.
type Levels struct {
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

// Policy derives risk levels for a fill price. Preference order, per field:
// explicit signal percentage, volatility-derived price, static default
// percentage. The zero value uses the 2%/3% defaults and no volatility
// source.
//
// The policy is a plain value passed into the processor per call; it holds
// no market state of its own, which keeps the decision path testable.
type Policy struct {
	DefaultStopLossPct   decimal.Decimal
	DefaultTakeProfitPct decimal.Decimal

	// Volatility is optional; nil means static defaults only.
	Volatility VolatilityProvider
}

// NewPolicy creates a policy with the standard defaults.
func NewPolicy(volatility VolatilityProvider) Policy {
	return Policy{
		DefaultStopLossPct:   DefaultStopLossPct,
		DefaultTakeProfitPct: DefaultTakeProfitPct,
		Volatility:           volatility,
	}
}

// Derive computes stop-loss and take-profit prices for a BUY filled at
// fillPrice. SELL signals close positions outright at market and never reach
// here.
func (p Policy) Derive(ctx context.Context, signal domain.Signal, fillPrice decimal.Decimal) (Levels, error) {
	if !fillPrice.IsPositive() {
		return Levels{}, fmt.Errorf("derive risk levels: non-positive fill price %s", fillPrice)
	}

	slPct := p.DefaultStopLossPct
	if slPct.IsZero() {
		slPct = DefaultStopLossPct
	}
	tpPct := p.DefaultTakeProfitPct
	if tpPct.IsZero() {
		tpPct = DefaultTakeProfitPct
	}

	levels := Levels{
		StopLossPrice:   stopLossFromPct(fillPrice, slPct),
		TakeProfitPrice: takeProfitFromPct(fillPrice, tpPct),
	}

	// Dynamic levels override static defaults but not explicit signal
	// values.
	if p.Volatility != nil && (signal.StopLossPct == nil || signal.TakeProfitPct == nil) {
		sl, tp, ok, err := p.Volatility.Levels(ctx, signal.Symbol, fillPrice)
		if err != nil {
			return Levels{}, fmt.Errorf("volatility levels for %s: %w", signal.Symbol, err)
		}
		if ok {
			if sl.IsPositive() && sl.LessThan(fillPrice) {
				levels.StopLossPrice = sl
			}
			if tp.GreaterThan(fillPrice) {
				levels.TakeProfitPrice = tp
			}
		}
	}

	if signal.StopLossPct != nil {
		levels.StopLossPrice = stopLossFromPct(fillPrice, *signal.StopLossPct)
	}
	if signal.TakeProfitPct != nil {
		levels.TakeProfitPrice = takeProfitFromPct(fillPrice, *signal.TakeProfitPct)
	}

	return levels, nil
}

// stopLossFromPct places the stop below a BUY fill: fill * (1 - pct/100).
func stopLossFromPct(fillPrice, pct decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// takeProfitFromPct places the target above a BUY fill: fill * (1 + pct/100).
func takeProfitFromPct(fillPrice, pct decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}
