// Package exchange defines the narrow contract through which the core talks
// to the exchange. The core never imports a concrete client.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// BuyResult is the outcome of a successfully placed BUY order.
type BuyResult struct {
	OrderID        string
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
}

// SellResult is the outcome of a successfully placed SELL order.
type SellResult struct {
	OrderID   string
	FillPrice decimal.Decimal
}

// Gateway places orders on the exchange. Implementations must bound every
// call with a timeout; the core translates failures into processing outcomes
// and never retries in-line.
type Gateway interface {
	// PlaceBuy buys usdAmount worth of symbol at market, attaching the
	// given stop-loss and take-profit trigger prices.
	PlaceBuy(ctx context.Context, symbol string, usdAmount, stopLossPrice, takeProfitPrice decimal.Decimal) (BuyResult, error)

	// PlaceSell sells quantity of symbol at market.
	PlaceSell(ctx context.Context, symbol string, quantity decimal.Decimal) (SellResult, error)
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp int64 // ms
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Order is an entry from the exchange's own order history, used by the
// startup reconciliation sweep.
type Order struct {
	OrderID   string
	Symbol    string
	Side      string
	Status    string
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	CreatedAt int64 // ms
}

// MarketData reads public market state and account order history.
type MarketData interface {
	// TickerPrice returns the last traded price for symbol.
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Candles returns up to limit most recent bars for the interval
	// (exchange interval notation, e.g. "15" for 15 minutes).
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// OrderHistory returns recent orders for symbol. orderID narrows the
	// query to a single order when non-empty.
	OrderHistory(ctx context.Context, symbol, orderID string) ([]Order, error)
}
