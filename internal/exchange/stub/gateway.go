// Package stub provides in-memory exchange doubles for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"signal-trader/internal/exchange"
)

// BuyCall records one PlaceBuy invocation.
type BuyCall struct {
	Symbol          string
	USDAmount       decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

// SellCall records one PlaceSell invocation.
type SellCall struct {
	Symbol   string
	Quantity decimal.Decimal
}

// Gateway is a scriptable exchange.Gateway. Prices default to FillPrice;
// per-call errors are injected via BuyErr/SellErr.
type Gateway struct {
	mu sync.Mutex

	// FillPrice is the price every order fills at.
	FillPrice decimal.Decimal
	// BuyErr, when set, fails the next PlaceBuy calls.
	BuyErr error
	// SellErr, when set, fails the next PlaceSell calls.
	SellErr error

	BuyCalls  []BuyCall
	SellCalls []SellCall

	orderSeq int
}

// NewGateway creates a stub gateway filling every order at fillPrice.
func NewGateway(fillPrice decimal.Decimal) *Gateway {
	return &Gateway{FillPrice: fillPrice}
}

var _ exchange.Gateway = (*Gateway)(nil)

// PlaceBuy fills usdAmount/FillPrice at FillPrice.
func (g *Gateway) PlaceBuy(_ context.Context, symbol string, usdAmount, stopLossPrice, takeProfitPrice decimal.Decimal) (exchange.BuyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.BuyCalls = append(g.BuyCalls, BuyCall{
		Symbol:          symbol,
		USDAmount:       usdAmount,
		StopLossPrice:   stopLossPrice,
		TakeProfitPrice: takeProfitPrice,
	})
	if g.BuyErr != nil {
		return exchange.BuyResult{}, g.BuyErr
	}

	g.orderSeq++
	return exchange.BuyResult{
		OrderID:        fmt.Sprintf("stub-buy-%d", g.orderSeq),
		FilledQuantity: usdAmount.Div(g.FillPrice),
		FillPrice:      g.FillPrice,
	}, nil
}

// PlaceSell fills quantity at FillPrice.
func (g *Gateway) PlaceSell(_ context.Context, symbol string, quantity decimal.Decimal) (exchange.SellResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.SellCalls = append(g.SellCalls, SellCall{Symbol: symbol, Quantity: quantity})
	if g.SellErr != nil {
		return exchange.SellResult{}, g.SellErr
	}

	g.orderSeq++
	return exchange.SellResult{
		OrderID:   fmt.Sprintf("stub-sell-%d", g.orderSeq),
		FillPrice: g.FillPrice,
	}, nil
}

// MarketData is a scriptable exchange.MarketData.
type MarketData struct {
	mu sync.Mutex

	// Prices maps symbol to ticker price.
	Prices map[string]decimal.Decimal
	// CandleData maps symbol to the bars Candles returns.
	CandleData map[string][]exchange.Candle
	// Orders is returned from OrderHistory.
	Orders []exchange.Order
	// Err, when set, fails every call.
	Err error
}

// NewMarketData creates an empty market data stub.
func NewMarketData() *MarketData {
	return &MarketData{
		Prices:     make(map[string]decimal.Decimal),
		CandleData: make(map[string][]exchange.Candle),
	}
}

var _ exchange.MarketData = (*MarketData)(nil)

// TickerPrice returns the scripted price for symbol.
func (m *MarketData) TickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return decimal.Zero, exchange.Rejected("ticker price", "no ticker for "+symbol)
	}
	return price, nil
}

// Candles returns the scripted bars for symbol.
func (m *MarketData) Candles(_ context.Context, symbol, _ string, limit int) ([]exchange.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	candles := m.CandleData[symbol]
	if len(candles) > limit {
		candles = candles[:limit]
	}
	return candles, nil
}

// OrderHistory returns the scripted orders.
func (m *MarketData) OrderHistory(_ context.Context, symbol, orderID string) ([]exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	var orders []exchange.Order
	for _, o := range m.Orders {
		if o.Symbol != symbol {
			continue
		}
		if orderID != "" && o.OrderID != orderID {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}
