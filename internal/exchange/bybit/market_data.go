package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"signal-trader/internal/exchange"
)

// Compile-time interface check.
var _ exchange.MarketData = (*Client)(nil)

// TickerPrice returns the last traded price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if err := c.get(ctx, "ticker price", "/v5/market/tickers", params, &result); err != nil {
		return decimal.Zero, err
	}
	if len(result.List) == 0 {
		return decimal.Zero, exchange.Rejected("ticker price", fmt.Sprintf("no ticker for %s", symbol))
	}

	price, err := decimal.NewFromString(result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, exchange.Transient("ticker price", fmt.Errorf("bad price %q: %w", result.List[0].LastPrice, err))
	}
	return price, nil
}

// Candles returns up to limit most recent bars for interval. Bybit returns
// kline rows as string arrays ordered newest first:
// [startTime, open, high, low, close, volume, turnover].
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	var result struct {
		List [][]string `json:"list"`
	}
	params := url.Values{
		"category": {category},
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, "candles", "/v5/market/kline", params, &result); err != nil {
		return nil, err
	}

	candles := make([]exchange.Candle, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 6 {
			return nil, exchange.Transient("candles", fmt.Errorf("short kline row: %d fields", len(row)))
		}
		candle, err := parseCandle(row)
		if err != nil {
			return nil, exchange.Transient("candles", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []string) (exchange.Candle, error) {
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return exchange.Candle{}, fmt.Errorf("parse kline timestamp %q: %w", row[0], err)
	}

	var fields [5]decimal.Decimal
	for i, raw := range row[1:6] {
		fields[i], err = decimal.NewFromString(raw)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("parse kline field %q: %w", raw, err)
		}
	}

	return exchange.Candle{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

// OrderHistory returns recent spot orders for symbol, optionally narrowed to
// one order id.
func (c *Client) OrderHistory(ctx context.Context, symbol, orderID string) ([]exchange.Order, error) {
	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			CreatedTime string `json:"createdTime"`
		} `json:"list"`
	}
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if orderID != "" {
		params.Set("orderId", orderID)
	}
	if err := c.get(ctx, "order history", "/v5/order/history", params, &result); err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(result.List))
	for _, row := range result.List {
		// Bybit leaves numeric fields empty on orders with no executions.
		qty, err := decimalOrZero(row.CumExecQty)
		if err != nil {
			return nil, exchange.Transient("order history", fmt.Errorf("parse cumExecQty for order %s: %w", row.OrderID, err))
		}
		avg, err := decimalOrZero(row.AvgPrice)
		if err != nil {
			return nil, exchange.Transient("order history", fmt.Errorf("parse avgPrice for order %s: %w", row.OrderID, err))
		}
		var created int64
		if row.CreatedTime != "" {
			created, err = strconv.ParseInt(row.CreatedTime, 10, 64)
			if err != nil {
				return nil, exchange.Transient("order history", fmt.Errorf("parse createdTime for order %s: %w", row.OrderID, err))
			}
		}
		orders = append(orders, exchange.Order{
			OrderID:   row.OrderID,
			Symbol:    row.Symbol,
			Side:      row.Side,
			Status:    row.OrderStatus,
			Quantity:  qty,
			AvgPrice:  avg,
			CreatedAt: created,
		})
	}
	return orders, nil
}

func decimalOrZero(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
