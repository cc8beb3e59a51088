package bybit

import (
	"context"

	"github.com/shopspring/decimal"

	"signal-trader/internal/exchange"
)

// Compile-time interface check.
var _ exchange.Gateway = (*Client)(nil)

type createOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	MarketUnit  string `json:"marketUnit,omitempty"`

	StopLoss    string `json:"stopLoss,omitempty"`
	SlTriggerBy string `json:"slTriggerBy,omitempty"`
	SlOrderType string `json:"slOrderType,omitempty"`

	TakeProfit  string `json:"takeProfit,omitempty"`
	TpTriggerBy string `json:"tpTriggerBy,omitempty"`
	TpOrderType string `json:"tpOrderType,omitempty"`
}

type createOrderResult struct {
	OrderID string `json:"orderId"`
}

// PlaceBuy buys usdAmount worth of symbol: a GTC limit order at the current
// ticker price with base quantity floored to the lot precision, TP/SL
// triggers attached. The limit price doubles as the recorded fill price, the
// same convention the rest of the system keys risk levels to.
func (c *Client) PlaceBuy(ctx context.Context, symbol string, usdAmount, stopLossPrice, takeProfitPrice decimal.Decimal) (exchange.BuyResult, error) {
	precision, err := c.lotPrecision(ctx, symbol)
	if err != nil {
		return exchange.BuyResult{}, err
	}

	price, err := c.TickerPrice(ctx, symbol)
	if err != nil {
		return exchange.BuyResult{}, err
	}

	qty := usdAmount.Div(price).RoundDown(precision)
	if !qty.IsPositive() {
		return exchange.BuyResult{}, exchange.Rejected("place buy",
			"amount "+usdAmount.String()+" below lot size at price "+price.String())
	}

	req := createOrderRequest{
		Category:    category,
		Symbol:      symbol,
		Side:        "Buy",
		OrderType:   "Limit",
		Qty:         qty.String(),
		Price:       price.String(),
		TimeInForce: "GTC",
	}
	if stopLossPrice.IsPositive() {
		req.StopLoss = stopLossPrice.String()
		req.SlTriggerBy = "LastPrice"
		req.SlOrderType = "Market"
	}
	if takeProfitPrice.IsPositive() {
		req.TakeProfit = takeProfitPrice.String()
		req.TpTriggerBy = "LastPrice"
		req.TpOrderType = "Market"
	}

	var result createOrderResult
	if err := c.post(ctx, "place buy", "/v5/order/create", req, &result); err != nil {
		return exchange.BuyResult{}, err
	}

	return exchange.BuyResult{
		OrderID:        result.OrderID,
		FilledQuantity: qty,
		FillPrice:      price,
	}, nil
}

// PlaceSell sells quantity of symbol at market. The ticker price read just
// before submission is reported as the fill price.
func (c *Client) PlaceSell(ctx context.Context, symbol string, quantity decimal.Decimal) (exchange.SellResult, error) {
	if !quantity.IsPositive() {
		return exchange.SellResult{}, exchange.Rejected("place sell", "non-positive quantity "+quantity.String())
	}

	price, err := c.TickerPrice(ctx, symbol)
	if err != nil {
		return exchange.SellResult{}, err
	}

	req := createOrderRequest{
		Category:   category,
		Symbol:     symbol,
		Side:       "Sell",
		OrderType:  "Market",
		Qty:        quantity.String(),
		MarketUnit: "baseCoin",
	}

	var result createOrderResult
	if err := c.post(ctx, "place sell", "/v5/order/create", req, &result); err != nil {
		return exchange.SellResult{}, err
	}

	return exchange.SellResult{
		OrderID:   result.OrderID,
		FillPrice: price,
	}, nil
}
