package bybit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTickerStream_HandleMessage(t *testing.T) {
	stream := NewTickerStream(MainnetPublicWSURL, []string{"BTCUSDT"}, nil, zap.NewNop())

	stream.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50123.5"}}`))

	price, ok := stream.Price("BTCUSDT")
	assert.True(t, ok)
	assert.True(t, decimal.RequireFromString("50123.5").Equal(price))

	_, ok = stream.Price("ETHUSDT")
	assert.False(t, ok)
}

func TestTickerStream_IgnoresNonTickerMessages(t *testing.T) {
	stream := NewTickerStream(MainnetPublicWSURL, nil, nil, zap.NewNop())

	stream.handleMessage([]byte(`{"op":"pong"}`))
	stream.handleMessage([]byte(`{"success":true,"op":"subscribe"}`))
	stream.handleMessage([]byte(`not json`))
	stream.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"garbage"}}`))

	_, ok := stream.Price("BTCUSDT")
	assert.False(t, ok)
}

func TestTickerStream_StalePriceNotServed(t *testing.T) {
	config := DefaultTickerStreamConfig()
	config.Staleness = 10 * time.Millisecond
	stream := NewTickerStream(MainnetPublicWSURL, nil, &config, zap.NewNop())

	stream.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"50000"}}`))

	_, ok := stream.Price("BTCUSDT")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = stream.Price("BTCUSDT")
	assert.False(t, ok)
}
