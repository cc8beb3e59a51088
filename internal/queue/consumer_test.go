package queue

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trader/internal/domain"
)

func TestDecodeSignal(t *testing.T) {
	body := []byte(`{
		"symbol": "BTCUSDT",
		"amount": "100",
		"take_profit": "3",
		"stop_loss": "2",
		"action": "BUY",
		"source": "tradingview"
	}`)

	signal, err := DecodeSignal(body)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", signal.Symbol)
	assert.Equal(t, domain.ActionBuy, signal.Action)
	assert.Equal(t, "tradingview", signal.Source)
	assert.True(t, decimal.NewFromInt(100).Equal(signal.Amount))
	require.NotNil(t, signal.TakeProfitPct)
	assert.True(t, decimal.NewFromInt(3).Equal(*signal.TakeProfitPct))
}

func TestDecodeSignal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "buy btc pls"},
		{"empty", ""},
		{"unknown action", `{"symbol":"BTCUSDT","amount":"1","action":"SHORT","source":"bot"}`},
		{"amount not numeric", `{"symbol":"BTCUSDT","amount":"lots","action":"BUY","source":"bot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, int64(0), retryCount(amqp.Delivery{}))
	assert.Equal(t, int64(0), retryCount(amqp.Delivery{Headers: amqp.Table{}}))
	assert.Equal(t, int64(3), retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: int64(3)}}))
	assert.Equal(t, int64(2), retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: int32(2)}}))
	assert.Equal(t, int64(1), retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: int(1)}}))
	// Unparseable header values restart the counter rather than dropping.
	assert.Equal(t, int64(0), retryCount(amqp.Delivery{Headers: amqp.Table{retryHeader: "seven"}}))
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int64
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
