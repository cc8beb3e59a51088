package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pct(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestSignal_Validate(t *testing.T) {
	valid := Signal{
		Symbol: "BTCUSDT",
		Amount: decimal.NewFromInt(100),
		Action: ActionBuy,
		Source: "tradingview",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"missing symbol", func(s *Signal) { s.Symbol = "" }},
		{"missing source", func(s *Signal) { s.Source = "" }},
		{"unknown action", func(s *Signal) { s.Action = "HOLD" }},
		{"zero amount", func(s *Signal) { s.Amount = decimal.Zero }},
		{"negative amount", func(s *Signal) { s.Amount = decimal.NewFromInt(-5) }},
		{"take profit zero", func(s *Signal) { s.TakeProfitPct = pct("0") }},
		{"take profit too large", func(s *Signal) { s.TakeProfitPct = pct("100") }},
		{"stop loss negative", func(s *Signal) { s.StopLossPct = pct("-1") }},
		{"stop loss too large", func(s *Signal) { s.StopLossPct = pct("150") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestSignal_ValidateNothingWithoutAmount(t *testing.T) {
	s := Signal{
		Symbol: "BTCUSDT",
		Action: ActionNothing,
		Source: "tradingview",
	}
	assert.NoError(t, s.Validate())
}

func TestSignal_UnmarshalJSON(t *testing.T) {
	raw := `{
		"symbol": "BTCUSDT",
		"amount": "100",
		"take_profit": "3.5",
		"stop_loss": "1.5",
		"action": "BUY",
		"source": "tradingview"
	}`

	var s Signal
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, ActionBuy, s.Action)
	assert.Equal(t, "tradingview", s.Source)
	assert.True(t, decimal.NewFromInt(100).Equal(s.Amount))
	require.NotNil(t, s.TakeProfitPct)
	assert.True(t, decimal.RequireFromString("3.5").Equal(*s.TakeProfitPct))
	require.NotNil(t, s.StopLossPct)
	assert.True(t, decimal.RequireFromString("1.5").Equal(*s.StopLossPct))
}

func TestSignal_UnmarshalNumericAmount(t *testing.T) {
	// Producers send amounts both as JSON strings and numbers.
	var s Signal
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"BTCUSDT","amount":100.5,"action":"SELL","source":"bot"}`), &s))
	assert.True(t, decimal.RequireFromString("100.5").Equal(s.Amount))
	assert.Equal(t, ActionSell, s.Action)
}

func TestAction_UnmarshalRejectsUnknown(t *testing.T) {
	var s Signal
	err := json.Unmarshal([]byte(`{"symbol":"BTCUSDT","amount":"1","action":"SHORT","source":"bot"}`), &s)
	assert.Error(t, err)
}

func TestAction_Valid(t *testing.T) {
	assert.True(t, ActionBuy.Valid())
	assert.True(t, ActionSell.Valid())
	assert.True(t, ActionNothing.Valid())
	assert.False(t, Action("buy").Valid())
	assert.False(t, Action("").Valid())
}
