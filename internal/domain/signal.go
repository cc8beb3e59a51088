package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the instruction carried by a trading signal.
type Action string

const (
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionNothing Action = "NOTHING"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionNothing:
		return true
	}
	return false
}

// UnmarshalJSON decodes the wire representation ("BUY", "SELL", "NOTHING").
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal action: %w", err)
	}
	v := Action(s)
	if !v.Valid() {
		return fmt.Errorf("unknown action %q", s)
	}
	*a = v
	return nil
}

// MarshalJSON encodes the wire representation.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// Signal is an immutable instruction received from the signal queue.
// Identity is not guaranteed unique: the same logical signal may be
// redelivered and must be absorbed by duplicate suppression downstream.
type Signal struct {
	Symbol        string           `json:"symbol"`
	Amount        decimal.Decimal  `json:"amount"`
	TakeProfitPct *decimal.Decimal `json:"take_profit,omitempty"`
	StopLossPct   *decimal.Decimal `json:"stop_loss,omitempty"`
	Action        Action           `json:"action"`
	Source        string           `json:"source"`
}

// Validate checks the inbound signal contract. Malformed signals must be
// dropped before reaching the reconciler.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: missing symbol")
	}
	if s.Source == "" {
		return fmt.Errorf("signal: missing source")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("signal: unknown action %q", s.Action)
	}
	if s.Action != ActionNothing && !s.Amount.IsPositive() {
		return fmt.Errorf("signal: amount must be positive, got %s", s.Amount)
	}
	if err := validatePct("take_profit", s.TakeProfitPct); err != nil {
		return err
	}
	if err := validatePct("stop_loss", s.StopLossPct); err != nil {
		return err
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

func validatePct(name string, pct *decimal.Decimal) error {
	if pct == nil {
		return nil
	}
	if !pct.IsPositive() || pct.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("signal: %s must be in (0, 100), got %s", name, pct)
	}
	return nil
}
