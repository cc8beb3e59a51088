package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal is the persisted record of one executed order: an opening BUY or the
// SELL that closes it. BUY rows are mutated exactly once, open -> closed,
// either manually (a matching SELL) or by the monitor marking a TP/SL
// trigger. Rows are never deleted.
type Deal struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	ExchangeOrderID string
	Symbol          string
	Source          string
	Action          Action

	Quantity       decimal.Decimal
	ExecutionPrice decimal.Decimal

	// Present only for BUY deals.
	TakeProfitPrice *decimal.Decimal
	StopLossPrice   *decimal.Decimal

	IsTPTriggered    bool
	IsSLTriggered    bool
	IsManuallyClosed bool

	// ClosedAt is set exactly when one of the close flags flips. The
	// cooldown window is measured from it, never from CreatedAt.
	ClosedAt   *time.Time
	ClosePrice *decimal.Decimal
}

// IsOpen reports whether this deal is an open BUY position.
func (d *Deal) IsOpen() bool {
	return d.Action == ActionBuy &&
		!d.IsManuallyClosed && !d.IsTPTriggered && !d.IsSLTriggered
}

// NewDealID generates a time-ordered (v7) deal identifier.
func NewDealID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 generation only fails if the entropy source does; fall
		// back to v4 rather than aborting a trade in flight.
		return uuid.New()
	}
	return id
}
