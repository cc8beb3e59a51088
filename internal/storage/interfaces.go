package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal-trader/internal/domain"
)

// DealStore provides access to deal storage.
//
// The snapshot-then-write sequence for one signal must run inside a single
// transaction (InTx): two concurrent BUY signals for the same (symbol,
// source) must not both observe CanOpenNew and both insert an open position.
// The database transaction is the only correctness mechanism; in-process
// locks do not help since multiple service replicas run concurrently.
type DealStore interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx DealTx) error) error

	// ListOpen retrieves all open BUY deals, ordered by created_at ASC.
	ListOpen(ctx context.Context) ([]*domain.Deal, error)

	// GetByExchangeOrderID retrieves the deal recorded for an exchange
	// order. Returns ErrNotFound if no deal references the order.
	GetByExchangeOrderID(ctx context.Context, orderID string) (*domain.Deal, error)

	// ListCreatedBetween retrieves deals created within [from, to).
	// Empty symbol or source matches all values.
	ListCreatedBetween(ctx context.Context, from, to time.Time, symbol, source string) ([]*domain.Deal, error)

	// MarkTakeProfitTriggered closes an open BUY deal as taken out by its
	// take-profit level. Returns ErrNotFound if the deal is not open.
	MarkTakeProfitTriggered(ctx context.Context, id uuid.UUID, closePrice decimal.Decimal) error

	// MarkStopLossTriggered closes an open BUY deal as stopped out.
	// Returns ErrNotFound if the deal is not open.
	MarkStopLossTriggered(ctx context.Context, id uuid.UUID, closePrice decimal.Decimal) error
}

// DealTx is the transaction-scoped view of deal storage handed to InTx.
type DealTx interface {
	// Snapshot classifies the latest BUY deal for (symbol, source) into a
	// PositionStatus, locking the open row so that concurrent writers for
	// the same pair serialize on it.
	Snapshot(ctx context.Context, symbol, source string) (*domain.PositionStatus, error)

	// InsertBuy records a new open BUY deal. Returns ErrOpenPositionExists
	// if a concurrent insert already opened a position for the same
	// (symbol, source), and ErrDuplicateOrder if the exchange order id was
	// already recorded.
	InsertBuy(ctx context.Context, d *domain.Deal) error

	// CloseAndRecordSell flips the open BUY deal to manually closed and
	// inserts the SELL deal as one atomic unit. Returns ErrNotFound if
	// openDealID is no longer open.
	CloseAndRecordSell(ctx context.Context, openDealID uuid.UUID, sell *domain.Deal) error
}
