package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"signal-trader/internal/domain"
	"signal-trader/internal/storage"
)

const dealColumns = `
	id, created_at, exchange_order_id, symbol, source, action,
	quantity, execution_price, take_profit_price, stop_loss_price,
	is_tp_triggered, is_sl_triggered, is_manually_closed,
	closed_at, close_price
`

// DealStore implements storage.DealStore using PostgreSQL.
//
// Mutual exclusion between concurrent signals relies on the database: the
// snapshot locks the open row (FOR UPDATE) and the partial unique index
// ux_deals_open_position breaks the tie between two concurrent BUY inserts.
type DealStore struct {
	pool     *Pool
	cooldown time.Duration
}

// NewDealStore creates a new DealStore. cooldown is the window after a
// position closes during which reopening is disallowed.
func NewDealStore(pool *Pool, cooldown time.Duration) *DealStore {
	return &DealStore{pool: pool, cooldown: cooldown}
}

// Compile-time interface check.
var _ storage.DealStore = (*DealStore)(nil)

// InTx runs fn inside one transaction, committing on nil and rolling back
// otherwise.
func (s *DealStore) InTx(ctx context.Context, fn func(tx storage.DealTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&dealTx{tx: tx, cooldown: s.cooldown}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListOpen retrieves all open BUY deals, ordered by created_at ASC.
func (s *DealStore) ListOpen(ctx context.Context) ([]*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE action = 'BUY'
		  AND NOT is_manually_closed AND NOT is_tp_triggered AND NOT is_sl_triggered
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// GetByExchangeOrderID retrieves the deal recorded for an exchange order.
func (s *DealStore) GetByExchangeOrderID(ctx context.Context, orderID string) (*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE exchange_order_id = $1
	`

	row := s.pool.QueryRow(ctx, query, orderID)
	d, err := scanDeal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deal by exchange order id: %w", err)
	}
	return d, nil
}

// ListCreatedBetween retrieves deals created within [from, to). Empty symbol
// or source matches all values.
func (s *DealStore) ListCreatedBetween(ctx context.Context, from, to time.Time, symbol, source string) ([]*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR symbol = $3)
		  AND ($4 = '' OR source = $4)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, from, to, symbol, source)
	if err != nil {
		return nil, fmt.Errorf("list deals by time range: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// MarkTakeProfitTriggered closes an open BUY deal as taken out by its
// take-profit level.
func (s *DealStore) MarkTakeProfitTriggered(ctx context.Context, id uuid.UUID, closePrice decimal.Decimal) error {
	return s.markTriggered(ctx, "is_tp_triggered", id, closePrice)
}

// MarkStopLossTriggered closes an open BUY deal as stopped out.
func (s *DealStore) MarkStopLossTriggered(ctx context.Context, id uuid.UUID, closePrice decimal.Decimal) error {
	return s.markTriggered(ctx, "is_sl_triggered", id, closePrice)
}

func (s *DealStore) markTriggered(ctx context.Context, flag string, id uuid.UUID, closePrice decimal.Decimal) error {
	// flag is one of two compile-time constants, never user input.
	query := `
		UPDATE deals
		SET ` + flag + ` = true, closed_at = now(), close_price = $2
		WHERE id = $1
		  AND action = 'BUY'
		  AND NOT is_manually_closed AND NOT is_tp_triggered AND NOT is_sl_triggered
	`

	tag, err := s.pool.Exec(ctx, query, id, closePrice)
	if err != nil {
		return fmt.Errorf("mark %s: %w", flag, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// dealTx is the transaction-scoped view handed to InTx callbacks.
type dealTx struct {
	tx       pgx.Tx
	cooldown time.Duration
}

var _ storage.DealTx = (*dealTx)(nil)

// Snapshot classifies the latest BUY deal for (symbol, source). The open row
// is locked so concurrent SELLs for the same pair serialize; recently_closed
// is evaluated against the database clock so replicas cannot drift.
func (t *dealTx) Snapshot(ctx context.Context, symbol, source string) (*domain.PositionStatus, error) {
	query := `
		SELECT ` + dealColumns + `,
			(closed_at IS NOT NULL AND closed_at > now() - make_interval(secs => $3))
		FROM deals
		WHERE symbol = $1 AND source = $2 AND action = 'BUY'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`

	row := t.tx.QueryRow(ctx, query, symbol, source, t.cooldown.Seconds())

	var d domain.Deal
	var recentlyClosed bool
	err := row.Scan(
		&d.ID, &d.CreatedAt, &d.ExchangeOrderID, &d.Symbol, &d.Source, &d.Action,
		&d.Quantity, &d.ExecutionPrice, &d.TakeProfitPrice, &d.StopLossPrice,
		&d.IsTPTriggered, &d.IsSLTriggered, &d.IsManuallyClosed,
		&d.ClosedAt, &d.ClosePrice,
		&recentlyClosed,
	)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.PositionStatus{}, nil
		}
		return nil, fmt.Errorf("snapshot position: %w", err)
	}

	if d.IsOpen() {
		return &domain.PositionStatus{HasOpenPosition: true, OpenPosition: &d}, nil
	}
	return &domain.PositionStatus{RecentlyClosed: recentlyClosed}, nil
}

// InsertBuy records a new open BUY deal.
func (t *dealTx) InsertBuy(ctx context.Context, d *domain.Deal) error {
	if d == nil || d.Action != domain.ActionBuy {
		return storage.ErrInvalidInput
	}
	return insertDeal(ctx, t.tx, d)
}

// CloseAndRecordSell flips the open BUY to manually closed and inserts the
// SELL deal. Both happen in this transaction or neither does.
func (t *dealTx) CloseAndRecordSell(ctx context.Context, openDealID uuid.UUID, sell *domain.Deal) error {
	if sell == nil || sell.Action != domain.ActionSell {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE deals
		SET is_manually_closed = true, closed_at = now(), close_price = $2
		WHERE id = $1
		  AND action = 'BUY'
		  AND NOT is_manually_closed AND NOT is_tp_triggered AND NOT is_sl_triggered
	`

	tag, err := t.tx.Exec(ctx, query, openDealID, sell.ExecutionPrice)
	if err != nil {
		return fmt.Errorf("close open deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return insertDeal(ctx, t.tx, sell)
}

func insertDeal(ctx context.Context, tx pgx.Tx, d *domain.Deal) error {
	query := `
		INSERT INTO deals (
			id, exchange_order_id, symbol, source, action,
			quantity, execution_price, take_profit_price, stop_loss_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(ctx, query,
		d.ID, d.ExchangeOrderID, d.Symbol, d.Source, d.Action,
		d.Quantity, d.ExecutionPrice, d.TakeProfitPrice, d.StopLossPrice,
	)
	if err != nil {
		switch uniqueViolationConstraint(err) {
		case "ux_deals_open_position":
			return storage.ErrOpenPositionExists
		case "ux_deals_exchange_order_id":
			return storage.ErrDuplicateOrder
		}
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// scanDeal scans a single row into a Deal.
func scanDeal(row pgx.Row) (*domain.Deal, error) {
	var d domain.Deal

	err := row.Scan(
		&d.ID, &d.CreatedAt, &d.ExchangeOrderID, &d.Symbol, &d.Source, &d.Action,
		&d.Quantity, &d.ExecutionPrice, &d.TakeProfitPrice, &d.StopLossPrice,
		&d.IsTPTriggered, &d.IsSLTriggered, &d.IsManuallyClosed,
		&d.ClosedAt, &d.ClosePrice,
	)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// scanDeals scans multiple rows into a slice of Deal.
func scanDeals(rows pgx.Rows) ([]*domain.Deal, error) {
	var deals []*domain.Deal

	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal row: %w", err)
		}
		deals = append(deals, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deal rows: %w", err)
	}

	return deals, nil
}
