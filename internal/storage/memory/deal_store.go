package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal-trader/internal/domain"
	"signal-trader/internal/storage"
)

// DealStore is an in-memory implementation of storage.DealStore. A single
// mutex serializes transactions, which gives the same effective isolation as
// the postgres store's row lock plus unique index. Intended for unit tests;
// it provides no durability.
type DealStore struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time

	data  map[uuid.UUID]*domain.Deal
	order []uuid.UUID // insertion order, stands in for created_at ordering
}

// NewDealStore creates a new in-memory deal store.
func NewDealStore(cooldown time.Duration) *DealStore {
	return &DealStore{
		cooldown: cooldown,
		now:      time.Now,
		data:     make(map[uuid.UUID]*domain.Deal),
	}
}

// Compile-time interface check.
var _ storage.DealStore = (*DealStore)(nil)

// SetClock overrides the store clock. Test helper.
func (s *DealStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InTx runs fn under the store mutex. On error all writes made by fn are
// rolled back.
func (s *DealStore) InTx(ctx context.Context, fn func(tx storage.DealTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := make(map[uuid.UUID]*domain.Deal, len(s.data))
	for id, d := range s.data {
		copy := *d
		backup[id] = &copy
	}
	backupOrder := append([]uuid.UUID(nil), s.order...)

	if err := fn(&dealTx{store: s}); err != nil {
		s.data = backup
		s.order = backupOrder
		return err
	}
	return nil
}

// ListOpen retrieves all open BUY deals in insertion order.
func (s *DealStore) ListOpen(_ context.Context) ([]*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deals []*domain.Deal
	for _, id := range s.order {
		if d := s.data[id]; d.IsOpen() {
			copy := *d
			deals = append(deals, &copy)
		}
	}
	return deals, nil
}

// GetByExchangeOrderID retrieves the deal recorded for an exchange order.
func (s *DealStore) GetByExchangeOrderID(_ context.Context, orderID string) (*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.data {
		if d.ExchangeOrderID == orderID {
			copy := *d
			return &copy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListCreatedBetween retrieves deals created within [from, to).
func (s *DealStore) ListCreatedBetween(_ context.Context, from, to time.Time, symbol, source string) ([]*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deals []*domain.Deal
	for _, id := range s.order {
		d := s.data[id]
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		if symbol != "" && d.Symbol != symbol {
			continue
		}
		if source != "" && d.Source != source {
			continue
		}
		copy := *d
		deals = append(deals, &copy)
	}
	sort.SliceStable(deals, func(i, j int) bool {
		return deals[i].CreatedAt.Before(deals[j].CreatedAt)
	})
	return deals, nil
}

// MarkTakeProfitTriggered closes an open BUY deal as taken out by its
// take-profit level.
func (s *DealStore) MarkTakeProfitTriggered(_ context.Context, id uuid.UUID, closePrice decimal.Decimal) error {
	return s.markTriggered(id, closePrice, func(d *domain.Deal) { d.IsTPTriggered = true })
}

// MarkStopLossTriggered closes an open BUY deal as stopped out.
func (s *DealStore) MarkStopLossTriggered(_ context.Context, id uuid.UUID, closePrice decimal.Decimal) error {
	return s.markTriggered(id, closePrice, func(d *domain.Deal) { d.IsSLTriggered = true })
}

func (s *DealStore) markTriggered(id uuid.UUID, closePrice decimal.Decimal, set func(*domain.Deal)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.data[id]
	if !ok || !d.IsOpen() {
		return storage.ErrNotFound
	}
	set(d)
	closedAt := s.now()
	d.ClosedAt = &closedAt
	d.ClosePrice = &closePrice
	return nil
}

// dealTx operates on the store directly; the store mutex is held for the
// whole transaction by InTx.
type dealTx struct {
	store *DealStore
}

var _ storage.DealTx = (*dealTx)(nil)

// Snapshot classifies the latest BUY deal for (symbol, source).
func (t *dealTx) Snapshot(_ context.Context, symbol, source string) (*domain.PositionStatus, error) {
	s := t.store

	var latest *domain.Deal
	for _, id := range s.order {
		d := s.data[id]
		if d.Symbol == symbol && d.Source == source && d.Action == domain.ActionBuy {
			latest = d
		}
	}
	if latest == nil {
		return &domain.PositionStatus{}, nil
	}

	if latest.IsOpen() {
		copy := *latest
		return &domain.PositionStatus{HasOpenPosition: true, OpenPosition: &copy}, nil
	}

	recentlyClosed := latest.ClosedAt != nil &&
		latest.ClosedAt.After(s.now().Add(-s.cooldown))
	return &domain.PositionStatus{RecentlyClosed: recentlyClosed}, nil
}

// InsertBuy records a new open BUY deal.
func (t *dealTx) InsertBuy(_ context.Context, d *domain.Deal) error {
	if d == nil || d.Action != domain.ActionBuy {
		return storage.ErrInvalidInput
	}
	return t.insert(d)
}

// CloseAndRecordSell flips the open BUY to manually closed and inserts the
// SELL deal.
func (t *dealTx) CloseAndRecordSell(_ context.Context, openDealID uuid.UUID, sell *domain.Deal) error {
	if sell == nil || sell.Action != domain.ActionSell {
		return storage.ErrInvalidInput
	}

	s := t.store
	open, ok := s.data[openDealID]
	if !ok || !open.IsOpen() {
		return storage.ErrNotFound
	}

	if err := t.insert(sell); err != nil {
		return err
	}

	open.IsManuallyClosed = true
	closedAt := s.now()
	open.ClosedAt = &closedAt
	closePrice := sell.ExecutionPrice
	open.ClosePrice = &closePrice
	return nil
}

func (t *dealTx) insert(d *domain.Deal) error {
	s := t.store

	for _, existing := range s.data {
		if existing.ExchangeOrderID == d.ExchangeOrderID {
			return storage.ErrDuplicateOrder
		}
		if d.Action == domain.ActionBuy && existing.IsOpen() &&
			existing.Symbol == d.Symbol && existing.Source == d.Source {
			return storage.ErrOpenPositionExists
		}
	}

	copy := *d
	if copy.CreatedAt.IsZero() {
		copy.CreatedAt = s.now()
	}
	s.data[copy.ID] = &copy
	s.order = append(s.order, copy.ID)
	return nil
}
