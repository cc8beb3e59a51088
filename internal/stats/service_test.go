package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trader/internal/domain"
	"signal-trader/internal/storage"
	"signal-trader/internal/storage/memory"
)

func insertBuy(t *testing.T, store *memory.DealStore, orderID, symbol string, price int64) *domain.Deal {
	t.Helper()
	d := &domain.Deal{
		ID:              domain.NewDealID(),
		ExchangeOrderID: orderID,
		Symbol:          symbol,
		Source:          "tradingview",
		Action:          domain.ActionBuy,
		Quantity:        decimal.RequireFromString("0.5"),
		ExecutionPrice:  decimal.NewFromInt(price),
	}
	require.NoError(t, store.InTx(context.Background(), func(tx storage.DealTx) error {
		return tx.InsertBuy(context.Background(), d)
	}))
	return d
}

func TestService_Compute(t *testing.T) {
	store := memory.NewDealStore(time.Hour)
	svc := NewService(store)
	ctx := context.Background()

	// Winner: bought at 100, take profit at 110 -> pnl +5 on 0.5 units.
	winner := insertBuy(t, store, "order-001", "BTCUSDT", 100)
	require.NoError(t, store.MarkTakeProfitTriggered(ctx, winner.ID, decimal.NewFromInt(110)))

	// Loser: bought at 200, stopped out at 190 -> pnl -5.
	loser := insertBuy(t, store, "order-002", "ETHUSDT", 200)
	require.NoError(t, store.MarkStopLossTriggered(ctx, loser.ID, decimal.NewFromInt(190)))

	// Still open: contributes to invested totals only.
	insertBuy(t, store, "order-003", "SOLUSDT", 60)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)

	stats, err := svc.Compute(ctx, from, to, "", "")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Count)
	assert.True(t, decimal.NewFromInt(180).Equal(stats.TotalInvested), "got %s", stats.TotalInvested)
	assert.True(t, decimal.NewFromInt(120).Equal(stats.AvgBuyPrice), "got %s", stats.AvgBuyPrice)
	assert.True(t, decimal.NewFromInt(60).Equal(stats.MinBuyPrice))
	assert.True(t, decimal.NewFromInt(200).Equal(stats.MaxBuyPrice))

	assert.Equal(t, 1, stats.TakeProfitTriggered)
	assert.Equal(t, 1, stats.StopLossTriggered)
	assert.Equal(t, 0, stats.ManuallyClosed)

	assert.True(t, stats.TotalEarned.IsZero(), "got %s", stats.TotalEarned)
	assert.Equal(t, 1, stats.WinningDeals)
	assert.Equal(t, 1, stats.LosingDeals)
}

func TestService_BreakEvenDealIsNeitherWinNorLoss(t *testing.T) {
	store := memory.NewDealStore(time.Hour)
	svc := NewService(store)
	ctx := context.Background()

	// Closed at exactly the entry price.
	deal := insertBuy(t, store, "order-001", "BTCUSDT", 100)
	require.NoError(t, store.MarkStopLossTriggered(ctx, deal.ID, decimal.NewFromInt(100)))

	stats, err := svc.Compute(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "", "")
	require.NoError(t, err)

	assert.True(t, stats.TotalEarned.IsZero(), "got %s", stats.TotalEarned)
	assert.Equal(t, 0, stats.WinningDeals)
	assert.Equal(t, 0, stats.LosingDeals)
}

func TestService_ComputeFiltersBySymbol(t *testing.T) {
	store := memory.NewDealStore(time.Hour)
	svc := NewService(store)
	ctx := context.Background()

	insertBuy(t, store, "order-001", "BTCUSDT", 100)
	insertBuy(t, store, "order-002", "ETHUSDT", 200)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)

	stats, err := svc.Compute(ctx, from, to, "BTCUSDT", "")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Count)
	assert.True(t, decimal.NewFromInt(100).Equal(stats.MinBuyPrice))
	assert.True(t, decimal.NewFromInt(100).Equal(stats.MaxBuyPrice))
}

func TestService_ComputeEmpty(t *testing.T) {
	store := memory.NewDealStore(time.Hour)
	svc := NewService(store)

	stats, err := svc.Compute(context.Background(), time.Now().Add(-time.Hour), time.Now(), "", "")
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Count)
	assert.True(t, stats.TotalInvested.IsZero())
	assert.True(t, stats.AvgBuyPrice.IsZero())
	assert.Equal(t, 0, stats.WinningDeals)
}

func TestService_CountsSellRowsOut(t *testing.T) {
	store := memory.NewDealStore(time.Hour)
	svc := NewService(store)
	ctx := context.Background()

	buy := insertBuy(t, store, "order-001", "BTCUSDT", 100)
	sell := &domain.Deal{
		ID:              domain.NewDealID(),
		ExchangeOrderID: "order-002",
		Symbol:          "BTCUSDT",
		Source:          "tradingview",
		Action:          domain.ActionSell,
		Quantity:        buy.Quantity,
		ExecutionPrice:  decimal.NewFromInt(104),
	}
	require.NoError(t, store.InTx(ctx, func(tx storage.DealTx) error {
		return tx.CloseAndRecordSell(ctx, buy.ID, sell)
	}))

	stats, err := svc.Compute(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "", "")
	require.NoError(t, err)

	// One BUY; the SELL row is the close record, not a position.
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.ManuallyClosed)
	assert.Equal(t, 1, stats.WinningDeals)
	// pnl = (104 - 100) * 0.5
	assert.True(t, decimal.NewFromInt(2).Equal(stats.TotalEarned), "got %s", stats.TotalEarned)
}
