// Package processor orchestrates one trading signal end to end: snapshot,
// reconcile, exchange call, persist, all bound to a single database
// transaction so that a crash or redelivery cannot corrupt position state.
package processor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signal-trader/internal/domain"
	"signal-trader/internal/exchange"
	"signal-trader/internal/observability"
	"signal-trader/internal/reconcile"
	"signal-trader/internal/risk"
	"signal-trader/internal/storage"
)

// Processor converts signals into exchange orders and durable deal records.
type Processor struct {
	store   storage.DealStore
	gateway exchange.Gateway
	market  exchange.MarketData
	policy  risk.Policy
	logger  *zap.Logger
	metrics *observability.Metrics // optional
}

// New creates a Processor. metrics may be nil.
func New(store storage.DealStore, gateway exchange.Gateway, market exchange.MarketData, policy risk.Policy, logger *zap.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:   store,
		gateway: gateway,
		market:  market,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Process handles one signal. It never panics and never returns an error:
// every failure mode is folded into the Outcome so the queue layer owns the
// single retry decision.
func (p *Processor) Process(ctx context.Context, signal domain.Signal) Outcome {
	start := time.Now()
	outcome := p.process(ctx, signal)
	p.observe(signal, outcome, time.Since(start))
	return outcome
}

func (p *Processor) process(ctx context.Context, signal domain.Signal) Outcome {
	if err := signal.Validate(); err != nil {
		p.logger.Warn("dropping malformed signal", zap.Error(err))
		return invalid(err)
	}

	// NOTHING is always a no-op; no transaction needed.
	if signal.Action == domain.ActionNothing {
		return accepted()
	}

	var (
		outcome     Outcome
		tradePlaced bool
	)
	err := p.store.InTx(ctx, func(tx storage.DealTx) error {
		status, err := tx.Snapshot(ctx, signal.Symbol, signal.Source)
		if err != nil {
			return err
		}

		decision := reconcile.Reconcile(signal, *status)
		switch decision.Kind {
		case reconcile.KindReject:
			p.logger.Info("signal rejected",
				zap.String("symbol", signal.Symbol),
				zap.String("source", signal.Source),
				zap.String("action", string(signal.Action)),
				zap.String("reason", string(decision.Reason)))
			outcome = rejected(decision.Reason)
			return nil

		case reconcile.KindNoop:
			outcome = accepted()
			return nil

		case reconcile.KindOpenBuy:
			return p.openBuy(ctx, tx, signal, &tradePlaced)

		case reconcile.KindCloseSell:
			return p.closeSell(ctx, tx, signal, decision.OpenDeal, &tradePlaced)
		}
		return nil
	})
	if err != nil {
		return p.mapError(signal, err, tradePlaced)
	}
	if outcome.Kind == OutcomeAccepted || outcome.Kind == OutcomeRejected {
		return outcome
	}
	return accepted()
}

// openBuy derives risk levels from the current price, places the BUY and
// records the deal. The insert is the very next step after the gateway call:
// nothing else fallible may run between them.
func (p *Processor) openBuy(ctx context.Context, tx storage.DealTx, signal domain.Signal, tradePlaced *bool) error {
	refPrice, err := p.market.TickerPrice(ctx, signal.Symbol)
	if err != nil {
		return err
	}

	levels, err := p.policy.Derive(ctx, signal, refPrice)
	if err != nil {
		return err
	}

	res, err := observeOp(p, "place_buy", func() (exchange.BuyResult, error) {
		return p.gateway.PlaceBuy(ctx, signal.Symbol, signal.Amount, levels.StopLossPrice, levels.TakeProfitPrice)
	})
	if err != nil {
		return err
	}
	*tradePlaced = true

	deal := &domain.Deal{
		ID:              domain.NewDealID(),
		ExchangeOrderID: res.OrderID,
		Symbol:          signal.Symbol,
		Source:          signal.Source,
		Action:          domain.ActionBuy,
		Quantity:        res.FilledQuantity,
		ExecutionPrice:  res.FillPrice,
		TakeProfitPrice: &levels.TakeProfitPrice,
		StopLossPrice:   &levels.StopLossPrice,
	}
	if err := tx.InsertBuy(ctx, deal); err != nil {
		return err
	}

	p.logger.Info("position opened",
		zap.String("symbol", signal.Symbol),
		zap.String("source", signal.Source),
		zap.String("order_id", res.OrderID),
		zap.String("quantity", res.FilledQuantity.String()),
		zap.String("price", res.FillPrice.String()),
		zap.String("stop_loss", levels.StopLossPrice.String()),
		zap.String("take_profit", levels.TakeProfitPrice.String()))
	return nil
}

// closeSell sells the full open quantity at market, then closes the BUY and
// records the SELL in the same commit.
func (p *Processor) closeSell(ctx context.Context, tx storage.DealTx, signal domain.Signal, open *domain.Deal, tradePlaced *bool) error {
	res, err := observeOp(p, "place_sell", func() (exchange.SellResult, error) {
		return p.gateway.PlaceSell(ctx, signal.Symbol, open.Quantity)
	})
	if err != nil {
		return err
	}
	*tradePlaced = true

	sell := &domain.Deal{
		ID:              domain.NewDealID(),
		ExchangeOrderID: res.OrderID,
		Symbol:          signal.Symbol,
		Source:          signal.Source,
		Action:          domain.ActionSell,
		Quantity:        open.Quantity,
		ExecutionPrice:  res.FillPrice,
	}
	if err := tx.CloseAndRecordSell(ctx, open.ID, sell); err != nil {
		return err
	}

	p.logger.Info("position closed",
		zap.String("symbol", signal.Symbol),
		zap.String("source", signal.Source),
		zap.String("open_deal_id", open.ID.String()),
		zap.String("order_id", res.OrderID),
		zap.String("quantity", open.Quantity.String()),
		zap.String("price", res.FillPrice.String()))
	return nil
}

// mapError folds a transaction error into the outcome taxonomy. tradePlaced
// distinguishes retryable pre-trade failures from post-trade ones that must
// never be retried.
func (p *Processor) mapError(signal domain.Signal, err error, tradePlaced bool) Outcome {
	switch {
	case errors.Is(err, storage.ErrOpenPositionExists):
		// Lost the open-position race; exactly one concurrent BUY wins.
		// The exchange order this attempt placed, if any, is picked up
		// by the reconciliation sweep.
		if tradePlaced {
			p.logger.Warn("lost open-position race after placing order; sweep will reconcile",
				zap.String("symbol", signal.Symbol), zap.String("source", signal.Source))
		}
		return rejected(reconcile.ReasonDuplicateOrCooldown)

	case errors.Is(err, storage.ErrDuplicateOrder):
		// This exact signal was executed before (queue redelivery).
		return rejected(reconcile.ReasonDuplicateOrCooldown)

	case exchange.IsTransient(err):
		return Outcome{Kind: OutcomeFailedTransient, Err: err}

	case exchange.IsRejected(err):
		return Outcome{Kind: OutcomeFailedTerminal, Err: err}

	case tradePlaced:
		// The exchange order went through but the deal was not recorded.
		// Retrying would double-execute; escalate instead.
		if p.metrics != nil {
			p.metrics.FatalPostTrade.Inc()
		}
		p.logger.DPanic("POST-TRADE PERSISTENCE FAILURE: exchange order placed but not recorded, manual reconciliation required",
			zap.String("symbol", signal.Symbol),
			zap.String("source", signal.Source),
			zap.String("action", string(signal.Action)),
			zap.Error(err))
		return Outcome{Kind: OutcomeFatal, Err: err}

	default:
		// Persistence failure before any exchange call; safe to retry.
		return Outcome{Kind: OutcomeFailedTransient, Err: err}
	}
}

func (p *Processor) observe(signal domain.Signal, outcome Outcome, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.SignalsProcessed.WithLabelValues(string(signal.Action), outcome.Kind.String()).Inc()
	if outcome.Kind == OutcomeRejected {
		p.metrics.Rejections.WithLabelValues(string(outcome.Reason)).Inc()
	}
	p.metrics.ProcessDuration.Observe(elapsed.Seconds())
}

func observeOp[T any](p *Processor, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := fn()
	if p.metrics != nil {
		p.metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			kind := "transient"
			if exchange.IsRejected(err) {
				kind = "rejected"
			}
			p.metrics.GatewayErrors.WithLabelValues(op, kind).Inc()
		}
	}
	return res, err
}
