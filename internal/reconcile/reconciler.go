// Package reconcile decides what to do with a trading signal given the
// current position snapshot. The decision is pure: no I/O, no clock, no
// stored state. Whoever calls it owns the transaction that makes the
// snapshot and the subsequent write atomic.
package reconcile

import "signal-trader/internal/domain"

// Kind enumerates the possible decisions.
type Kind int

const (
	// KindNoop means the signal requires no action (NOTHING).
	KindNoop Kind = iota

	// KindOpenBuy means a new BUY position may be opened.
	KindOpenBuy

	// KindCloseSell means the open position must be sold in full.
	KindCloseSell

	// KindReject means the signal is not actionable. Reason says why.
	KindReject
)

// Reason classifies business rejections. These are expected local decisions,
// never surfaced as system errors.
type Reason string

const (
	// ReasonDuplicateOrCooldown rejects a BUY when a position is already
	// open or closed within the cooldown window.
	ReasonDuplicateOrCooldown Reason = "duplicate_or_cooldown"

	// ReasonNoOpenPosition rejects a SELL with nothing to close, which
	// keeps stray sells from reaching the exchange.
	ReasonNoOpenPosition Reason = "no_open_position"
)

// Decision is the outcome of reconciling one signal.
type Decision struct {
	Kind   Kind
	Reason Reason

	// OpenDeal is the position to close. Set only for KindCloseSell.
	OpenDeal *domain.Deal
}

// Reconcile maps a signal and the transaction-scoped position snapshot to a
// decision.
//
// Transitions per (symbol, source):
//
//	BUY  + can open        -> OpenBuy
//	BUY  + open or cooling -> Reject(duplicate_or_cooldown)
//	SELL + open            -> CloseSell(open deal)
//	SELL + no open         -> Reject(no_open_position)
//	NOTHING                -> Noop
func Reconcile(signal domain.Signal, status domain.PositionStatus) Decision {
	switch signal.Action {
	case domain.ActionBuy:
		if !status.CanOpenNew() {
			return Decision{Kind: KindReject, Reason: ReasonDuplicateOrCooldown}
		}
		return Decision{Kind: KindOpenBuy}

	case domain.ActionSell:
		if !status.HasOpenPosition {
			return Decision{Kind: KindReject, Reason: ReasonNoOpenPosition}
		}
		return Decision{Kind: KindCloseSell, OpenDeal: status.OpenPosition}

	default:
		return Decision{Kind: KindNoop}
	}
}
