package processor

import "signal-trader/internal/reconcile"

// OutcomeKind classifies the result of processing one signal. The queue
// layer maps kinds to ack/nack decisions.
type OutcomeKind int

const (
	// OutcomeAccepted: the signal was executed (or was a NOTHING no-op).
	OutcomeAccepted OutcomeKind = iota

	// OutcomeInvalid: malformed signal. Drop, log, never retry.
	OutcomeInvalid

	// OutcomeRejected: expected business rejection. Acknowledge, no retry.
	OutcomeRejected

	// OutcomeFailedTransient: infrastructure fault before anything
	// irreversible happened. Safe to retry the whole signal.
	OutcomeFailedTransient

	// OutcomeFailedTerminal: the exchange refused the order. Terminal for
	// this signal.
	OutcomeFailedTerminal

	// OutcomeFatal: persistence failed after a successful exchange call.
	// Retrying would double-execute; an operator must reconcile manually.
	OutcomeFatal
)

// String returns the metrics label for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailedTransient:
		return "failed_transient"
	case OutcomeFailedTerminal:
		return "failed_terminal"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the result of processing one signal.
type Outcome struct {
	Kind   OutcomeKind
	Reason reconcile.Reason // set for OutcomeRejected
	Err    error            // set for the failure kinds
}

func accepted() Outcome {
	return Outcome{Kind: OutcomeAccepted}
}

func rejected(reason reconcile.Reason) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

func invalid(err error) Outcome {
	return Outcome{Kind: OutcomeInvalid, Err: err}
}
