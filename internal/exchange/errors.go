package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures for the retry policy.
type ErrorKind int

const (
	// KindTransient covers network faults, timeouts and rate limits. The
	// whole signal may be retried a bounded number of times.
	KindTransient ErrorKind = iota

	// KindRejected means the exchange refused the order. Terminal for the
	// signal; retrying blindly would not help.
	KindRejected
)

// Error is a classified gateway failure.
type Error struct {
	Kind ErrorKind
	Op   string // e.g. "place buy"
	Msg  string // exchange-provided detail, if any
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Kind == KindRejected {
		kind = "rejected"
	}
	if e.Err != nil {
		return fmt.Sprintf("exchange %s (%s): %v", e.Op, kind, e.Err)
	}
	return fmt.Sprintf("exchange %s (%s): %s", e.Op, kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable gateway failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Rejected builds a terminal gateway failure.
func Rejected(op, msg string) *Error {
	return &Error{Kind: KindRejected, Op: op, Msg: msg}
}

// IsTransient reports whether err is a transient gateway failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// IsRejected reports whether err is a terminal gateway rejection.
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRejected
}
