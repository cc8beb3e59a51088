package storage

import "errors"

// Storage errors shared by all DealStore implementations.
var (
	// ErrNotFound is returned when a requested deal does not exist or is
	// no longer open (already closed by a concurrent writer).
	ErrNotFound = errors.New("deal not found")

	// ErrOpenPositionExists is returned when an insert would create a
	// second open BUY for the same (symbol, source). The caller lost the
	// open-position race and must treat the signal as a duplicate.
	ErrOpenPositionExists = errors.New("open position already exists for symbol and source")

	// ErrDuplicateOrder is returned when a deal with the same exchange
	// order id was already recorded. This signal was executed before,
	// typically via queue redelivery.
	ErrDuplicateOrder = errors.New("deal with this exchange order id already recorded")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
