package domain

// PositionStatus is the transaction-scoped view of one (symbol, source)
// position. It is derived from the latest BUY deal inside the same database
// transaction that performs any subsequent write, never cached.
type PositionStatus struct {
	// HasOpenPosition is true when a BUY deal exists that is neither
	// manually closed nor TP/SL triggered.
	HasOpenPosition bool

	// OpenPosition is the open deal, nil when HasOpenPosition is false.
	OpenPosition *Deal

	// RecentlyClosed is true when a BUY deal for this pair closed within
	// the cooldown window, measured from the close event.
	RecentlyClosed bool
}

// CanOpenNew reports whether a new BUY may be opened for this pair.
func (s PositionStatus) CanOpenNew() bool {
	return !s.HasOpenPosition && !s.RecentlyClosed
}
