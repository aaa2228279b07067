package market

import "errors"

var (
	ErrReservationConflict    = errors.New("listing no longer available")
	ErrPayoutAccountNotReady  = errors.New("seller payout account not ready")
	ErrAuthorizationDeclined  = errors.New("payment declined")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrNotFound        = errors.New("purchase not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrUnknownCategory = errors.New("unknown material category")
	ErrStaleState      = errors.New("state changed since it was read")
)
