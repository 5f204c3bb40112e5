package model

import "errors"

// Domain error kinds. Callers classify failures with errors.Is; every
// returned error wraps exactly one of these with a human-readable reason.
var (
	// ErrValidation: non-positive quantity/price, malformed slot or date.
	ErrValidation = errors.New("validation failed")

	// ErrWindowClosed: the day-ahead cutoff has passed for submit/amend.
	ErrWindowClosed = errors.New("bidding window closed")

	// ErrQuotaExceeded: per-(owner, date, hour) pending-bid limit reached.
	ErrQuotaExceeded = errors.New("bid quota exceeded")

	// ErrNotFound: entity missing, not owned by the caller, or in the
	// wrong state for the requested operation.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyCleared: the (trading_date, hour_slot) key was cleared
	// before; the idempotency guard refused a second run.
	ErrAlreadyCleared = errors.New("already cleared")

	// ErrPriceUnavailable: no reference price and no usable fallback.
	ErrPriceUnavailable = errors.New("price feed unavailable")
)
