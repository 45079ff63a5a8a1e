package ledger

import "errors"

var (
	// ErrInsufficientCredits is returned when a reservation would push the
	// balance below zero. User-facing and recoverable via recharge.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrReservationNotFound is returned when finalize/release reference an
	// unknown reservation id.
	ErrReservationNotFound = errors.New("credit reservation not found")

	// ErrInvariantViolation is returned when a finalize/release would cross
	// terminal reservation states (e.g. finalizing a released hold). Never
	// swallowed; callers must surface it.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)
