package engine

import "errors"

var (
	// ErrPhaseViolation is returned when an operation is attempted outside
	// its required phase.
	ErrPhaseViolation = errors.New("operation not permitted in current phase")

	// ErrDuplicateRegistration is returned when a participant registers twice
	// in the same round.
	ErrDuplicateRegistration = errors.New("participant already registered this round")

	// ErrInvalidInput is returned for malformed arguments: empty batches,
	// zero scores, zero deposits, empty identifiers.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when a non-admin attempts an admin-only
	// operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotRegistered is returned when a score targets a participant not
	// registered in the current round.
	ErrNotRegistered = errors.New("participant not registered this round")

	// ErrNothingToClaim is returned when no unclaimed, scored, registered
	// round yields a payout for the participant.
	ErrNothingToClaim = errors.New("nothing to claim")

	// ErrInsufficientBalance is returned when a withdrawal or carry-over pool
	// inference requests more than the held balance.
	ErrInsufficientBalance = errors.New("insufficient held balance")

	// ErrTransferFailed wraps outbound transfer errors; all state changes of
	// the failed operation are rolled back.
	ErrTransferFailed = errors.New("transfer failed")
)
