package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWagerNotFound = errors.New("wager not found")
	// ErrAlreadySettled signals that the wager is already in a terminal state.
	// Callers that retry blindly should treat it as a successful no-op.
	ErrAlreadySettled = errors.New("wager already settled")
	ErrNotYetDue      = errors.New("wager not yet due for resolution")
	// ErrInvalidMetric indicates a metric value outside the defined set. This
	// is a programming or data-corruption error, never a retry candidate.
	ErrInvalidMetric = errors.New("invalid metric")
	ErrInvalidWager  = errors.New("invalid wager parameters")

	// Stats provider failures. Unavailable and rate-limited are transient;
	// subject-not-found is permanent and may justify an admin cancel, but
	// never an automatic Lost.
	ErrStatsUnavailable     = errors.New("stats provider unavailable")
	ErrStatsSubjectNotFound = errors.New("stats subject not found")
	ErrStatsRateLimited     = errors.New("stats provider rate limited")

	// ErrLedgerWriteFailed is a transient chain/network failure. Retrying is
	// safe because settlement is idempotent at the ledger's check-and-set.
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	ErrLockHeld = errors.New("lock already held")
)

// NotYetDueError carries the remaining time until a wager becomes eligible.
// It matches ErrNotYetDue under errors.Is.
type NotYetDueError struct {
	WagerID   WagerID
	Remaining time.Duration
}

func (e *NotYetDueError) Error() string {
	return fmt.Sprintf("wager %d not yet due for resolution (%s remaining)", e.WagerID, e.Remaining)
}

// Is lets errors.Is(err, ErrNotYetDue) succeed.
func (e *NotYetDueError) Is(target error) bool {
	return target == ErrNotYetDue
}

// Retryable classifies an error from the resolution path. A periodic driver
// retries retryable failures on the next tick and gives up on the rest.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotYetDue),
		errors.Is(err, ErrStatsUnavailable),
		errors.Is(err, ErrStatsRateLimited),
		errors.Is(err, ErrLedgerWriteFailed),
		errors.Is(err, ErrLockHeld):
		return true
	default:
		return false
	}
}
