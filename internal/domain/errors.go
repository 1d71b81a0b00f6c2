package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInsufficientCredit      = errors.New("insufficient credit")
	ErrCreditAccountBlocked    = errors.New("credit account is inactive or paused")
	ErrAccountExists           = errors.New("credit account already exists for this pair")
	ErrInvalidReservationState = errors.New("reservation is not in a state that permits this operation")
	ErrInvalidTransition       = errors.New("illegal order state transition")
	ErrMissingPrecondition     = errors.New("required prior state missing from order history")
	ErrAlreadyAccepted         = errors.New("order already accepted by another candidate")
	ErrRoutingClosed           = errors.New("routing is no longer accepting responses")
	ErrUnknownCandidate        = errors.New("candidate was not part of this broadcast")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrReplayDetected          = errors.New("request replay detected")
	ErrInvalidSignature        = errors.New("invalid request signature")
	ErrStaleTimestamp          = errors.New("request timestamp outside accepted window")
	ErrLockTimeout             = errors.New("lock wait timeout")
	ErrTransactionTimeout      = errors.New("transaction execution timeout")
	ErrSerializationFailure    = errors.New("serialization failure")
	ErrLedgerDivergence        = errors.New("cached balance diverges from ledger replay")
	ErrInvalidRequest          = errors.New("invalid request")
)

// InsufficientCreditError carries the shortfall so callers can tell the payer
// exactly how much headroom is missing.
type InsufficientCreditError struct {
	Shortfall decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: short by %s", e.Shortfall)
}

func (e *InsufficientCreditError) Is(target error) bool { return target == ErrInsufficientCredit }

// InvalidTransitionError reports a rejected edge together with the edges that
// would have been legal from the same state.
type InvalidTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("illegal transition %s -> %s (allowed: %s)", e.From, e.To, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// MissingPreconditionError rejects a transition whose structural precondition
// is absent from the order's event history.
type MissingPreconditionError struct {
	Required OrderStatus
}

func (e *MissingPreconditionError) Error() string {
	return fmt.Sprintf("order history never reached required state %s", e.Required)
}

func (e *MissingPreconditionError) Is(target error) bool { return target == ErrMissingPrecondition }

// AlreadyAcceptedError is the expected outcome for every acceptance attempt
// that loses the race. Winner is looked up after the conditional update
// reports zero rows, never guessed.
type AlreadyAcceptedError struct {
	Winner uuid.UUID
}

func (e *AlreadyAcceptedError) Error() string {
	return fmt.Sprintf("already accepted by candidate %s", e.Winner)
}

func (e *AlreadyAcceptedError) Is(target error) bool { return target == ErrAlreadyAccepted }
