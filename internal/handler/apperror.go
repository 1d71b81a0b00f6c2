package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Insufficient privileges"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount           = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInsufficientCredit      = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_CREDIT", "Insufficient available credit"}
	ErrCreditAccountBlocked    = &AppError{http.StatusUnprocessableEntity, "CREDIT_ACCOUNT_BLOCKED", "Credit account is inactive or paused"}
	ErrAccountExists           = &AppError{http.StatusConflict, "ACCOUNT_ALREADY_EXISTS", "Credit account already exists for this pair"}
	ErrInvalidReservationState = &AppError{http.StatusConflict, "INVALID_RESERVATION_STATE", "Reservation does not permit this operation"}
	ErrInvalidTransition       = &AppError{http.StatusUnprocessableEntity, "INVALID_TRANSITION", "Order state does not permit this transition"}
	ErrMissingPrecondition     = &AppError{http.StatusUnprocessableEntity, "MISSING_PRECONDITION", "Order history is missing a required state"}
	ErrAlreadyAccepted         = &AppError{http.StatusConflict, "ALREADY_ACCEPTED", "Order was already accepted by another candidate"}
	ErrRoutingClosed           = &AppError{http.StatusConflict, "ROUTING_CLOSED", "Routing is no longer accepting responses"}
	ErrUnknownCandidate        = &AppError{http.StatusUnprocessableEntity, "UNKNOWN_CANDIDATE", "Candidate was not part of this broadcast"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrInvalidIdempotencyKey = &AppError{http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency key has invalid length or characters"}
	ErrInvalidSignature      = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Request signature is invalid"}
	ErrStaleTimestamp        = &AppError{http.StatusUnauthorized, "STALE_TIMESTAMP", "Request timestamp is outside the accepted window"}
	ErrReplayDetected        = &AppError{http.StatusConflict, "REPLAY_DETECTED", "This request was already received"}

	ErrConflictRetryExhausted = &AppError{http.StatusServiceUnavailable, "CONFLICT_RETRY_EXHAUSTED", "Operation kept conflicting with concurrent traffic, please retry"}
	ErrLedgerDivergence       = &AppError{http.StatusInternalServerError, "LEDGER_DIVERGENCE", "Cached balance diverges from ledger replay"}
)
