package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ordlink/ordercore/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error:   nil,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Data:    nil,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// RespondDomainError translates domain errors into the stable boundary
// vocabulary. Detail-carrying errors contribute structured details; nothing
// about storage or stack internals crosses the boundary.
func RespondDomainError(w http.ResponseWriter, err error) {
	var insufficientCredit *domain.InsufficientCreditError
	if errors.As(err, &insufficientCredit) {
		RespondAppError(w, ErrInsufficientCredit, map[string]string{
			"shortfall": insufficientCredit.Shortfall.String(),
		})
		return
	}

	var invalidTransition *domain.InvalidTransitionError
	if errors.As(err, &invalidTransition) {
		RespondAppError(w, ErrInvalidTransition, map[string]any{
			"from":    invalidTransition.From,
			"to":      invalidTransition.To,
			"allowed": invalidTransition.Allowed,
		})
		return
	}

	var missingPrecondition *domain.MissingPreconditionError
	if errors.As(err, &missingPrecondition) {
		RespondAppError(w, ErrMissingPrecondition, map[string]any{
			"required_state": missingPrecondition.Required,
		})
		return
	}

	var alreadyAccepted *domain.AlreadyAcceptedError
	if errors.As(err, &alreadyAccepted) {
		RespondAppError(w, ErrAlreadyAccepted, map[string]string{
			"winner": alreadyAccepted.Winner.String(),
		})
		return
	}

	var appErr *AppError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		appErr = ErrResourceNotFound
	case errors.Is(err, domain.ErrInvalidAmount):
		appErr = ErrInvalidAmount
	case errors.Is(err, domain.ErrCreditAccountBlocked):
		appErr = ErrCreditAccountBlocked
	case errors.Is(err, domain.ErrAccountExists):
		appErr = ErrAccountExists
	case errors.Is(err, domain.ErrInvalidReservationState):
		appErr = ErrInvalidReservationState
	case errors.Is(err, domain.ErrRoutingClosed):
		appErr = ErrRoutingClosed
	case errors.Is(err, domain.ErrUnknownCandidate):
		appErr = ErrUnknownCandidate
	case errors.Is(err, domain.ErrInvalidIdempotencyKey):
		appErr = ErrInvalidIdempotencyKey
	case errors.Is(err, domain.ErrReplayDetected):
		appErr = ErrReplayDetected
	case errors.Is(err, domain.ErrInvalidSignature):
		appErr = ErrInvalidSignature
	case errors.Is(err, domain.ErrStaleTimestamp):
		appErr = ErrStaleTimestamp
	case errors.Is(err, domain.ErrSerializationFailure),
		errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrTransactionTimeout):
		appErr = ErrConflictRetryExhausted
	case errors.Is(err, domain.ErrLedgerDivergence):
		appErr = ErrLedgerDivergence
	case errors.Is(err, domain.ErrInvalidRequest):
		appErr = ErrInvalidRequest
	default:
		slog.Error("unhandled domain error", "error", err)
		appErr = ErrInternalError
	}

	RespondAppError(w, appErr, nil)
}
