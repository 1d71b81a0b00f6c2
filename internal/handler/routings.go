package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
)

type routingService interface {
	Respond(ctx context.Context, routingID, candidateID uuid.UUID, decision domain.ResponseDecision) error
	AttemptAccept(ctx context.Context, routingID, candidateID uuid.UUID) (*domain.RoutingRecord, error)
	Get(ctx context.Context, routingID uuid.UUID) (*domain.RoutingRecord, error)
	ListResponses(ctx context.Context, routingID uuid.UUID) ([]domain.ResponseRecord, error)
}

type RoutingHandler struct {
	routings routingService
}

func NewRoutingHandler(routings routingService) *RoutingHandler {
	return &RoutingHandler{routings: routings}
}

type respondRequest struct {
	CandidateID string `json:"candidate_id"`
	Decision    string `json:"decision"`
}

func (r respondRequest) Validate() []FieldError {
	var errs []FieldError

	if r.CandidateID == "" {
		errs = append(errs, FieldError{Field: "candidate_id", Message: "required"})
	} else if _, err := uuid.Parse(r.CandidateID); err != nil {
		errs = append(errs, FieldError{Field: "candidate_id", Message: "must be a valid UUID"})
	}

	switch domain.ResponseDecision(r.Decision) {
	case domain.DecisionAccept, domain.DecisionReject:
	default:
		errs = append(errs, FieldError{Field: "decision", Message: "must be ACCEPT or REJECT"})
	}

	return errs
}

type routingDTO struct {
	ID        uuid.UUID     `json:"id"`
	OrderID   uuid.UUID     `json:"order_id"`
	Status    string        `json:"status"`
	WinnerID  *uuid.UUID    `json:"winner_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Responses []responseDTO `json:"responses,omitempty"`
}

type responseDTO struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	Decision    string    `json:"decision"`
	RespondedAt time.Time `json:"responded_at"`
}

func toRoutingDTO(rec *domain.RoutingRecord, responses []domain.ResponseRecord) routingDTO {
	dto := routingDTO{
		ID:        rec.ID,
		OrderID:   rec.OrderID,
		Status:    string(rec.Status),
		WinnerID:  rec.WinnerID,
		CreatedAt: rec.CreatedAt,
	}
	for _, resp := range responses {
		dto.Responses = append(dto.Responses, responseDTO{
			CandidateID: resp.CandidateID,
			Decision:    string(resp.Decision),
			RespondedAt: resp.RespondedAt,
		})
	}
	return dto
}

func (h *RoutingHandler) Respond(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	routingID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	candidateID, _ := uuid.Parse(req.CandidateID)

	// An ACCEPT response is an acceptance attempt; it goes through the
	// winner race. Rejections just get recorded.
	if domain.ResponseDecision(req.Decision) == domain.DecisionAccept {
		rec, err := h.routings.AttemptAccept(r.Context(), routingID, candidateID)
		if err != nil {
			log.Warn("acceptance attempt failed",
				"routing_id", routingID, "candidate_id", candidateID, "error", err)
			RespondDomainError(w, err)
			return
		}
		RespondSuccess(w, http.StatusOK, toRoutingDTO(rec, nil))
		return
	}

	if err := h.routings.Respond(r.Context(), routingID, candidateID, domain.DecisionReject); err != nil {
		log.Warn("response recording failed",
			"routing_id", routingID, "candidate_id", candidateID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *RoutingHandler) Get(w http.ResponseWriter, r *http.Request) {
	routingID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	rec, err := h.routings.Get(r.Context(), routingID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	responses, err := h.routings.ListResponses(r.Context(), routingID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toRoutingDTO(rec, responses))
}
