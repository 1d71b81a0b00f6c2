package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/service/order"
)

type orderService interface {
	Place(ctx context.Context, req order.PlaceRequest) (*domain.Order, *domain.RoutingRecord, error)
	Transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, performedBy string, reason *string) (*domain.Order, error)
	Fulfill(ctx context.Context, orderID uuid.UUID, performedBy string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*domain.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetHistory(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
}

type OrderHandler struct {
	orders orderService
}

func NewOrderHandler(orders orderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type placeOrderRequest struct {
	AccountID    string   `json:"account_id"`
	Amount       string   `json:"amount"`
	CandidateIDs []string `json:"candidate_ids"`
}

func (r placeOrderRequest) Validate() []FieldError {
	var errs []FieldError

	if r.AccountID == "" {
		errs = append(errs, FieldError{Field: "account_id", Message: "required"})
	} else if _, err := uuid.Parse(r.AccountID); err != nil {
		errs = append(errs, FieldError{Field: "account_id", Message: "must be a valid UUID"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if amt, err := decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal string"})
	} else if !amt.IsPositive() {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if len(r.CandidateIDs) == 0 {
		errs = append(errs, FieldError{Field: "candidate_ids", Message: "at least one candidate is required"})
	}
	for _, id := range r.CandidateIDs {
		if _, err := uuid.Parse(id); err != nil {
			errs = append(errs, FieldError{Field: "candidate_ids", Message: "must all be valid UUIDs"})
			break
		}
	}

	return errs
}

type transitionRequest struct {
	To     string  `json:"to"`
	Reason *string `json:"reason,omitempty"`
}

func (r transitionRequest) Validate() []FieldError {
	var errs []FieldError
	if r.To == "" {
		errs = append(errs, FieldError{Field: "to", Message: "required"})
	}
	return errs
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderDTO struct {
	ID        uuid.UUID       `json:"id"`
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type placeOrderResponse struct {
	Order   orderDTO   `json:"order"`
	Routing routingDTO `json:"routing"`
}

type orderEventDTO struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	PerformedBy string    `json:"performed_by"`
	Reason      *string   `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	return orderDTO{
		ID:        o.ID,
		AccountID: o.AccountID,
		Amount:    o.Amount,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toOrderEventDTO(e domain.OrderEvent) orderEventDTO {
	return orderEventDTO{
		ID:          e.ID,
		Kind:        string(e.Kind),
		FromState:   string(e.FromState),
		ToState:     string(e.ToState),
		PerformedBy: e.PerformedBy,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt,
	}
}

func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	accountID, _ := uuid.Parse(req.AccountID)
	amount, _ := decimal.NewFromString(req.Amount)
	candidates := make([]uuid.UUID, 0, len(req.CandidateIDs))
	for _, id := range req.CandidateIDs {
		cid, _ := uuid.Parse(id)
		candidates = append(candidates, cid)
	}

	o, routing, err := h.orders.Place(r.Context(), order.PlaceRequest{
		AccountID:    accountID,
		Amount:       amount,
		CandidateIDs: candidates,
		PerformedBy:  performedBy(r.Context()),
	})
	if err != nil {
		log.Warn("order placement failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", o.ID))
	RespondSuccess(w, http.StatusCreated, placeOrderResponse{
		Order:   toOrderDTO(o),
		Routing: toRoutingDTO(routing, nil),
	})
}

func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	o, err := h.orders.Transition(r.Context(), orderID, domain.OrderStatus(req.To), performedBy(r.Context()), req.Reason)
	if err != nil {
		log.Warn("order transition failed", "order_id", orderID, "to", req.To, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	o, err := h.orders.Fulfill(r.Context(), orderID, performedBy(r.Context()))
	if err != nil {
		log.Warn("order fulfillment failed", "order_id", orderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req cancelOrderRequest
	if r.Body != nil {
		// Reason is optional, an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	o, err := h.orders.Cancel(r.Context(), orderID, performedBy(r.Context()), req.Reason)
	if err != nil {
		log.Warn("order cancellation failed", "order_id", orderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	events, err := h.orders.GetHistory(r.Context(), orderID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]orderEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toOrderEventDTO(e))
	}

	RespondSuccess(w, http.StatusOK, map[string]any{
		"order_id": orderID,
		"events":   dtos,
	})
}
