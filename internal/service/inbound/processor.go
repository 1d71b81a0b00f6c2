package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/service/order"
)

type eventRepo interface {
	GetPending(ctx context.Context, limit int) ([]domain.InboundEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InboundEventStatus) error
}

type orderService interface {
	Place(ctx context.Context, req order.PlaceRequest) (*domain.Order, *domain.RoutingRecord, error)
	Fulfill(ctx context.Context, orderID uuid.UUID, performedBy string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*domain.Order, error)
}

// Processor drains acknowledged inbound events and applies them as units of
// work. The webhook handler only persists and acks; all state transitions
// happen here, after the HTTP response has gone out.
type Processor struct {
	events    eventRepo
	orders    orderService
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewProcessor(events eventRepo, orders orderService, logger *slog.Logger, interval time.Duration, batchSize int) *Processor {
	return &Processor{events: events, orders: orders, logger: logger, interval: interval, batchSize: batchSize}
}

func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("inbound processor started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("inbound processor stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Processor) poll(ctx context.Context) {
	events, err := p.events.GetPending(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending inbound events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("failed to process inbound event",
				"inbound_event_id", event.ID,
				"event_type", event.EventType,
				"error", err,
			)
		}
	}
}

type orderPlacedPayload struct {
	AccountID    string   `json:"account_id"`
	Amount       string   `json:"amount"`
	CandidateIDs []string `json:"candidate_ids"`
}

type orderRefPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

func (p *Processor) processEvent(ctx context.Context, event domain.InboundEvent) error {
	var err error
	switch event.EventType {
	case domain.InboundEventTypeOrderPlaced:
		err = p.handleOrderPlaced(ctx, event)
	case domain.InboundEventTypeOrderFulfilled:
		err = p.handleOrderFulfilled(ctx, event)
	case domain.InboundEventTypeOrderCancelled:
		err = p.handleOrderCancelled(ctx, event)
	default:
		p.logger.Error("unknown inbound event type", "inbound_event_id", event.ID, "event_type", event.EventType)
		return p.events.UpdateStatus(ctx, event.ID, domain.InboundEventStatusFailed)
	}

	if err != nil {
		// Business-rule rejections are deterministic; retrying the event
		// cannot change the outcome.
		if isBusinessRejection(err) {
			p.logger.Warn("inbound event rejected by domain rules",
				"inbound_event_id", event.ID, "error", err)
			return p.events.UpdateStatus(ctx, event.ID, domain.InboundEventStatusFailed)
		}
		return fmt.Errorf("processEvent: %w", err)
	}

	return p.events.UpdateStatus(ctx, event.ID, domain.InboundEventStatusProcessed)
}

func (p *Processor) handleOrderPlaced(ctx context.Context, event domain.InboundEvent) error {
	var payload orderPlacedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		p.logger.Error("malformed order.placed payload", "inbound_event_id", event.ID, "error", err)
		return p.events.UpdateStatus(ctx, event.ID, domain.InboundEventStatusFailed)
	}

	accountID, err := uuid.Parse(payload.AccountID)
	if err != nil {
		return fmt.Errorf("handleOrderPlaced: account_id: %w", domain.ErrInvalidRequest)
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return fmt.Errorf("handleOrderPlaced: amount: %w", domain.ErrInvalidRequest)
	}
	candidateIDs := make([]uuid.UUID, 0, len(payload.CandidateIDs))
	for _, raw := range payload.CandidateIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("handleOrderPlaced: candidate_id: %w", domain.ErrInvalidRequest)
		}
		candidateIDs = append(candidateIDs, id)
	}

	_, _, err = p.orders.Place(ctx, order.PlaceRequest{
		AccountID:    accountID,
		Amount:       amount,
		CandidateIDs: candidateIDs,
		PerformedBy:  "source:" + event.ID.String(),
	})
	return err
}

func (p *Processor) handleOrderFulfilled(ctx context.Context, event domain.InboundEvent) error {
	payload, err := p.parseOrderRef(event)
	if err != nil {
		return err
	}
	_, err = p.orders.Fulfill(ctx, payload, "source:"+event.ID.String())
	return err
}

func (p *Processor) handleOrderCancelled(ctx context.Context, event domain.InboundEvent) error {
	var payload orderRefPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("handleOrderCancelled: %w", domain.ErrInvalidRequest)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return fmt.Errorf("handleOrderCancelled: order_id: %w", domain.ErrInvalidRequest)
	}
	reason := payload.Reason
	if reason == "" {
		reason = "cancelled by source"
	}
	_, err = p.orders.Cancel(ctx, orderID, "source:"+event.ID.String(), reason)
	return err
}

func (p *Processor) parseOrderRef(event domain.InboundEvent) (uuid.UUID, error) {
	var payload orderRefPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("parseOrderRef: %w", domain.ErrInvalidRequest)
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parseOrderRef: order_id: %w", domain.ErrInvalidRequest)
	}
	return orderID, nil
}

func isBusinessRejection(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidRequest,
		domain.ErrInvalidAmount,
		domain.ErrInsufficientCredit,
		domain.ErrCreditAccountBlocked,
		domain.ErrInvalidTransition,
		domain.ErrMissingPrecondition,
		domain.ErrInvalidReservationState,
		domain.ErrAlreadyAccepted,
		domain.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
