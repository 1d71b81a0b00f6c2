package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/txn"
)

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Order, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.OrderStatus, at time.Time) error
}

type eventRepo interface {
	Append(ctx context.Context, tx *sql.Tx, event *domain.OrderEvent) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
	HasTransitionInto(ctx context.Context, q repository.Querier, orderID uuid.UUID, state domain.OrderStatus) (bool, error)
}

type creditManager interface {
	ReserveInTx(ctx context.Context, tx *sql.Tx, orderID, accountID uuid.UUID, amount decimal.Decimal) (*domain.CreditReservation, error)
	ReleaseInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, reason string) error
	ConvertInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.LedgerEntry, error)
}

type broadcaster interface {
	BroadcastInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, candidateIDs []uuid.UUID) (*domain.RoutingRecord, error)
}

type txManager interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

// Service enforces the order lifecycle. Every successful transition updates
// the status projection and appends exactly one OrderEvent atomically; the
// event log, not the status column, is what precondition checks consult.
type Service struct {
	orders  orderRepo
	events  eventRepo
	credit  creditManager
	routing broadcaster
	tx      txManager
	db      *sql.DB
}

func NewService(orders orderRepo, events eventRepo, credit creditManager, routing broadcaster, tx txManager, db *sql.DB) *Service {
	return &Service{orders: orders, events: events, credit: credit, routing: routing, tx: tx, db: db}
}

// SetBroadcaster breaks the construction cycle with the routing service,
// which in turn needs this service to drive order transitions. Call it once
// during wiring, before the server starts taking requests.
func (s *Service) SetBroadcaster(routing broadcaster) {
	s.routing = routing
}

type PlaceRequest struct {
	AccountID    uuid.UUID
	Amount       decimal.Decimal
	CandidateIDs []uuid.UUID
	PerformedBy  string
}

// Place runs the whole intake path as one unit of work: create the order,
// validate it, reserve credit, broadcast to the candidate fulfillers. If any
// step fails -- insufficient credit, blocked account -- nothing is committed.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*domain.Order, *domain.RoutingRecord, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, fmt.Errorf("Place: %w", domain.ErrInvalidAmount)
	}
	if len(req.CandidateIDs) == 0 {
		return nil, nil, fmt.Errorf("Place: no candidates: %w", domain.ErrInvalidRequest)
	}

	var (
		placed  *domain.Order
		routing *domain.RoutingRecord
	)
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		o := &domain.Order{
			ID:        uuid.New(),
			AccountID: req.AccountID,
			Amount:    req.Amount,
			Status:    domain.OrderStatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.orders.Create(ctx, tx, o); err != nil {
			return fmt.Errorf("Place: create: %w", err)
		}

		if _, err := s.ApplyInTx(ctx, tx, o.ID, domain.OrderStatusValidated, req.PerformedBy, nil); err != nil {
			return fmt.Errorf("Place: %w", err)
		}

		if _, err := s.credit.ReserveInTx(ctx, tx, o.ID, req.AccountID, req.Amount); err != nil {
			return fmt.Errorf("Place: %w", err)
		}
		if _, err := s.ApplyInTx(ctx, tx, o.ID, domain.OrderStatusCreditReserved, req.PerformedBy, nil); err != nil {
			return fmt.Errorf("Place: %w", err)
		}

		rec, err := s.routing.BroadcastInTx(ctx, tx, o.ID, req.CandidateIDs)
		if err != nil {
			return fmt.Errorf("Place: %w", err)
		}
		o, err = s.ApplyInTx(ctx, tx, o.ID, domain.OrderStatusVendorNotified, req.PerformedBy, nil)
		if err != nil {
			return fmt.Errorf("Place: %w", err)
		}

		placed, routing = o, rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.FromContext(ctx).Info("order placed",
		"order_id", placed.ID,
		"account_id", placed.AccountID,
		"amount", placed.Amount,
		"routing_id", routing.ID,
		"candidates", len(req.CandidateIDs),
	)
	return placed, routing, nil
}

// Transition applies a single edge as its own unit of work.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, performedBy string, reason *string) (*domain.Order, error) {
	var updated *domain.Order
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.ApplyInTx(ctx, tx, orderID, to, performedBy, reason)
		if err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyInTx is the single gate every transition passes through. It rejects
// edges outside the lifecycle DAG, refuses to leave terminal states, checks
// the fulfillment precondition against the event log, then writes the status
// and the event together.
func (s *Service) ApplyInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, to domain.OrderStatus, performedBy string, reason *string) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	if !o.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("ApplyInTx: %w", &domain.InvalidTransitionError{
			From:    o.Status,
			To:      to,
			Allowed: domain.AllowedTransitions(o.Status),
		})
	}

	// Fulfillment requires that credit was actually reserved at some point,
	// per the event log -- a forged status column is not good enough.
	if o.Status == domain.OrderStatusVendorAccepted && to == domain.OrderStatusFulfilled {
		reserved, err := s.events.HasTransitionInto(ctx, tx, orderID, domain.OrderStatusCreditReserved)
		if err != nil {
			return nil, fmt.Errorf("ApplyInTx: %w", err)
		}
		if !reserved {
			return nil, fmt.Errorf("ApplyInTx: %w", &domain.MissingPreconditionError{Required: domain.OrderStatusCreditReserved})
		}
	}

	now := time.Now().UTC()
	if err := s.orders.UpdateStatus(ctx, tx, orderID, to, now); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	event := &domain.OrderEvent{
		ID:          uuid.New(),
		OrderID:     orderID,
		Kind:        domain.OrderEventKindStateChange,
		FromState:   o.Status,
		ToState:     to,
		PerformedBy: performedBy,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := s.events.Append(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("ApplyInTx: %w", err)
	}

	o.Status = to
	o.UpdatedAt = now
	return o, nil
}

// Fulfill converts the reservation into a settled debit and moves the order
// to FULFILLED, all or nothing.
func (s *Service) Fulfill(ctx context.Context, orderID uuid.UUID, performedBy string) (*domain.Order, error) {
	var updated *domain.Order
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.ApplyInTx(ctx, tx, orderID, domain.OrderStatusFulfilled, performedBy, nil)
		if err != nil {
			return fmt.Errorf("Fulfill: %w", err)
		}
		if _, err := s.credit.ConvertInTx(ctx, tx, orderID); err != nil {
			return fmt.Errorf("Fulfill: %w", err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order fulfilled", "order_id", orderID, "performed_by", performedBy)
	return updated, nil
}

// Cancel releases any outstanding reservation and moves the order to
// CANCELLED. Orders cancelled before validation have no reservation; that is
// not an error.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*domain.Order, error) {
	return s.terminate(ctx, orderID, domain.OrderStatusCancelled, performedBy, reason)
}

func (s *Service) Fail(ctx context.Context, orderID uuid.UUID, performedBy, reason string) (*domain.Order, error) {
	return s.terminate(ctx, orderID, domain.OrderStatusFailed, performedBy, reason)
}

func (s *Service) terminate(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, performedBy, reason string) (*domain.Order, error) {
	var updated *domain.Order
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := s.TerminateInTx(ctx, tx, orderID, to, performedBy, reason)
		if err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TerminateInTx applies a terminal edge and releases any reservation the
// order still holds. Orders terminated before validation have no
// reservation; that is not an error.
func (s *Service) TerminateInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, to domain.OrderStatus, performedBy, reason string) (*domain.Order, error) {
	o, err := s.ApplyInTx(ctx, tx, orderID, to, performedBy, &reason)
	if err != nil {
		return nil, fmt.Errorf("TerminateInTx: %w", err)
	}
	if err := s.credit.ReleaseInTx(ctx, tx, orderID, reason); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("TerminateInTx: %w", err)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orders.GetByID(ctx, s.db, orderID)
}

// GetHistory replays the order's transitions in chronological order.
func (s *Service) GetHistory(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	if _, err := s.orders.GetByID(ctx, s.db, orderID); err != nil {
		return nil, fmt.Errorf("GetHistory: %w", err)
	}
	return s.events.ListByOrder(ctx, orderID)
}
