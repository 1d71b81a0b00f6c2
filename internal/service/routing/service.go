package routing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/notify"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/txn"
)

type routingRepo interface {
	Create(ctx context.Context, tx *sql.Tx, record *domain.RoutingRecord, candidateIDs []uuid.UUID) error
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.RoutingRecord, error)
	IsCandidate(ctx context.Context, q repository.Querier, routingID, candidateID uuid.UUID) (bool, error)
	ClaimWinner(ctx context.Context, tx *sql.Tx, routingID, candidateID uuid.UUID) (bool, error)
	MarkExpired(ctx context.Context, tx *sql.Tx, routingID uuid.UUID) (bool, error)
	InsertResponse(ctx context.Context, tx *sql.Tx, resp *domain.ResponseRecord) error
	UpsertResponse(ctx context.Context, tx *sql.Tx, resp *domain.ResponseRecord) error
	GetResponse(ctx context.Context, q repository.Querier, routingID, candidateID uuid.UUID) (*domain.ResponseRecord, error)
	ListCandidates(ctx context.Context, routingID uuid.UUID) ([]uuid.UUID, error)
	ListResponses(ctx context.Context, routingID uuid.UUID) ([]domain.ResponseRecord, error)
}

type orderTransitioner interface {
	ApplyInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, to domain.OrderStatus, performedBy string, reason *string) (*domain.Order, error)
	TerminateInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, to domain.OrderStatus, performedBy, reason string) (*domain.Order, error)
}

type txManager interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

// Service resolves the acceptance race. Correctness rests on one conditional
// update against the routing record; there is no advisory locking, no mutex
// ownership, and no retry-until-win loop anywhere in this package.
type Service struct {
	routings routingRepo
	orders   orderTransitioner
	notifier notify.Notifier
	tx       txManager
	db       *sql.DB
}

func NewService(routings routingRepo, orders orderTransitioner, notifier notify.Notifier, tx txManager, db *sql.DB) *Service {
	return &Service{routings: routings, orders: orders, notifier: notifier, tx: tx, db: db}
}

func (s *Service) Broadcast(ctx context.Context, orderID uuid.UUID, candidateIDs []uuid.UUID) (*domain.RoutingRecord, error) {
	var record *domain.RoutingRecord
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.BroadcastInTx(ctx, tx, orderID, candidateIDs)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) BroadcastInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, candidateIDs []uuid.UUID) (*domain.RoutingRecord, error) {
	if len(candidateIDs) == 0 {
		return nil, fmt.Errorf("BroadcastInTx: no candidates: %w", domain.ErrInvalidRequest)
	}

	record := &domain.RoutingRecord{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    domain.RoutingStatusPendingResponses,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.routings.Create(ctx, tx, record, candidateIDs); err != nil {
		return nil, fmt.Errorf("BroadcastInTx: %w", err)
	}
	return record, nil
}

// Respond records a candidate's decision. Re-sending an identical response
// is an idempotent no-op, even after the routing closed; a new response on a
// closed routing is rejected.
func (s *Service) Respond(ctx context.Context, routingID, candidateID uuid.UUID, decision domain.ResponseDecision) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		record, err := s.routings.GetByID(ctx, tx, routingID)
		if err != nil {
			return fmt.Errorf("Respond: %w", err)
		}

		member, err := s.routings.IsCandidate(ctx, tx, routingID, candidateID)
		if err != nil {
			return fmt.Errorf("Respond: %w", err)
		}
		if !member {
			return fmt.Errorf("Respond: %w", domain.ErrUnknownCandidate)
		}

		if record.Status != domain.RoutingStatusPendingResponses {
			existing, err := s.routings.GetResponse(ctx, tx, routingID, candidateID)
			if err != nil {
				return fmt.Errorf("Respond: %w", err)
			}
			if existing != nil && existing.Decision == decision {
				return nil
			}
			return fmt.Errorf("Respond: %w", domain.ErrRoutingClosed)
		}

		resp := &domain.ResponseRecord{
			RoutingID:   routingID,
			CandidateID: candidateID,
			Decision:    decision,
			RespondedAt: time.Now().UTC(),
		}
		if err := s.routings.InsertResponse(ctx, tx, resp); err != nil {
			return fmt.Errorf("Respond: %w", err)
		}
		return nil
	})
}

// AttemptAccept races candidateID against everyone else for the order. The
// conditional write decides: exactly one concurrent caller updates the row,
// the rest observe zero rows affected and receive AlreadyAcceptedError with
// the actual winner, looked up after the fact. The win also records the
// ACCEPT response and advances the order, atomically; loser notices go out
// only after the commit.
func (s *Service) AttemptAccept(ctx context.Context, routingID, candidateID uuid.UUID) (*domain.RoutingRecord, error) {
	var record *domain.RoutingRecord
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		member, err := s.routings.IsCandidate(ctx, tx, routingID, candidateID)
		if err != nil {
			return fmt.Errorf("AttemptAccept: %w", err)
		}
		if !member {
			return fmt.Errorf("AttemptAccept: %w", domain.ErrUnknownCandidate)
		}

		won, err := s.routings.ClaimWinner(ctx, tx, routingID, candidateID)
		if err != nil {
			return fmt.Errorf("AttemptAccept: %w", err)
		}
		if !won {
			current, err := s.routings.GetByID(ctx, tx, routingID)
			if err != nil {
				return fmt.Errorf("AttemptAccept: %w", err)
			}
			if current.Status == domain.RoutingStatusWinnerSelected && current.WinnerID != nil {
				return fmt.Errorf("AttemptAccept: %w", &domain.AlreadyAcceptedError{Winner: *current.WinnerID})
			}
			return fmt.Errorf("AttemptAccept: %w", domain.ErrRoutingClosed)
		}

		// The winner's recorded decision must read ACCEPT even if they
		// rejected earlier and changed their mind, so this write replaces
		// rather than yields.
		resp := &domain.ResponseRecord{
			RoutingID:   routingID,
			CandidateID: candidateID,
			Decision:    domain.DecisionAccept,
			RespondedAt: time.Now().UTC(),
		}
		if err := s.routings.UpsertResponse(ctx, tx, resp); err != nil {
			return fmt.Errorf("AttemptAccept: %w", err)
		}

		current, err := s.routings.GetByID(ctx, tx, routingID)
		if err != nil {
			return fmt.Errorf("AttemptAccept: %w", err)
		}
		if _, err := s.orders.ApplyInTx(ctx, tx, current.OrderID, domain.OrderStatusVendorAccepted, candidateID.String(), nil); err != nil {
			return fmt.Errorf("AttemptAccept: %w", err)
		}
		record = current

		txn.OnCommit(ctx, func() {
			s.NotifyLosers(context.WithoutCancel(ctx), routingID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("acceptance race won",
		"routing_id", routingID, "winner_id", candidateID, "order_id", record.OrderID)
	return record, nil
}

// NotifyLosers emits cancellation notices to every candidate except the
// winner. Fire-and-forget: a failed notice is logged and skipped, never
// escalated.
func (s *Service) NotifyLosers(ctx context.Context, routingID uuid.UUID) {
	log := logging.FromContext(ctx)

	record, err := s.routings.GetByID(ctx, s.db, routingID)
	if err != nil {
		log.Error("notify losers: load routing", "routing_id", routingID, "error", err)
		return
	}
	if record.Status != domain.RoutingStatusWinnerSelected || record.WinnerID == nil {
		return
	}

	candidates, err := s.routings.ListCandidates(ctx, routingID)
	if err != nil {
		log.Error("notify losers: list candidates", "routing_id", routingID, "error", err)
		return
	}

	for _, candidateID := range candidates {
		if candidateID == *record.WinnerID {
			continue
		}
		if err := s.notifier.CancellationNotice(ctx, record.OrderID, candidateID); err != nil {
			log.Warn("cancellation notice failed",
				"routing_id", routingID, "candidate_id", candidateID, "error", err)
		}
	}
}

// Expire closes a routing that never produced a winner, using the same
// conditional-update shape as ClaimWinner so it cannot race an acceptance.
// The order fails and its reservation is released in the same transaction.
func (s *Service) Expire(ctx context.Context, routingID uuid.UUID) (bool, error) {
	var expired bool
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.routings.MarkExpired(ctx, tx, routingID)
		if err != nil {
			return fmt.Errorf("Expire: %w", err)
		}
		expired = ok
		if !ok {
			return nil
		}

		record, err := s.routings.GetByID(ctx, tx, routingID)
		if err != nil {
			return fmt.Errorf("Expire: %w", err)
		}
		if _, err := s.orders.TerminateInTx(ctx, tx, record.OrderID, domain.OrderStatusFailed, "system", "routing expired without winner"); err != nil {
			return fmt.Errorf("Expire: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, routingID uuid.UUID) (*domain.RoutingRecord, error) {
	return s.routings.GetByID(ctx, s.db, routingID)
}

func (s *Service) ListResponses(ctx context.Context, routingID uuid.UUID) ([]domain.ResponseRecord, error) {
	if _, err := s.routings.GetByID(ctx, s.db, routingID); err != nil {
		return nil, fmt.Errorf("ListResponses: %w", err)
	}
	return s.routings.ListResponses(ctx, routingID)
}
