package credit

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

type accountRepo interface {
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.CreditAccount, error)
}

type reservationRepo interface {
	Create(ctx context.Context, tx *sql.Tx, res *domain.CreditReservation) error
	GetByOrder(ctx context.Context, q repository.Querier, orderID uuid.UUID) (*domain.CreditReservation, error)
	MarkReleased(ctx context.Context, tx *sql.Tx, id uuid.UUID, reason *string, at time.Time) error
	MarkConverted(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error
	SumActiveByAccount(ctx context.Context, q repository.Querier, accountID uuid.UUID) (decimal.Decimal, error)
}

type ledgerEngine interface {
	AppendInTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, kind domain.EntryKind, amount decimal.Decimal, orderID *uuid.UUID, note *string) (*domain.LedgerEntry, error)
	BalanceInTx(ctx context.Context, q repository.Querier, accountID uuid.UUID) (decimal.Decimal, error)
}

type txManager interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

// Service owns the reservation lifecycle: a hold is taken against available
// credit when an order is validated and later either released or converted
// into exactly one DEBIT ledger entry.
type Service struct {
	accounts     accountRepo
	reservations reservationRepo
	ledger       ledgerEngine
	tx           txManager
}

func NewService(accounts accountRepo, reservations reservationRepo, ledger ledgerEngine, tx txManager) *Service {
	return &Service{accounts: accounts, reservations: reservations, ledger: ledger, tx: tx}
}

func (s *Service) Reserve(ctx context.Context, orderID, accountID uuid.UUID, amount decimal.Decimal) (*domain.CreditReservation, error) {
	var res *domain.CreditReservation
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := s.ReserveInTx(ctx, tx, orderID, accountID, amount)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveInTx checks availability and inserts the hold in the caller's
// transaction. The check-then-act is race-free because both halves see one
// serializable snapshot; two concurrent reserves against the same headroom
// cannot both commit.
func (s *Service) ReserveInTx(ctx context.Context, tx *sql.Tx, orderID, accountID uuid.UUID, amount decimal.Decimal) (*domain.CreditReservation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("ReserveInTx: %w", domain.ErrInvalidAmount)
	}

	account, err := s.accounts.GetByID(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ReserveInTx: %w", err)
	}
	if account.Blocked() {
		return nil, fmt.Errorf("ReserveInTx: %w", domain.ErrCreditAccountBlocked)
	}

	available, err := s.AvailableInTx(ctx, tx, account)
	if err != nil {
		return nil, fmt.Errorf("ReserveInTx: %w", err)
	}
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("ReserveInTx: %w", &domain.InsufficientCreditError{Shortfall: amount.Sub(available)})
	}

	res := &domain.CreditReservation{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    domain.ReservationStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.reservations.Create(ctx, tx, res); err != nil {
		return nil, fmt.Errorf("ReserveInTx: %w", err)
	}
	return res, nil
}

// AvailableInTx computes creditLimit minus active holds minus the
// outstanding ledger balance, as seen by q.
func (s *Service) AvailableInTx(ctx context.Context, q repository.Querier, account *domain.CreditAccount) (decimal.Decimal, error) {
	held, err := s.reservations.SumActiveByAccount(ctx, q, account.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("AvailableInTx: %w", err)
	}
	outstanding, err := s.ledger.BalanceInTx(ctx, q, account.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("AvailableInTx: %w", err)
	}
	return account.CreditLimit.Sub(held).Sub(outstanding), nil
}

func (s *Service) Available(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		account, err := s.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("Available: %w", err)
		}
		available, err = s.AvailableInTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return available, nil
}

func (s *Service) Release(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return s.ReleaseInTx(ctx, tx, orderID, reason)
	})
}

// ReleaseInTx is idempotent: releasing a reservation that is already
// RELEASED or CONVERTED_TO_DEBIT succeeds without touching anything.
func (s *Service) ReleaseInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, reason string) error {
	res, err := s.reservations.GetByOrder(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("ReleaseInTx: %w", err)
	}
	if res.Terminal() {
		logging.FromContext(ctx).Debug("release on terminal reservation is a no-op",
			"order_id", orderID, "status", res.Status)
		return nil
	}
	if err := s.reservations.MarkReleased(ctx, tx, res.ID, &reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("ReleaseInTx: %w", err)
	}
	return nil
}

func (s *Service) ConvertToDebit(ctx context.Context, orderID uuid.UUID) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		e, err := s.ConvertInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ConvertInTx settles the hold: one DEBIT entry for the reserved amount and
// the status flip happen in the same transaction, so a partial "ledger
// written, reservation still active" state is never observable.
func (s *Service) ConvertInTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*domain.LedgerEntry, error) {
	res, err := s.reservations.GetByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("ConvertInTx: %w", err)
	}
	if res.Status != domain.ReservationStatusActive {
		return nil, fmt.Errorf("ConvertInTx: status %s: %w", res.Status, domain.ErrInvalidReservationState)
	}

	entry, err := s.ledger.AppendInTx(ctx, tx, res.AccountID, domain.EntryKindDebit, res.Amount, &res.OrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("ConvertInTx: %w", err)
	}
	if err := s.reservations.MarkConverted(ctx, tx, res.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ConvertInTx: %w", err)
	}
	return entry, nil
}

// HasReservation reports whether any reservation row exists for the order.
func (s *Service) HasReservation(ctx context.Context, q repository.Querier, orderID uuid.UUID) (bool, error) {
	_, err := s.reservations.GetByOrder(ctx, q, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HasReservation: %w", err)
	}
	return true, nil
}
