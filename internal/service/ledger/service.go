package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/logging"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/txn"
)

type ledgerRepo interface {
	Append(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
	GetLatest(ctx context.Context, q repository.Querier, accountID uuid.UUID) (*domain.LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
	ReplayBalance(ctx context.Context, q repository.Querier, accountID uuid.UUID) (decimal.Decimal, error)
}

type accountRepo interface {
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.CreditAccount, error)
}

type txManager interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

// Service is the ledger and balance engine. Writes are pure appends; the
// balance is the cached balance_after of the latest entry, recomputed from
// the prior entry inside the same serializable transaction as the insert.
type Service struct {
	entries  ledgerRepo
	accounts accountRepo
	tx       txManager
	db       *sql.DB
}

func NewService(entries ledgerRepo, accounts accountRepo, tx txManager, db *sql.DB) *Service {
	return &Service{entries: entries, accounts: accounts, tx: tx, db: db}
}

func (s *Service) AppendDebit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID) (*domain.LedgerEntry, error) {
	return s.append(ctx, accountID, domain.EntryKindDebit, amount, orderID, nil)
}

func (s *Service) AppendCredit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, note *string) (*domain.LedgerEntry, error) {
	return s.append(ctx, accountID, domain.EntryKindCredit, amount, nil, note)
}

func (s *Service) AppendAdjustment(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reason string) (*domain.LedgerEntry, error) {
	return s.append(ctx, accountID, domain.EntryKindAdjustment, amount, nil, &reason)
}

func (s *Service) AppendReversal(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, orderID *uuid.UUID, note *string) (*domain.LedgerEntry, error) {
	return s.append(ctx, accountID, domain.EntryKindReversal, amount, orderID, note)
}

func (s *Service) append(ctx context.Context, accountID uuid.UUID, kind domain.EntryKind, amount decimal.Decimal, orderID *uuid.UUID, note *string) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.accounts.GetByID(ctx, tx, accountID); err != nil {
			return fmt.Errorf("append: %w", err)
		}
		e, err := s.AppendInTx(ctx, tx, accountID, kind, amount, orderID, note)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendInTx writes one entry within the caller's transaction: read the
// prior balance, add the signed delta, insert. Serializable isolation makes
// the read-compute-insert sequence race-free; two concurrent appends can
// never both observe the same prior balance and commit.
func (s *Service) AppendInTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, kind domain.EntryKind, amount decimal.Decimal, orderID *uuid.UUID, note *string) (*domain.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("AppendInTx: %w", domain.ErrInvalidAmount)
	}

	prior, err := s.BalanceInTx(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("AppendInTx: %w", err)
	}

	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		OrderID:   orderID,
		Kind:      kind,
		Amount:    amount,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	entry.BalanceAfter = prior.Add(entry.SignedDelta())

	if err := s.entries.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("AppendInTx: %w", err)
	}
	return entry, nil
}

// BalanceInTx returns the authoritative balance as seen by q: the cached
// balance_after of the latest entry, or zero for an empty ledger.
func (s *Service) BalanceInTx(ctx context.Context, q repository.Querier, accountID uuid.UUID) (decimal.Decimal, error) {
	latest, err := s.entries.GetLatest(ctx, q, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("BalanceInTx: %w", err)
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.BalanceAfter, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.BalanceInTx(ctx, s.db, accountID)
}

func (s *Service) ListEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	return s.entries.ListByAccount(ctx, accountID, limit, offset)
}

// Reconcile replays every entry for the account and compares the aggregate
// to the cached balance of the latest entry. The cached balance stays
// authoritative; divergence is reported as an integrity fault instead of
// silently trusting either side.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cached, err := s.BalanceInTx(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("Reconcile: %w", err)
		}
		replayed, err := s.entries.ReplayBalance(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("Reconcile: %w", err)
		}
		if !cached.Equal(replayed) {
			ledgerDivergence.Inc()
			logging.FromContext(ctx).Error("ledger divergence detected",
				"account_id", accountID, "cached", cached, "replayed", replayed)
			return fmt.Errorf("Reconcile: cached %s vs replayed %s: %w", cached, replayed, domain.ErrLedgerDivergence)
		}
		balance = cached
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
