package account

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
	"github.com/ordlink/ordercore/internal/repository"
	"github.com/ordlink/ordercore/internal/txn"
)

type accountRepo interface {
	Create(ctx context.Context, account *domain.CreditAccount) error
	GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.CreditAccount, error)
	GetByPair(ctx context.Context, payerRef, counterpartyRef string) (*domain.CreditAccount, error)
	SetPaused(ctx context.Context, tx *sql.Tx, id uuid.UUID, reason *string) error
	UpdateLimit(ctx context.Context, tx *sql.Tx, id uuid.UUID, limit decimal.Decimal) error
}

type balanceReader interface {
	BalanceInTx(ctx context.Context, q repository.Querier, accountID uuid.UUID) (decimal.Decimal, error)
}

type availabilityReader interface {
	AvailableInTx(ctx context.Context, q repository.Querier, account *domain.CreditAccount) (decimal.Decimal, error)
}

type txManager interface {
	Run(ctx context.Context, fn txn.UnitOfWork) error
}

type Service struct {
	accounts accountRepo
	ledger   balanceReader
	credit   availabilityReader
	tx       txManager
	db       *sql.DB
}

func NewService(accounts accountRepo, ledger balanceReader, credit availabilityReader, tx txManager, db *sql.DB) *Service {
	return &Service{accounts: accounts, ledger: ledger, credit: credit, tx: tx, db: db}
}

type CreateRequest struct {
	PayerRef        string
	CounterpartyRef string
	CreditLimit     decimal.Decimal
	TermDays        int
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.CreditAccount, error) {
	if req.CreditLimit.IsNegative() {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
	}

	account := &domain.CreditAccount{
		ID:              uuid.New(),
		PayerRef:        req.PayerRef,
		CounterpartyRef: req.CounterpartyRef,
		CreditLimit:     req.CreditLimit,
		TermDays:        req.TermDays,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*domain.CreditAccount, error) {
	return s.accounts.GetByID(ctx, s.db, accountID)
}

// Summary is the account plus its derived financial position, all read in
// one transaction so the three figures are mutually consistent.
type Summary struct {
	Account   *domain.CreditAccount
	Balance   decimal.Decimal
	Available decimal.Decimal
}

func (s *Service) GetSummary(ctx context.Context, accountID uuid.UUID) (*Summary, error) {
	var summary Summary
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		account, err := s.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		balance, err := s.ledger.BalanceInTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		available, err := s.credit.AvailableInTx(ctx, tx, account)
		if err != nil {
			return err
		}
		summary = Summary{Account: account, Balance: balance, Available: available}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetSummary: %w", err)
	}
	return &summary, nil
}

func (s *Service) Pause(ctx context.Context, accountID uuid.UUID, reason string) (*domain.CreditAccount, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	return s.setPaused(ctx, accountID, &reason)
}

func (s *Service) Unpause(ctx context.Context, accountID uuid.UUID) (*domain.CreditAccount, error) {
	return s.setPaused(ctx, accountID, nil)
}

func (s *Service) setPaused(ctx context.Context, accountID uuid.UUID, reason *string) (*domain.CreditAccount, error) {
	var account *domain.CreditAccount
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.accounts.SetPaused(ctx, tx, accountID, reason); err != nil {
			return err
		}
		a, err := s.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setPaused: %w", err)
	}
	return account, nil
}

// UpdateLimit changes the credit limit. Lowering it below the currently
// consumed amount is allowed; existing reservations stand, new ones are
// evaluated against the reduced headroom.
func (s *Service) UpdateLimit(ctx context.Context, accountID uuid.UUID, limit decimal.Decimal) (*domain.CreditAccount, error) {
	if limit.IsNegative() {
		return nil, fmt.Errorf("UpdateLimit: %w", domain.ErrInvalidAmount)
	}

	var account *domain.CreditAccount
	err := s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.accounts.UpdateLimit(ctx, tx, accountID, limit); err != nil {
			return err
		}
		a, err := s.accounts.GetByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateLimit: %w", err)
	}
	return account, nil
}
