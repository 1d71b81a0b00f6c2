package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
)

const accountColumns = `id, payer_ref, counterparty_ref, credit_limit, term_days,
	active, paused_reason, created_at`

type CreditAccountRepository struct {
	db *sql.DB
}

func NewCreditAccountRepository(db *sql.DB) *CreditAccountRepository {
	return &CreditAccountRepository{db: db}
}

func (r *CreditAccountRepository) Create(ctx context.Context, account *domain.CreditAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (
			id, payer_ref, counterparty_ref, credit_limit, term_days,
			active, paused_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.PayerRef, account.CounterpartyRef, account.CreditLimit,
		account.TermDays, account.Active, account.PausedReason, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrAccountExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *CreditAccountRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.CreditAccount, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

func (r *CreditAccountRepository) GetByPair(ctx context.Context, payerRef, counterpartyRef string) (*domain.CreditAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts
		WHERE payer_ref = $1 AND counterparty_ref = $2`,
		payerRef, counterpartyRef,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByPair: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByPair: %w", err)
	}
	return a, nil
}

func (r *CreditAccountRepository) SetPaused(ctx context.Context, tx *sql.Tx, id uuid.UUID, reason *string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET paused_reason = $1 WHERE id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("SetPaused: %w", err)
	}
	return requireRow(res, "SetPaused")
}

func (r *CreditAccountRepository) UpdateLimit(ctx context.Context, tx *sql.Tx, id uuid.UUID, limit decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET credit_limit = $1 WHERE id = $2`,
		limit, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateLimit: %w", err)
	}
	return requireRow(res, "UpdateLimit")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanAccount(s scanner) (*domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := s.Scan(
		&a.ID, &a.PayerRef, &a.CounterpartyRef, &a.CreditLimit, &a.TermDays,
		&a.Active, &a.PausedReason, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
