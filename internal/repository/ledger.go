package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
)

const ledgerColumns = `id, account_id, order_id, kind, amount, balance_after, note, created_at`

// LedgerRepository is strictly append-only: it issues INSERT and SELECT
// statements and nothing else.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, account_id, order_id, kind, amount, balance_after, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.AccountID, entry.OrderID, entry.Kind,
		entry.Amount, entry.BalanceAfter, entry.Note, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// GetLatest returns the most recent entry for the account, or nil when the
// ledger is empty. Callers computing a new balance must pass the transaction
// so the read shares the write's snapshot.
func (r *LedgerRepository) GetLatest(ctx context.Context, q Querier, accountID uuid.UUID) (*domain.LedgerEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY seq DESC LIMIT 1`, accountID,
	)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetLatest: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListByAccount: %w", err)
	}
	return entries, total, nil
}

func (r *LedgerRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE order_id = $1 ORDER BY seq`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	return entries, nil
}

// ReplayBalance recomputes the balance by aggregating signed deltas over
// every entry. Used for reconciliation against the cached balance_after.
func (r *LedgerRepository) ReplayBalance(ctx context.Context, q Querier, accountID uuid.UUID) (decimal.Decimal, error) {
	var replayed decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(
			CASE WHEN kind IN ('CREDIT', 'REVERSAL') THEN -amount ELSE amount END
		), 0) FROM ledger_entries WHERE account_id = $1`, accountID,
	).Scan(&replayed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ReplayBalance: %w", err)
	}
	return replayed, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.AccountID, &e.OrderID, &e.Kind,
		&e.Amount, &e.BalanceAfter, &e.Note, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
