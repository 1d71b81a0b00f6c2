package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordlink/ordercore/internal/domain"
)

const reservationColumns = `id, account_id, order_id, amount, status,
	release_reason, created_at, released_at, converted_at`

type ReservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, tx *sql.Tx, res *domain.CreditReservation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_reservations (
			id, account_id, order_id, amount, status,
			release_reason, created_at, released_at, converted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ID, res.AccountID, res.OrderID, res.Amount, res.Status,
		res.ReleaseReason, res.CreatedAt, res.ReleasedAt, res.ConvertedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetByOrder returns the most recent reservation for the order. The partial
// unique index guarantees at most one ACTIVE row per order.
func (r *ReservationRepository) GetByOrder(ctx context.Context, q Querier, orderID uuid.UUID) (*domain.CreditReservation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM credit_reservations
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID,
	)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByOrder: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOrder: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) MarkReleased(ctx context.Context, tx *sql.Tx, id uuid.UUID, reason *string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_reservations
		SET status = $1, release_reason = $2, released_at = $3
		WHERE id = $4 AND status = $5`,
		domain.ReservationStatusReleased, reason, at, id, domain.ReservationStatusActive,
	)
	if err != nil {
		return fmt.Errorf("MarkReleased: %w", err)
	}
	return requireRow(res, "MarkReleased")
}

func (r *ReservationRepository) MarkConverted(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_reservations
		SET status = $1, converted_at = $2
		WHERE id = $3 AND status = $4`,
		domain.ReservationStatusConverted, at, id, domain.ReservationStatusActive,
	)
	if err != nil {
		return fmt.Errorf("MarkConverted: %w", err)
	}
	return requireRow(res, "MarkConverted")
}

// SumActiveByAccount totals the outstanding holds against an account. Must
// run inside the reserving transaction so the availability check and the
// insert share one serializable snapshot.
func (r *ReservationRepository) SumActiveByAccount(ctx context.Context, q Querier, accountID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_reservations
		WHERE account_id = $1 AND status = $2`,
		accountID, domain.ReservationStatusActive,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumActiveByAccount: %w", err)
	}
	return sum, nil
}

func scanReservation(s scanner) (*domain.CreditReservation, error) {
	var res domain.CreditReservation
	err := s.Scan(
		&res.ID, &res.AccountID, &res.OrderID, &res.Amount, &res.Status,
		&res.ReleaseReason, &res.CreatedAt, &res.ReleasedAt, &res.ConvertedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
