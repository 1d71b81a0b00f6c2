package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ordlink/ordercore/internal/domain"
)

const orderEventColumns = `id, order_id, kind, from_state, to_state, performed_by, reason, created_at`

// OrderEventRepository is append-only, like the ledger: transition history
// is never rewritten.
type OrderEventRepository struct {
	db *sql.DB
}

func NewOrderEventRepository(db *sql.DB) *OrderEventRepository {
	return &OrderEventRepository{db: db}
}

func (r *OrderEventRepository) Append(ctx context.Context, tx *sql.Tx, event *domain.OrderEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_events (
			id, order_id, kind, from_state, to_state, performed_by, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.OrderID, event.Kind, event.FromState, event.ToState,
		event.PerformedBy, event.Reason, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *OrderEventRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderEventColumns+` FROM order_events
		WHERE order_id = $1 ORDER BY seq`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		e, err := scanOrderEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOrder: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrder: rows: %w", err)
	}
	return events, nil
}

// HasTransitionInto answers "did this order ever reach state" from the event
// log, independent of the current status column.
func (r *OrderEventRepository) HasTransitionInto(ctx context.Context, q Querier, orderID uuid.UUID, state domain.OrderStatus) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM order_events WHERE order_id = $1 AND to_state = $2)`,
		orderID, state,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasTransitionInto: %w", err)
	}
	return exists, nil
}

func scanOrderEvent(s scanner) (*domain.OrderEvent, error) {
	var e domain.OrderEvent
	err := s.Scan(
		&e.ID, &e.OrderID, &e.Kind, &e.FromState, &e.ToState,
		&e.PerformedBy, &e.Reason, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
