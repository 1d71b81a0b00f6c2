package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ordlink/ordercore/internal/domain"
)

const inboundEventColumns = `id, event_type, payload, signature, event_ts, status, attempts, created_at`

type InboundEventRepository struct {
	db *sql.DB
}

func NewInboundEventRepository(db *sql.DB) *InboundEventRepository {
	return &InboundEventRepository{db: db}
}

// Create persists an acknowledged event. The unique (signature, event_ts)
// constraint makes a replayed delivery fail here with ErrReplayDetected.
func (r *InboundEventRepository) Create(ctx context.Context, event *domain.InboundEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inbound_events (
			id, event_type, payload, signature, event_ts, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.EventType, []byte(event.Payload), event.Signature,
		event.EventTS, event.Status, event.Attempts, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrReplayDetected)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InboundEventRepository) GetPending(ctx context.Context, limit int) ([]domain.InboundEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inboundEventColumns+` FROM inbound_events
		WHERE status = $1 ORDER BY created_at LIMIT $2`,
		domain.InboundEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var events []domain.InboundEvent
	for rows.Next() {
		var e domain.InboundEvent
		var payload []byte
		err := rows.Scan(&e.ID, &e.EventType, &payload, &e.Signature, &e.EventTS, &e.Status, &e.Attempts, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return events, nil
}

func (r *InboundEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.InboundEventStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE inbound_events SET status = $1, attempts = attempts + 1 WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return nil
}
