package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ordlink/ordercore/internal/domain"
)

const routingColumns = `id, order_id, status, winner_id, created_at`

type RoutingRepository struct {
	db *sql.DB
}

func NewRoutingRepository(db *sql.DB) *RoutingRepository {
	return &RoutingRepository{db: db}
}

func (r *RoutingRepository) Create(ctx context.Context, tx *sql.Tx, record *domain.RoutingRecord, candidateIDs []uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO routing_records (id, order_id, status, winner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.OrderID, record.Status, record.WinnerID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	for _, candidateID := range candidateIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO routing_candidates (routing_id, candidate_id) VALUES ($1, $2)`,
			record.ID, candidateID,
		)
		if err != nil {
			return fmt.Errorf("Create: candidate: %w", err)
		}
	}
	return nil
}

func (r *RoutingRepository) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.RoutingRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+routingColumns+` FROM routing_records WHERE id = $1`, id,
	)
	rec, err := scanRouting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return rec, nil
}

func (r *RoutingRepository) IsCandidate(ctx context.Context, q Querier, routingID, candidateID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM routing_candidates WHERE routing_id = $1 AND candidate_id = $2)`,
		routingID, candidateID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("IsCandidate: %w", err)
	}
	return exists, nil
}

// ClaimWinner is the sole arbiter of the acceptance race: a conditional
// update that only fires while the record is still PENDING_RESPONSES.
// Exactly one concurrent caller sees rowsAffected == 1; everyone else gets
// false and must look up the actual winner.
func (r *RoutingRepository) ClaimWinner(ctx context.Context, tx *sql.Tx, routingID, candidateID uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE routing_records SET status = $1, winner_id = $2
		WHERE id = $3 AND status = $4`,
		domain.RoutingStatusWinnerSelected, candidateID,
		routingID, domain.RoutingStatusPendingResponses,
	)
	if err != nil {
		return false, fmt.Errorf("ClaimWinner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ClaimWinner: rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkExpired uses the same conditional-update shape as ClaimWinner, so
// expiry can never race a successful acceptance.
func (r *RoutingRepository) MarkExpired(ctx context.Context, tx *sql.Tx, routingID uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE routing_records SET status = $1
		WHERE id = $2 AND status = $3`,
		domain.RoutingStatusExpired, routingID, domain.RoutingStatusPendingResponses,
	)
	if err != nil {
		return false, fmt.Errorf("MarkExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkExpired: rows affected: %w", err)
	}
	return n == 1, nil
}

// InsertResponse records a candidate's decision. Re-sending the same
// response is an idempotent no-op; the first decision wins.
func (r *RoutingRepository) InsertResponse(ctx context.Context, tx *sql.Tx, resp *domain.ResponseRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO response_records (routing_id, candidate_id, decision, responded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (routing_id, candidate_id) DO NOTHING`,
		resp.RoutingID, resp.CandidateID, resp.Decision, resp.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("InsertResponse: %w", err)
	}
	return nil
}

// UpsertResponse records a decision, replacing any earlier one from the same
// candidate. Used by the winning acceptance path so a candidate who rejected
// and then raced to accept does not stay on record as a rejector.
func (r *RoutingRepository) UpsertResponse(ctx context.Context, tx *sql.Tx, resp *domain.ResponseRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO response_records (routing_id, candidate_id, decision, responded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (routing_id, candidate_id) DO UPDATE
		SET decision = EXCLUDED.decision, responded_at = EXCLUDED.responded_at`,
		resp.RoutingID, resp.CandidateID, resp.Decision, resp.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("UpsertResponse: %w", err)
	}
	return nil
}

func (r *RoutingRepository) GetResponse(ctx context.Context, q Querier, routingID, candidateID uuid.UUID) (*domain.ResponseRecord, error) {
	var resp domain.ResponseRecord
	err := q.QueryRowContext(ctx,
		`SELECT routing_id, candidate_id, decision, responded_at
		FROM response_records WHERE routing_id = $1 AND candidate_id = $2`,
		routingID, candidateID,
	).Scan(&resp.RoutingID, &resp.CandidateID, &resp.Decision, &resp.RespondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetResponse: %w", err)
	}
	return &resp, nil
}

func (r *RoutingRepository) ListResponses(ctx context.Context, routingID uuid.UUID) ([]domain.ResponseRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT routing_id, candidate_id, decision, responded_at
		FROM response_records WHERE routing_id = $1 ORDER BY responded_at`, routingID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListResponses: %w", err)
	}
	defer rows.Close()

	var responses []domain.ResponseRecord
	for rows.Next() {
		var resp domain.ResponseRecord
		if err := rows.Scan(&resp.RoutingID, &resp.CandidateID, &resp.Decision, &resp.RespondedAt); err != nil {
			return nil, fmt.Errorf("ListResponses: scan: %w", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListResponses: rows: %w", err)
	}
	return responses, nil
}

func (r *RoutingRepository) ListCandidates(ctx context.Context, routingID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT candidate_id FROM routing_candidates WHERE routing_id = $1`, routingID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListCandidates: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListCandidates: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCandidates: rows: %w", err)
	}
	return ids, nil
}

func scanRouting(s scanner) (*domain.RoutingRecord, error) {
	var rec domain.RoutingRecord
	err := s.Scan(&rec.ID, &rec.OrderID, &rec.Status, &rec.WinnerID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
