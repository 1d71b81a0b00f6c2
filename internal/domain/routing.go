package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoutingStatus string

const (
	RoutingStatusPendingResponses RoutingStatus = "PENDING_RESPONSES"
	RoutingStatusWinnerSelected   RoutingStatus = "WINNER_SELECTED"
	RoutingStatusExpired          RoutingStatus = "EXPIRED"
)

// RoutingRecord tracks one order broadcast to multiple candidate fulfillers.
// The status column doubles as the race arbiter: the transition out of
// PENDING_RESPONSES is a single conditional update, so exactly one acceptance
// attempt can ever win.
type RoutingRecord struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    RoutingStatus
	WinnerID  *uuid.UUID
	CreatedAt time.Time
}

type ResponseDecision string

const (
	DecisionAccept ResponseDecision = "ACCEPT"
	DecisionReject ResponseDecision = "REJECT"
)

// ResponseRecord is one candidate's answer to a broadcast. A candidate
// responds at most once per routing; duplicates are idempotent no-ops.
type ResponseRecord struct {
	RoutingID   uuid.UUID
	CandidateID uuid.UUID
	Decision    ResponseDecision
	RespondedAt time.Time
}
