package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusConverted ReservationStatus = "CONVERTED_TO_DEBIT"
)

// CreditReservation is a provisional hold against available credit. It is
// not yet a settled debt: it either converts to exactly one DEBIT ledger
// entry on fulfillment or is released on cancel/failure. At most one ACTIVE
// reservation exists per order.
type CreditReservation struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	OrderID       uuid.UUID
	Amount        decimal.Decimal
	Status        ReservationStatus
	ReleaseReason *string
	CreatedAt     time.Time
	ReleasedAt    *time.Time
	ConvertedAt   *time.Time
}

func (r *CreditReservation) Terminal() bool {
	return r.Status != ReservationStatusActive
}
