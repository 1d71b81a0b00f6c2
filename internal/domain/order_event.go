package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderEventKind string

const OrderEventKindStateChange OrderEventKind = "STATE_CHANGE"

// OrderEvent is the append-only transition log of an order. It is the sole
// source of truth for "has this order ever passed through state X" -- the
// mutable status column on orders is a projection, not the record.
type OrderEvent struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	Kind        OrderEventKind
	FromState   OrderStatus
	ToState     OrderStatus
	PerformedBy string
	Reason      *string
	CreatedAt   time.Time
}
