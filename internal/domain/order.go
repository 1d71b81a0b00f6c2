package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusValidated      OrderStatus = "VALIDATED"
	OrderStatusCreditReserved OrderStatus = "CREDIT_RESERVED"
	OrderStatusVendorNotified OrderStatus = "VENDOR_NOTIFIED"
	OrderStatusVendorAccepted OrderStatus = "VENDOR_ACCEPTED"
	OrderStatusVendorRejected OrderStatus = "VENDOR_REJECTED"
	OrderStatusFulfilled      OrderStatus = "FULFILLED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusFailed         OrderStatus = "FAILED"
)

// allowedTransitions is the full edge set of the order lifecycle. Terminal
// states have no outgoing edges; any pair not listed here is illegal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:        {OrderStatusValidated, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusValidated:      {OrderStatusCreditReserved, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusCreditReserved: {OrderStatusVendorNotified, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusVendorNotified: {OrderStatusVendorAccepted, OrderStatusVendorRejected, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusVendorAccepted: {OrderStatusFulfilled, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusVendorRejected: {OrderStatusCancelled, OrderStatusFailed},
	OrderStatusFulfilled:      nil,
	OrderStatusCancelled:      nil,
	OrderStatusFailed:         nil,
}

func (s OrderStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal successor states of s. The returned
// slice is a copy.
func AllowedTransitions(s OrderStatus) []OrderStatus {
	next := allowedTransitions[s]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

type Order struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
