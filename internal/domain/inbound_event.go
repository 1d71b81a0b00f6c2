package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type InboundEventStatus string

const (
	InboundEventStatusPending   InboundEventStatus = "pending"
	InboundEventStatusProcessed InboundEventStatus = "processed"
	InboundEventStatusFailed    InboundEventStatus = "failed"
)

type InboundEventType string

const (
	InboundEventTypeOrderPlaced    InboundEventType = "order.placed"
	InboundEventTypeOrderCancelled InboundEventType = "order.cancelled"
	InboundEventTypeOrderFulfilled InboundEventType = "order.fulfilled"
)

// InboundEvent is a signed upstream event that passed signature and replay
// checks and was acknowledged. The actual state transition happens
// asynchronously; the (signature, event timestamp) pair is unique so a
// replayed delivery is rejected at insert time.
type InboundEvent struct {
	ID        uuid.UUID
	EventType InboundEventType
	Payload   json.RawMessage
	Signature string
	EventTS   time.Time
	Status    InboundEventStatus
	Attempts  int
	CreatedAt time.Time
}
