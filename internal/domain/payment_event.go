package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PaymentEventType string

const (
	PaymentEventTypeCreated   PaymentEventType = "created"
	PaymentEventTypeConfirmed PaymentEventType = "confirmed"
	PaymentEventTypeRejected  PaymentEventType = "rejected"
	PaymentEventTypeFailed    PaymentEventType = "failed"
)

// PaymentEvent is an audit row for every payment transition, including the
// actor that caused it (a validating manager, or "gateway:<provider>").
type PaymentEvent struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EventType PaymentEventType
	Actor     string
	Payload   json.RawMessage
	CreatedAt time.Time
}
