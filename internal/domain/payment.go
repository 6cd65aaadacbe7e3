package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodManual    PaymentMethod = "manual"
	PaymentMethodOrange    PaymentMethod = "orange"
	PaymentMethodMTN       PaymentMethod = "mtn"
	PaymentMethodWave      PaymentMethod = "wave"
	PaymentMethodMoov      PaymentMethod = "moov"
	PaymentMethodFreeMoney PaymentMethod = "free_money"
)

// IsMobileMoney reports whether the method settles through a gateway
// callback rather than a manager's manual validation.
func (m PaymentMethod) IsMobileMoney() bool {
	return m != PaymentMethodManual
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether the status can never change again.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusRejected || s == PaymentStatusFailed
}

// CanTransitionTo: pending is the only non-terminal state; everything else
// is frozen. Duplicate arrivals against a terminal payment are no-ops.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s != PaymentStatusPending {
		return false
	}
	return next == PaymentStatusConfirmed || next == PaymentStatusRejected || next == PaymentStatusFailed
}

// Payment is a single contribution attempt. Rows are never deleted; a
// resolved payment keeps its terminal status forever.
type Payment struct {
	ID               uuid.UUID
	SessionID        uuid.UUID
	MemberID         uuid.UUID
	TontineID        uuid.UUID
	Amount           int64
	Method           PaymentMethod
	Status           PaymentStatus
	IdempotencyKey   string
	ExternalRef      *string
	PhoneNumber      *string
	ProofURL         *string
	ProofDescription *string
	ValidatedByID    *uuid.UUID
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       *time.Time
}
