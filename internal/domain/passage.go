package domain

import (
	"time"

	"github.com/google/uuid"
)

type PassageStatus string

const (
	PassageStatusPending   PassageStatus = "pending"
	PassageStatusActive    PassageStatus = "active"
	PassageStatusPaidOut   PassageStatus = "paid_out"
	PassageStatusConfirmed PassageStatus = "confirmed"
)

// CanTransitionTo: pending → active → paid_out → confirmed, strictly
// forward. Confirmed closes the rotation turn.
func (s PassageStatus) CanTransitionTo(next PassageStatus) bool {
	switch s {
	case PassageStatusPending:
		return next == PassageStatusActive
	case PassageStatusActive:
		return next == PassageStatusPaidOut
	case PassageStatusPaidOut:
		return next == PassageStatusConfirmed
	default:
		return false
	}
}

// Passage is one member's turn to receive the pot. The rotation order is
// the ordered set of a tontine's passages by rank.
type Passage struct {
	ID          uuid.UUID
	TontineID   uuid.UUID
	MemberID    uuid.UUID
	Rank        int
	Status      PassageStatus
	SessionID   *uuid.UUID
	AmountPaid  int64
	ConfirmedAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
