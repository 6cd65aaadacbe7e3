package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusOpen      SessionStatus = "open"
	SessionStatusClosed    SessionStatus = "closed"
)

// CanTransitionTo: scheduled → open → closed, closing is irreversible.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return next == SessionStatusOpen
	case SessionStatusOpen:
		return next == SessionStatusClosed
	default:
		return false
	}
}

// Session is one contribution cycle of a tontine. ExpectedTotal is
// snapshotted from active members at creation; the received total is never
// stored, it is always derived from the ledger.
type Session struct {
	ID            uuid.UUID
	TontineID     uuid.UUID
	Seq           int
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Status        SessionStatus
	ExpectedTotal int64
	OpenedAt      *time.Time
	ClosedAt      *time.Time
	Version       int64
	CreatedAt     time.Time
}

type ObligationState string

const (
	ObligationPending ObligationState = "pending"
	ObligationPartial ObligationState = "partial"
	ObligationPaid    ObligationState = "paid"
	ObligationLate    ObligationState = "late"
)

// Obligation is the derived per-member due state for a session. It is
// computed from confirmed payments, never mutated directly.
type Obligation struct {
	SessionID uuid.UUID
	MemberID  uuid.UUID
	Expected  int64
	Paid      int64
	State     ObligationState
}

// DeriveObligationState classifies what a member has paid against what was
// expected. Late only applies once the session is closed.
func DeriveObligationState(expected, paid int64, sessionClosed bool) ObligationState {
	switch {
	case paid >= expected:
		return ObligationPaid
	case sessionClosed:
		return ObligationLate
	case paid > 0:
		return ObligationPartial
	default:
		return ObligationPending
	}
}
