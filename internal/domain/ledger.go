package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryKind string

const (
	EntryKindContribution EntryKind = "contribution"
	EntryKindPenalty      EntryKind = "penalty"
	EntryKindPayout       EntryKind = "payout"
)

// LedgerEntry is an immutable confirmed monetary movement. Contributions
// and penalties carry positive amounts into the pool, payouts negative
// amounts out of it; a balance is the signed sum. Entries are append-only
// and never rolled back.
type LedgerEntry struct {
	ID        uuid.UUID
	TontineID uuid.UUID
	SessionID *uuid.UUID
	Kind      EntryKind
	Amount    int64
	PaymentID *uuid.UUID
	PassageID *uuid.UUID
	MemberID  *uuid.UUID
	CreatedAt time.Time
}
