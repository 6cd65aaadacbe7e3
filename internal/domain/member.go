package domain

import (
	"time"

	"github.com/google/uuid"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusLeft    MemberStatus = "left"
	MemberStatusRemoved MemberStatus = "removed"
)

// Member links a user to a tontine. Unique per (tontine, user); leaving or
// removal never rewrites ledger entries the member already produced.
type Member struct {
	ID          uuid.UUID
	TontineID   uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Status      MemberStatus
	JoinedAt    time.Time
	LeftAt      *time.Time
}
