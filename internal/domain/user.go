package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is managed by an external registration service; the core only reads
// identity and display data for membership and rotation ordering.
type User struct {
	ID           uuid.UUID
	Phone        string
	Name         string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
}
