package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TontineType string

const (
	TontineTypeRotating   TontineType = "rotating"
	TontineTypeCumulative TontineType = "cumulative"
	TontineTypeMixed      TontineType = "mixed"
)

type TontineFrequency string

const (
	FrequencyDaily     TontineFrequency = "daily"
	FrequencyWeekly    TontineFrequency = "weekly"
	FrequencyBiweekly  TontineFrequency = "biweekly"
	FrequencyMonthly   TontineFrequency = "monthly"
	FrequencyQuarterly TontineFrequency = "quarterly"
)

type RotationPolicy string

const (
	RotationPolicyRandom       RotationPolicy = "random"
	RotationPolicyAlphabetical RotationPolicy = "alphabetical"
	RotationPolicyJoinDate     RotationPolicy = "join_date"
)

type TontineStatus string

const (
	TontineStatusActive    TontineStatus = "active"
	TontineStatusSuspended TontineStatus = "suspended"
	TontineStatusClosed    TontineStatus = "closed"
)

// CanTransitionTo is the closed transition table for tontine statuses.
// Closed is terminal.
func (s TontineStatus) CanTransitionTo(next TontineStatus) bool {
	switch s {
	case TontineStatusActive:
		return next == TontineStatusSuspended || next == TontineStatusClosed
	case TontineStatusSuspended:
		return next == TontineStatusActive || next == TontineStatusClosed
	default:
		return false
	}
}

type PenaltyMode string

const (
	PenaltyModeFixed   PenaltyMode = "fixed"
	PenaltyModePercent PenaltyMode = "percent"
)

// Tontine is a savings group. Amounts are whole currency units (XOF has
// no subunit).
type Tontine struct {
	ID                 uuid.UUID
	Name               string
	Code               string
	Type               TontineType
	Frequency          TontineFrequency
	ContributionAmount int64
	Currency           string
	RotationPolicy     RotationPolicy
	PenaltyMode        PenaltyMode
	PenaltyAmount      int64
	PenaltyPercent     decimal.Decimal
	GraceDays          int
	PayoutAmount       int64
	Status             TontineStatus
	CreatedByID        uuid.UUID
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PenaltyFor computes the late penalty for a member's expected contribution.
func (t *Tontine) PenaltyFor(expected int64) int64 {
	if t.PenaltyMode == PenaltyModePercent {
		return t.PenaltyPercent.
			Mul(decimal.NewFromInt(expected)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	}
	return t.PenaltyAmount
}
