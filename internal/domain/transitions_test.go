package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSessionStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionStatusScheduled, SessionStatusOpen, true},
		{SessionStatusScheduled, SessionStatusClosed, false},
		{SessionStatusOpen, SessionStatusClosed, true},
		{SessionStatusOpen, SessionStatusScheduled, false},
		{SessionStatusClosed, SessionStatusOpen, false},
		{SessionStatusClosed, SessionStatusScheduled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPaymentStatusCanTransitionTo(t *testing.T) {
	terminals := []PaymentStatus{PaymentStatusConfirmed, PaymentStatusRejected, PaymentStatusFailed}

	for _, to := range terminals {
		assert.True(t, PaymentStatusPending.CanTransitionTo(to), "pending -> %s", to)
	}

	// Terminal statuses are frozen in every direction.
	for _, from := range terminals {
		assert.True(t, from.IsTerminal())
		for _, to := range append(terminals, PaymentStatusPending) {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPending))
}

func TestPassageStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to PassageStatus
		want     bool
	}{
		{PassageStatusPending, PassageStatusActive, true},
		{PassageStatusPending, PassageStatusPaidOut, false},
		{PassageStatusActive, PassageStatusPaidOut, true},
		{PassageStatusActive, PassageStatusConfirmed, false},
		{PassageStatusActive, PassageStatusPending, false},
		{PassageStatusPaidOut, PassageStatusConfirmed, true},
		{PassageStatusPaidOut, PassageStatusActive, false},
		{PassageStatusConfirmed, PassageStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTontineStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TontineStatus
		want     bool
	}{
		{TontineStatusActive, TontineStatusSuspended, true},
		{TontineStatusActive, TontineStatusClosed, true},
		{TontineStatusSuspended, TontineStatusActive, true},
		{TontineStatusSuspended, TontineStatusClosed, true},
		{TontineStatusClosed, TontineStatusActive, false},
		{TontineStatusClosed, TontineStatusSuspended, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPenaltyFor(t *testing.T) {
	fixed := &Tontine{PenaltyMode: PenaltyModeFixed, PenaltyAmount: 500}
	assert.Equal(t, int64(500), fixed.PenaltyFor(25000))

	percent := &Tontine{PenaltyMode: PenaltyModePercent, PenaltyPercent: decimal.NewFromInt(5)}
	assert.Equal(t, int64(1250), percent.PenaltyFor(25000))

	// 2.5% of 10001 rounds to the nearest unit
	half := &Tontine{PenaltyMode: PenaltyModePercent, PenaltyPercent: decimal.NewFromFloat(2.5)}
	assert.Equal(t, int64(250), half.PenaltyFor(10001))

	zero := &Tontine{PenaltyMode: PenaltyModePercent, PenaltyPercent: decimal.Zero}
	assert.Equal(t, int64(0), zero.PenaltyFor(25000))
}

func TestDeriveObligationState(t *testing.T) {
	tests := []struct {
		name     string
		expected int64
		paid     int64
		closed   bool
		want     ObligationState
	}{
		{"nothing paid, session open", 25000, 0, false, ObligationPending},
		{"partial, session open", 25000, 10000, false, ObligationPartial},
		{"fully paid, session open", 25000, 25000, false, ObligationPaid},
		{"overpaid counts as paid", 25000, 30000, false, ObligationPaid},
		{"nothing paid, session closed", 25000, 0, true, ObligationLate},
		{"partial, session closed", 25000, 10000, true, ObligationLate},
		{"fully paid, session closed", 25000, 25000, true, ObligationPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveObligationState(tt.expected, tt.paid, tt.closed))
		})
	}
}
