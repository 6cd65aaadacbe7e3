package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

func SeedUser(t *testing.T, db *sql.DB, phone, name string, role domain.Role) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           uuid.New(),
		Phone:        phone,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO users (id, phone, name, password_hash, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Phone, u.Name, u.PasswordHash, u.Role, u.Status, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", phone, err)
	}
	return u
}

func SeedTontine(t *testing.T, db *sql.DB, createdBy uuid.UUID, contribution int64) *domain.Tontine {
	t.Helper()

	now := time.Now().UTC()
	tn := &domain.Tontine{
		ID:                 uuid.New(),
		Name:               "Tontine du quartier",
		Code:               uuid.NewString()[:8],
		Type:               domain.TontineTypeRotating,
		Frequency:          domain.FrequencyMonthly,
		ContributionAmount: contribution,
		Currency:           "XOF",
		RotationPolicy:     domain.RotationPolicyJoinDate,
		PenaltyMode:        domain.PenaltyModeFixed,
		PenaltyAmount:      500,
		Status:             domain.TontineStatusActive,
		CreatedByID:        createdBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err := db.Exec(
		`INSERT INTO tontines (
			id, name, code, type, frequency, contribution_amount, currency,
			rotation_policy, penalty_mode, penalty_amount, penalty_percent, grace_days,
			payout_amount, status, created_by_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		tn.ID, tn.Name, tn.Code, tn.Type, tn.Frequency, tn.ContributionAmount, tn.Currency,
		tn.RotationPolicy, tn.PenaltyMode, tn.PenaltyAmount, tn.PenaltyPercent, tn.GraceDays,
		tn.PayoutAmount, tn.Status, tn.CreatedByID, tn.Version, tn.CreatedAt, tn.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed tontine: %v", err)
	}
	return tn
}

func SeedMember(t *testing.T, db *sql.DB, tontineID, userID uuid.UUID, displayName string, joinedAt time.Time) *domain.Member {
	t.Helper()

	m := &domain.Member{
		ID:          uuid.New(),
		TontineID:   tontineID,
		UserID:      userID,
		DisplayName: displayName,
		Status:      domain.MemberStatusActive,
		JoinedAt:    joinedAt,
	}

	_, err := db.Exec(
		`INSERT INTO members (id, tontine_id, user_id, display_name, status, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.TontineID, m.UserID, m.DisplayName, m.Status, m.JoinedAt,
	)
	if err != nil {
		t.Fatalf("seed member %s: %v", displayName, err)
	}
	return m
}

func SeedOpenSession(t *testing.T, db *sql.DB, tontineID uuid.UUID, seq int, expectedTotal int64) *domain.Session {
	t.Helper()

	now := time.Now().UTC()
	opened := now
	s := &domain.Session{
		ID:            uuid.New(),
		TontineID:     tontineID,
		Seq:           seq,
		PeriodStart:   now,
		PeriodEnd:     now.Add(30 * 24 * time.Hour),
		Status:        domain.SessionStatusOpen,
		ExpectedTotal: expectedTotal,
		OpenedAt:      &opened,
		CreatedAt:     now,
	}

	_, err := db.Exec(
		`INSERT INTO sessions (id, tontine_id, seq, period_start, period_end, status, expected_total, opened_at, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		s.ID, s.TontineID, s.Seq, s.PeriodStart, s.PeriodEnd, s.Status, s.ExpectedTotal, s.OpenedAt, s.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func SessionBalance(t *testing.T, db *sql.DB, sessionID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE session_id = $1`, sessionID,
	).Scan(&balance)
	if err != nil {
		t.Fatalf("session balance %s: %v", sessionID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, paymentID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE payment_id = $1`, paymentID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for payment %s: %v", paymentID, err)
	}
	return count
}
