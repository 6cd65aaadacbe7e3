package tontine_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
	"github.com/kobiri-app/kobiri-backend/internal/repository"
	"github.com/kobiri-app/kobiri-backend/internal/service/session"
	"github.com/kobiri-app/kobiri-backend/internal/service/tontine"
	"github.com/kobiri-app/kobiri-backend/internal/testutil"
)

func setupTontines(t *testing.T, db *sql.DB) *tontine.Service {
	t.Helper()
	cfg := &config.Config{
		Currency:       "XOF",
		PenaltyMode:    "fixed",
		PenaltyAmount:  750,
		PenaltyPercent: "5",
	}
	tontines := repository.NewTontineRepository(db)
	members := repository.NewMemberRepository(db)
	sessions := repository.NewSessionRepository(db)
	ledger := repository.NewLedgerRepository(db)
	sessionSvc := session.NewService(tontines, members, sessions, ledger, db, cfg, notify.Noop{})
	return tontine.NewService(tontines, members, sessions, sessionSvc, cfg)
}

func createRequest(createdBy *domain.User) tontine.CreateRequest {
	return tontine.CreateRequest{
		Name:               "Natt bu mag",
		Currency:           "XOF",
		Type:               domain.TontineTypeRotating,
		Frequency:          domain.FrequencyMonthly,
		ContributionAmount: 25000,
		RotationPolicy:     domain.RotationPolicyJoinDate,
		PenaltyMode:        domain.PenaltyModeFixed,
		PenaltyAmount:      500,
		CreatedByID:        createdBy.ID,
		CreatorDisplayName: createdBy.Name,
	}
}

func TestCreate_EnrollsCreatorWithJoinCode(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)

	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)
	assert.Len(t, tn.Code, 6)
	assert.Equal(t, domain.TontineStatusActive, tn.Status)

	members, err := svc.Members(ctx, tn.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, creator.ID, members[0].UserID)
	assert.Equal(t, "Ndèye", members[0].DisplayName)
}

func TestCreate_PenaltyPolicyDefaultsFromConfig(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)

	req := createRequest(creator)
	req.PenaltyMode = ""
	req.PenaltyAmount = 0

	tn, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.PenaltyModeFixed, tn.PenaltyMode)
	assert.Equal(t, int64(750), tn.PenaltyAmount)

	// An explicit policy in the request is kept as given.
	req2 := createRequest(creator)
	req2.PenaltyMode = domain.PenaltyModeFixed
	req2.PenaltyAmount = 1000

	tn2, err := svc.Create(ctx, req2)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), tn2.PenaltyAmount)
}

func TestJoin_ByCode(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)
	joiner := testutil.SeedUser(t, db, "+221750000002", "Ousmane", domain.RoleMember)

	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)

	m, err := svc.Join(ctx, tn.Code, joiner.ID, "Ousmane")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, m.TontineID)
	assert.Equal(t, domain.MemberStatusActive, m.Status)

	// Already a member.
	_, err = svc.Join(ctx, tn.Code, joiner.ID, "Ousmane")
	assert.ErrorIs(t, err, domain.ErrMemberExists)

	// Bad code.
	_, err = svc.Join(ctx, "ZZZZZZ", joiner.ID, "Ousmane")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoin_ClosedTontineRefused(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)
	joiner := testutil.SeedUser(t, db, "+221750000002", "Ousmane", domain.RoleMember)

	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)
	_, err = svc.Close(ctx, tn.ID)
	require.NoError(t, err)

	_, err = svc.Join(ctx, tn.Code, joiner.ID, "Ousmane")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestLeave_SelfAndManagerRemoval(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)
	joiner := testutil.SeedUser(t, db, "+221750000002", "Ousmane", domain.RoleMember)
	other := testutil.SeedUser(t, db, "+221750000003", "Astou", domain.RoleMember)

	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)
	m, err := svc.Join(ctx, tn.Code, joiner.ID, "Ousmane")
	require.NoError(t, err)
	m2, err := svc.Join(ctx, tn.Code, other.ID, "Astou")
	require.NoError(t, err)

	// Someone else's membership is off limits to a plain member.
	_, err = svc.Leave(ctx, m.ID, other.ID, domain.RoleMember)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	left, err := svc.Leave(ctx, m.ID, joiner.ID, domain.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberStatusLeft, left.Status)
	require.NotNil(t, left.LeftAt)

	removed, err := svc.Leave(ctx, m2.ID, creator.ID, domain.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberStatusRemoved, removed.Status)

	// Departed members drop out of the active roster.
	members, err := svc.Members(ctx, tn.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, creator.ID, members[0].UserID)

	_, err = svc.Leave(ctx, m.ID, joiner.ID, domain.RoleMember)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestClose_TerminatesOpenSession(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)
	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)
	sess := testutil.SeedOpenSession(t, db, tn.ID, 1, 25000)

	closed, err := svc.Close(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TontineStatusClosed, closed.Status)

	var sessStatus string
	require.NoError(t, db.QueryRow(`SELECT status FROM sessions WHERE id = $1`, sess.ID).Scan(&sessStatus))
	assert.Equal(t, "closed", sessStatus)

	// The session goes through the lifecycle close, so the creator's unmet
	// obligation still earns its penalty entry.
	var penalties int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE session_id = $1 AND kind = 'penalty'`, sess.ID,
	).Scan(&penalties))
	assert.Equal(t, 1, penalties)

	// Closing again reports the closed tontine without complaint.
	again, err := svc.Close(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TontineStatusClosed, again.Status)
}

func TestSuspendAndResume(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupTontines(t, db)
	ctx := context.Background()

	creator := testutil.SeedUser(t, db, "+221750000001", "Ndèye", domain.RoleManager)
	tn, err := svc.Create(ctx, createRequest(creator))
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TontineStatusSuspended, suspended.Status)

	resumed, err := svc.Resume(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TontineStatusActive, resumed.Status)

	// A closed tontine cannot come back.
	_, err = svc.Close(ctx, tn.ID)
	require.NoError(t, err)
	_, err = svc.Resume(ctx, tn.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
