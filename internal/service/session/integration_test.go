package session_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
	"github.com/kobiri-app/kobiri-backend/internal/repository"
	"github.com/kobiri-app/kobiri-backend/internal/service/session"
	"github.com/kobiri-app/kobiri-backend/internal/testutil"
)

func setupSessions(t *testing.T, db *sql.DB) *session.Service {
	t.Helper()
	return setupSessionsWithNotifier(t, db, notify.Noop{})
}

func setupSessionsWithNotifier(t *testing.T, db *sql.DB, n notify.Notifier) *session.Service {
	t.Helper()
	return session.NewService(
		repository.NewTontineRepository(db),
		repository.NewMemberRepository(db),
		repository.NewSessionRepository(db),
		repository.NewLedgerRepository(db),
		db,
		&config.Config{Currency: "XOF"},
		n,
	)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type groupFixture struct {
	tontine *domain.Tontine
	members []*domain.Member
}

func seedGroup(t *testing.T, db *sql.DB, n int, contribution int64) groupFixture {
	t.Helper()

	manager := testutil.SeedUser(t, db, "+221760000000", "Présidente", domain.RoleManager)
	tn := testutil.SeedTontine(t, db, manager.ID, contribution)

	names := []string{"Fatou", "Ibrahima", "Khady", "Lamine"}
	members := make([]*domain.Member, n)
	for i := range n {
		u := testutil.SeedUser(t, db, "+2217600000"+string(rune('1'+i)), names[i], domain.RoleMember)
		members[i] = testutil.SeedMember(t, db, tn.ID, u.ID, names[i], time.Now().UTC())
	}
	return groupFixture{tontine: tn, members: members}
}

func contribute(t *testing.T, db *sql.DB, f groupFixture, sessionID, memberID uuid.UUID, amount int64) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO ledger_entries (id, tontine_id, session_id, kind, amount, member_id, created_at)
		 VALUES ($1, $2, $3, 'contribution', $4, $5, $6)`,
		uuid.New(), f.tontine.ID, sessionID, amount, memberID, time.Now().UTC(),
	)
	require.NoError(t, err)
}

func TestCreate_SnapshotsExpectedTotal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSessions(t, db)
	ctx := context.Background()
	f := seedGroup(t, db, 3, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Seq)
	assert.Equal(t, domain.SessionStatusScheduled, sess.Status)
	assert.Equal(t, int64(75000), sess.ExpectedTotal)

	// A second session cannot be scheduled while this one is unfinished.
	_, err = svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestOpen_ScheduledOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSessions(t, db)
	ctx := context.Background()
	f := seedGroup(t, db, 2, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)

	opened, err := svc.Open(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusOpen, opened.Status)
	require.NotNil(t, opened.OpenedAt)

	_, err = svc.Open(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestClose_PostsPenaltiesForShortfalls(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSessions(t, db)
	ctx := context.Background()
	// Fixed penalty of 500 per late member comes from the fixture tontine.
	f := seedGroup(t, db, 3, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	_, err = svc.Open(ctx, sess.ID)
	require.NoError(t, err)

	// One member paid in full, one partially, one not at all.
	contribute(t, db, f, sess.ID, f.members[0].ID, 25000)
	contribute(t, db, f, sess.ID, f.members[1].ID, 10000)

	closed, err := svc.Close(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	var penalties int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE session_id = $1 AND kind = 'penalty'`,
		sess.ID,
	).Scan(&penalties))
	assert.Equal(t, 2, penalties)

	// 35000 contributed + 2 × 500 penalty.
	assert.Equal(t, int64(36000), testutil.SessionBalance(t, db, sess.ID))
}

func TestClose_AlreadyClosedIsNoOp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSessions(t, db)
	ctx := context.Background()
	f := seedGroup(t, db, 2, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	_, err = svc.Open(ctx, sess.ID)
	require.NoError(t, err)
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	var penalties int
	countPenalties := func() int {
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM ledger_entries WHERE session_id = $1 AND kind = 'penalty'`,
			sess.ID,
		).Scan(&penalties))
		return penalties
	}
	first := countPenalties()

	again, err := svc.Close(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusClosed, again.Status)
	assert.Equal(t, first, countPenalties())
}

func TestRemindDue_NudgesShortMembers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := &recordingNotifier{}
	svc := setupSessionsWithNotifier(t, db, rec)
	ctx := context.Background()
	f := seedGroup(t, db, 3, 25000)

	// The period has already ended, so reminders are due.
	start := time.Now().UTC().AddDate(0, 0, -30)
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 0, 29))
	require.NoError(t, err)
	_, err = svc.Open(ctx, sess.ID)
	require.NoError(t, err)

	contribute(t, db, f, sess.ID, f.members[0].ID, 25000)
	contribute(t, db, f, sess.ID, f.members[1].ID, 10000)

	sent, err := svc.RemindDue(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	reminders := rec.ofType(notify.EventReminderDue)
	require.Len(t, reminders, 2)
	shortfalls := map[uuid.UUID]int64{}
	for _, e := range reminders {
		shortfalls[e.MemberID] = e.Amount
	}
	assert.Equal(t, int64(15000), shortfalls[f.members[1].ID])
	assert.Equal(t, int64(25000), shortfalls[f.members[2].ID])

	// Closed sessions do not nag anyone.
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)
	_, err = svc.RemindDue(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRemindDue_QuietBeforeTheWindow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rec := &recordingNotifier{}
	svc := setupSessionsWithNotifier(t, db, rec)
	ctx := context.Background()
	f := seedGroup(t, db, 2, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	_, err = svc.Open(ctx, sess.ID)
	require.NoError(t, err)

	sent, err := svc.RemindDue(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Empty(t, rec.ofType(notify.EventReminderDue))
}

func TestStats_RatesAndObligations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupSessions(t, db)
	ctx := context.Background()
	f := seedGroup(t, db, 2, 25000)

	start := time.Now().UTC()
	sess, err := svc.Create(ctx, f.tontine.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	_, err = svc.Open(ctx, sess.ID)
	require.NoError(t, err)

	contribute(t, db, f, sess.ID, f.members[0].ID, 25000)
	contribute(t, db, f, sess.ID, f.members[1].ID, 12500)

	stats, err := svc.Stats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), stats.ExpectedTotal)
	assert.Equal(t, int64(37500), stats.ReceivedTotal)
	assert.True(t, stats.CollectionRate.Equal(decimal.NewFromInt(75)),
		"collection rate = %s", stats.CollectionRate)

	states := map[uuid.UUID]domain.ObligationState{}
	for _, o := range stats.Obligations {
		states[o.MemberID] = o.State
	}
	assert.Equal(t, domain.ObligationPaid, states[f.members[0].ID])
	assert.Equal(t, domain.ObligationPartial, states[f.members[1].ID])

	// After close the shortfall becomes late.
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	stats, err = svc.Stats(ctx, sess.ID)
	require.NoError(t, err)
	for _, o := range stats.Obligations {
		if o.MemberID == f.members[1].ID {
			assert.Equal(t, domain.ObligationLate, o.State)
		}
	}
}
