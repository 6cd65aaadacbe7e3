package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
)

type tontineRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
}

type memberRepo interface {
	GetActiveByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error)
}

type sessionRepo interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	HasUnfinished(ctx context.Context, tontineID uuid.UUID) (bool, error)
	NextSeq(ctx context.Context, tontineID uuid.UUID) (int, error)
	CASOpen(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CASClose(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) (bool, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	SessionContributions(ctx context.Context, sessionID uuid.UUID) (int64, error)
	ContributionsByMember(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error)
}

type Service struct {
	tontines tontineRepo
	members  memberRepo
	sessions sessionRepo
	ledger   ledgerRepo
	db       *sql.DB
	config   *config.Config
	notifier notify.Notifier
}

func NewService(
	tontines tontineRepo,
	members memberRepo,
	sessions sessionRepo,
	ledger ledgerRepo,
	db *sql.DB,
	cfg *config.Config,
	notifier notify.Notifier,
) *Service {
	return &Service{
		tontines: tontines,
		members:  members,
		sessions: sessions,
		ledger:   ledger,
		db:       db,
		config:   cfg,
		notifier: notifier,
	}
}

// Create schedules the next contribution session. At most one session per
// tontine may be anything other than closed; the expected total is
// snapshotted from the active membership now.
func (s *Service) Create(ctx context.Context, tontineID uuid.UUID, periodStart, periodEnd time.Time) (*domain.Session, error) {
	tontine, err := s.tontines.GetByID(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if tontine.Status != domain.TontineStatusActive {
		return nil, fmt.Errorf("Create: tontine %s: %w", tontine.Status, domain.ErrInvalidState)
	}

	unfinished, err := s.sessions.HasUnfinished(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if unfinished {
		return nil, fmt.Errorf("Create: prior session still open: %w", domain.ErrInvalidState)
	}

	members, err := s.members.GetActiveByTontine(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	seq, err := s.sessions.NextSeq(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:            uuid.New(),
		TontineID:     tontineID,
		Seq:           seq,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		Status:        domain.SessionStatusScheduled,
		ExpectedTotal: tontine.ContributionAmount * int64(len(members)),
		CreatedAt:     now,
	}

	// The partial unique index turns a create/create race into ErrInvalidState.
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	logging.FromContext(ctx).Info("session created",
		"session_id", sess.ID,
		"tontine_id", tontineID,
		"seq", seq,
		"expected_total", sess.ExpectedTotal,
	)
	return sess, nil
}

// Open moves a scheduled session into collection; members' obligations
// become due.
func (s *Service) Open(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	if !sess.Status.CanTransitionTo(domain.SessionStatusOpen) {
		return nil, fmt.Errorf("Open: from %s: %w", sess.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	won, err := s.sessions.CASOpen(ctx, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Open: %w", domain.ErrInvalidTransition)
	}

	sess.Status = domain.SessionStatusOpen
	sess.OpenedAt = &now

	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventSessionOpened,
		TontineID: sess.TontineID,
		SessionID: sess.ID,
		At:        now,
	})

	logging.FromContext(ctx).Info("session opened", "session_id", sess.ID, "tontine_id", sess.TontineID)
	return sess, nil
}

// Close ends collection for an open session. Members whose obligation is
// still pending or partial are marked late and a penalty entry is posted
// per the tontine's penalty policy. Closing an already-closed session is a
// reported no-op.
func (s *Service) Close(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	log := logging.FromContext(ctx)

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}
	if sess.Status == domain.SessionStatusClosed {
		log.Info("session already closed", "session_id", sessionID)
		return sess, nil
	}
	if !sess.Status.CanTransitionTo(domain.SessionStatusClosed) {
		return nil, fmt.Errorf("Close: from %s: %w", sess.Status, domain.ErrInvalidTransition)
	}

	tontine, err := s.tontines.GetByID(ctx, sess.TontineID)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}

	members, err := s.members.GetActiveByTontine(ctx, sess.TontineID)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}

	contributed, err := s.ledger.ContributionsByMember(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Close: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	won, err := s.sessions.CASClose(ctx, tx, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}
	if !won {
		// A concurrent close got there first; report the no-op.
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("Close: %w", err)
		}
		log.Info("session closed concurrently", "session_id", sessionID)
		return current, nil
	}

	lateCount := 0
	for _, m := range members {
		if contributed[m.ID] >= tontine.ContributionAmount {
			continue
		}
		lateCount++
		penalty := tontine.PenaltyFor(tontine.ContributionAmount)
		if penalty <= 0 {
			continue
		}
		memberID := m.ID
		entry := &domain.LedgerEntry{
			ID:        uuid.New(),
			TontineID: sess.TontineID,
			SessionID: &sess.ID,
			Kind:      domain.EntryKindPenalty,
			Amount:    penalty,
			MemberID:  &memberID,
			CreatedAt: now,
		}
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("Close: penalty entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Close: commit: %w", err)
	}

	sess.Status = domain.SessionStatusClosed
	sess.ClosedAt = &now

	log.Info("session closed",
		"session_id", sess.ID,
		"tontine_id", sess.TontineID,
		"late_members", lateCount,
	)
	return sess, nil
}

// RemindDue emits a reminder event for every member whose obligation is
// still short. Reminders start going out GraceDays before the period ends;
// before that the call is a counted no-op. Returns how many were sent.
func (s *Service) RemindDue(ctx context.Context, sessionID uuid.UUID) (int, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("RemindDue: %w", err)
	}
	if sess.Status != domain.SessionStatusOpen {
		return 0, fmt.Errorf("RemindDue: session %s: %w", sess.Status, domain.ErrInvalidState)
	}

	tontine, err := s.tontines.GetByID(ctx, sess.TontineID)
	if err != nil {
		return 0, fmt.Errorf("RemindDue: %w", err)
	}

	now := time.Now().UTC()
	if now.Before(sess.PeriodEnd.AddDate(0, 0, -tontine.GraceDays)) {
		return 0, nil
	}

	members, err := s.members.GetActiveByTontine(ctx, sess.TontineID)
	if err != nil {
		return 0, fmt.Errorf("RemindDue: %w", err)
	}
	contributed, err := s.ledger.ContributionsByMember(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("RemindDue: %w", err)
	}

	sent := 0
	for _, m := range members {
		shortfall := tontine.ContributionAmount - contributed[m.ID]
		if shortfall <= 0 {
			continue
		}
		s.notifier.Notify(ctx, notify.Event{
			Type:      notify.EventReminderDue,
			TontineID: sess.TontineID,
			SessionID: sess.ID,
			MemberID:  m.ID,
			Amount:    shortfall,
			At:        now,
		})
		sent++
	}

	logging.FromContext(ctx).Info("contribution reminders sent",
		"session_id", sessionID, "count", sent)
	return sent, nil
}

type Stats struct {
	SessionID      uuid.UUID
	Status         domain.SessionStatus
	ExpectedTotal  int64
	ReceivedTotal  int64
	CollectionRate decimal.Decimal
	Obligations    []domain.Obligation
}

// Stats aggregates the ledger into the session picture: received total and
// per-member obligation states. Pure read, safe to run concurrently with
// callback processing.
func (s *Service) Stats(ctx context.Context, sessionID uuid.UUID) (*Stats, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	tontine, err := s.tontines.GetByID(ctx, sess.TontineID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	members, err := s.members.GetActiveByTontine(ctx, sess.TontineID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	received, err := s.ledger.SessionContributions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	contributed, err := s.ledger.ContributionsByMember(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	closed := sess.Status == domain.SessionStatusClosed
	obligations := make([]domain.Obligation, 0, len(members))
	for _, m := range members {
		paid := contributed[m.ID]
		obligations = append(obligations, domain.Obligation{
			SessionID: sess.ID,
			MemberID:  m.ID,
			Expected:  tontine.ContributionAmount,
			Paid:      paid,
			State:     domain.DeriveObligationState(tontine.ContributionAmount, paid, closed),
		})
	}

	rate := decimal.Zero
	if sess.ExpectedTotal > 0 {
		rate = decimal.NewFromInt(received).
			Div(decimal.NewFromInt(sess.ExpectedTotal)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	return &Stats{
		SessionID:      sess.ID,
		Status:         sess.Status,
		ExpectedTotal:  sess.ExpectedTotal,
		ReceivedTotal:  received,
		CollectionRate: rate,
		Obligations:    obligations,
	}, nil
}

// IsNotFound helps handlers keep absent-session errors distinct from state
// errors on the same endpoints.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
