package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
)

type tontineRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
}

type memberRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	GetActiveByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error)
}

type sessionRepo interface {
	GetOpenByTontine(ctx context.Context, tontineID uuid.UUID) (*domain.Session, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Session, error)
}

type passageRepo interface {
	ReplaceOrder(ctx context.Context, tx *sql.Tx, tontineID uuid.UUID, passages []domain.Passage) error
	ClearConfirmed(ctx context.Context, tx *sql.Tx, tontineID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Passage, error)
	GetByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Passage, error)
	GetLowestPending(ctx context.Context, tontineID uuid.UUID) (*domain.Passage, error)
	CASActivate(ctx context.Context, id, sessionID uuid.UUID) (bool, error)
	CASPayOut(ctx context.Context, tx *sql.Tx, id uuid.UUID, amountPaid int64) (bool, error)
	CASConfirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, tontineID uuid.UUID) (total, unconfirmed int, err error)
	HasNonPending(ctx context.Context, tontineID uuid.UUID) (bool, error)
	HasActive(ctx context.Context, tontineID uuid.UUID) (bool, error)
	HasAny(ctx context.Context, tontineID uuid.UUID) (bool, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	SessionBalanceTx(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) (int64, error)
}

type Service struct {
	tontines tontineRepo
	members  memberRepo
	sessions sessionRepo
	passages passageRepo
	ledger   ledgerRepo
	db       *sql.DB
	notifier notify.Notifier
	newRand  func() *rand.Rand
}

func NewService(
	tontines tontineRepo,
	members memberRepo,
	sessions sessionRepo,
	passages passageRepo,
	ledger ledgerRepo,
	db *sql.DB,
	notifier notify.Notifier,
) *Service {
	return &Service{
		tontines: tontines,
		members:  members,
		sessions: sessions,
		passages: passages,
		ledger:   ledger,
		db:       db,
		notifier: notifier,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

// GenerateOrder builds the passage order for a tontine from its active
// members. While any passage is in flight the order is frozen; a fully
// confirmed cycle may be replaced by a new one. With force, an all-pending
// order is replaced; without it an existing order is an error.
func (s *Service) GenerateOrder(ctx context.Context, tontineID uuid.UUID, policy domain.RotationPolicy, force bool) ([]domain.Passage, error) {
	tontine, err := s.tontines.GetByID(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("GenerateOrder: %w", err)
	}
	if tontine.Status != domain.TontineStatusActive {
		return nil, fmt.Errorf("GenerateOrder: tontine %s: %w", tontine.Status, domain.ErrInvalidState)
	}

	started, err := s.passages.HasNonPending(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("GenerateOrder: %w", err)
	}
	freshCycle := false
	if started {
		// A finished cycle may be replaced by a new order; an order with
		// turns still in flight may not.
		_, unconfirmed, err := s.passages.CountByStatus(ctx, tontineID)
		if err != nil {
			return nil, fmt.Errorf("GenerateOrder: %w", err)
		}
		if unconfirmed > 0 {
			return nil, fmt.Errorf("GenerateOrder: rotation already underway: %w", domain.ErrInvalidState)
		}
		freshCycle = true
	}

	if !force && !freshCycle {
		exists, err := s.passages.HasAny(ctx, tontineID)
		if err != nil {
			return nil, fmt.Errorf("GenerateOrder: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("GenerateOrder: order already exists: %w", domain.ErrInvalidState)
		}
	}

	members, err := s.members.GetActiveByTontine(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("GenerateOrder: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("GenerateOrder: no active members: %w", domain.ErrInvalidState)
	}

	ordered, err := orderMembers(members, policy, s.newRand())
	if err != nil {
		return nil, fmt.Errorf("GenerateOrder: %w", err)
	}

	now := time.Now().UTC()
	passages := make([]domain.Passage, len(ordered))
	for i, m := range ordered {
		passages[i] = domain.Passage{
			ID:        uuid.New(),
			TontineID: tontineID,
			MemberID:  m.ID,
			Rank:      i + 1,
			Status:    domain.PassageStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("GenerateOrder: begin tx: %w", err)
	}
	defer tx.Rollback()

	if freshCycle {
		if err := s.passages.ClearConfirmed(ctx, tx, tontineID); err != nil {
			return nil, fmt.Errorf("GenerateOrder: %w", err)
		}
	}
	if err := s.passages.ReplaceOrder(ctx, tx, tontineID, passages); err != nil {
		return nil, fmt.Errorf("GenerateOrder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("GenerateOrder: commit: %w", err)
	}

	logging.FromContext(ctx).Info("rotation order generated",
		"tontine_id", tontineID,
		"policy", policy,
		"passages", len(passages),
		"forced", force,
	)
	return passages, nil
}

// StartPassage activates the lowest-ranked pending passage and binds it to
// the tontine's current open session. Only one passage may be active at a
// time; a partial unique index enforces that under races.
func (s *Service) StartPassage(ctx context.Context, tontineID uuid.UUID) (*domain.Passage, error) {
	active, err := s.passages.HasActive(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("StartPassage: %w", err)
	}
	if active {
		return nil, fmt.Errorf("StartPassage: %w", domain.ErrActivePassageExists)
	}

	sess, err := s.sessions.GetOpenByTontine(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("StartPassage: open session: %w", err)
	}

	passage, err := s.passages.GetLowestPending(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("StartPassage: %w", err)
	}

	won, err := s.passages.CASActivate(ctx, passage.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("StartPassage: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("StartPassage: %w", domain.ErrActivePassageExists)
	}

	passage.Status = domain.PassageStatusActive
	passage.SessionID = &sess.ID

	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventPassageActivated,
		TontineID: tontineID,
		SessionID: sess.ID,
		MemberID:  passage.MemberID,
		At:        time.Now().UTC(),
	})
	logging.FromContext(ctx).Info("passage activated",
		"passage_id", passage.ID,
		"tontine_id", tontineID,
		"member_id", passage.MemberID,
		"rank", passage.Rank,
	)
	return passage, nil
}

// Payout hands the pot to the active passage's member. The session row is
// locked while the available balance is computed, so a concurrent payout or
// confirmation cannot change the funds between the check and the write. A
// payout can never exceed what the session has actually collected.
func (s *Service) Payout(ctx context.Context, passageID uuid.UUID) (*domain.Passage, error) {
	passage, err := s.passages.GetByID(ctx, passageID)
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}
	if passage.Status != domain.PassageStatusActive {
		return nil, fmt.Errorf("Payout: passage %s: %w", passage.Status, domain.ErrInvalidState)
	}
	if passage.SessionID == nil {
		return nil, fmt.Errorf("Payout: passage has no session: %w", domain.ErrInvalidState)
	}

	tontine, err := s.tontines.GetByID(ctx, passage.TontineID)
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Payout: begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := s.sessions.GetForUpdate(ctx, tx, *passage.SessionID)
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}

	available, err := s.ledger.SessionBalanceTx(ctx, tx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}

	amount := tontine.PayoutAmount
	if amount == 0 {
		amount = sess.ExpectedTotal
	}
	if available < amount {
		return nil, fmt.Errorf("Payout: have %d, need %d: %w", available, amount, domain.ErrInsufficientFunds)
	}

	won, err := s.passages.CASPayOut(ctx, tx, passage.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("Payout: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Payout: %w", domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	passageRef := passage.ID
	memberID := passage.MemberID
	sessionID := sess.ID
	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		TontineID: passage.TontineID,
		SessionID: &sessionID,
		Kind:      domain.EntryKindPayout,
		Amount:    -amount,
		PassageID: &passageRef,
		MemberID:  &memberID,
		CreatedAt: now,
	}
	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("Payout: ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Payout: commit: %w", err)
	}

	passage.Status = domain.PassageStatusPaidOut
	passage.AmountPaid = amount

	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventPayoutMade,
		TontineID: passage.TontineID,
		SessionID: sess.ID,
		MemberID:  passage.MemberID,
		Amount:    amount,
		At:        now,
	})
	logging.FromContext(ctx).Info("payout made",
		"passage_id", passage.ID,
		"tontine_id", passage.TontineID,
		"member_id", passage.MemberID,
		"amount", amount,
	)
	return passage, nil
}

// ConfirmReceipt records the recipient's acknowledgement that the pot
// arrived. The recipient themself or a manager may confirm.
func (s *Service) ConfirmReceipt(ctx context.Context, passageID uuid.UUID, actorUserID uuid.UUID, actorRole domain.Role) (*domain.Passage, error) {
	passage, err := s.passages.GetByID(ctx, passageID)
	if err != nil {
		return nil, fmt.Errorf("ConfirmReceipt: %w", err)
	}
	if passage.Status == domain.PassageStatusConfirmed {
		return passage, nil
	}
	if passage.Status != domain.PassageStatusPaidOut {
		return nil, fmt.Errorf("ConfirmReceipt: passage %s: %w", passage.Status, domain.ErrInvalidTransition)
	}

	if actorRole != domain.RoleManager {
		member, err := s.members.GetByID(ctx, passage.MemberID)
		if err != nil {
			return nil, fmt.Errorf("ConfirmReceipt: %w", err)
		}
		if member.UserID != actorUserID {
			return nil, fmt.Errorf("ConfirmReceipt: %w", domain.ErrForbidden)
		}
	}

	now := time.Now().UTC()
	won, err := s.passages.CASConfirm(ctx, passageID, now)
	if err != nil {
		return nil, fmt.Errorf("ConfirmReceipt: %w", err)
	}
	if !won {
		current, err := s.passages.GetByID(ctx, passageID)
		if err != nil {
			return nil, fmt.Errorf("ConfirmReceipt: %w", err)
		}
		return current, nil
	}

	passage.Status = domain.PassageStatusConfirmed
	passage.ConfirmedAt = &now

	logging.FromContext(ctx).Info("passage confirmed",
		"passage_id", passage.ID, "tontine_id", passage.TontineID)
	return passage, nil
}

// CycleComplete reports whether every turn of the rotation has been taken
// and acknowledged. An empty order is never complete.
func (s *Service) CycleComplete(ctx context.Context, tontineID uuid.UUID) (bool, error) {
	total, unconfirmed, err := s.passages.CountByStatus(ctx, tontineID)
	if err != nil {
		return false, fmt.Errorf("CycleComplete: %w", err)
	}
	return total > 0 && unconfirmed == 0, nil
}
