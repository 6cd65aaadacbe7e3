package tontine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/repository"
)

type tontineRepo interface {
	Create(ctx context.Context, t *domain.Tontine) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
	GetByCode(ctx context.Context, code string) (*domain.Tontine, error)
	CASStatus(ctx context.Context, id uuid.UUID, from, to domain.TontineStatus) (bool, error)
}

type memberRepo interface {
	Create(ctx context.Context, m *domain.Member) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	GetActiveByTontine(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error)
	MarkLeft(ctx context.Context, id uuid.UUID, status domain.MemberStatus, at time.Time) (bool, error)
}

type sessionRepo interface {
	GetOpenByTontine(ctx context.Context, tontineID uuid.UUID) (*domain.Session, error)
}

// sessionCloser is the session lifecycle close, satisfied by
// session.Service. Closing a tontine goes through it so shortfall
// penalties post the same as a manual session close.
type sessionCloser interface {
	Close(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
}

type Service struct {
	tontines tontineRepo
	members  memberRepo
	sessions sessionRepo
	closer   sessionCloser
	config   *config.Config
}

func NewService(tontines tontineRepo, members memberRepo, sessions sessionRepo, closer sessionCloser, cfg *config.Config) *Service {
	return &Service{tontines: tontines, members: members, sessions: sessions, closer: closer, config: cfg}
}

type CreateRequest struct {
	Name               string
	Currency           string
	Type               domain.TontineType
	Frequency          domain.TontineFrequency
	ContributionAmount int64
	RotationPolicy     domain.RotationPolicy
	PenaltyMode        domain.PenaltyMode
	PenaltyAmount      int64
	PenaltyPercent     decimal.Decimal
	GraceDays          int
	PayoutAmount       int64
	CreatedByID        uuid.UUID
	CreatorDisplayName string
}

// Create registers a tontine and enrolls its creator as the first member.
// The join code is minted here; collisions retry. A request that says
// nothing about penalties gets the platform's configured policy.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Tontine, error) {
	if req.ContributionAmount <= 0 {
		return nil, fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
	}

	mode := req.PenaltyMode
	penaltyAmount := req.PenaltyAmount
	penaltyPct := req.PenaltyPercent
	if mode == "" {
		mode = domain.PenaltyMode(s.config.PenaltyMode)
		if penaltyAmount == 0 {
			penaltyAmount = s.config.PenaltyAmount
		}
		if penaltyPct.IsZero() {
			penaltyPct = s.config.PenaltyPercentDecimal()
		}
	}

	now := time.Now().UTC()
	t := &domain.Tontine{
		ID:                 uuid.New(),
		Name:               req.Name,
		Currency:           req.Currency,
		Type:               req.Type,
		Frequency:          req.Frequency,
		ContributionAmount: req.ContributionAmount,
		RotationPolicy:     req.RotationPolicy,
		PenaltyMode:        mode,
		PenaltyAmount:      penaltyAmount,
		PenaltyPercent:     penaltyPct,
		GraceDays:          req.GraceDays,
		PayoutAmount:       req.PayoutAmount,
		Status:             domain.TontineStatusActive,
		CreatedByID:        req.CreatedByID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// Join codes are short, so a collision is unlikely but possible; retry
	// with a fresh code a few times before giving up.
	for attempt := 0; ; attempt++ {
		t.Code = newJoinCode()
		err := s.tontines.Create(ctx, t)
		if err == nil {
			break
		}
		if attempt < 4 && repository.IsUniqueViolation(err) {
			continue
		}
		return nil, fmt.Errorf("Create: %w", err)
	}

	creator := &domain.Member{
		ID:          uuid.New(),
		TontineID:   t.ID,
		UserID:      req.CreatedByID,
		DisplayName: req.CreatorDisplayName,
		Status:      domain.MemberStatusActive,
		JoinedAt:    now,
	}
	if err := s.members.Create(ctx, creator); err != nil {
		return nil, fmt.Errorf("Create: enroll creator: %w", err)
	}

	logging.FromContext(ctx).Info("tontine created",
		"tontine_id", t.ID, "code", t.Code, "type", t.Type)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Tontine, error) {
	t, err := s.tontines.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return t, nil
}

// Join enrolls a user via the tontine's share code. Re-joining is
// ErrMemberExists; the handler reports it as a conflict.
func (s *Service) Join(ctx context.Context, code string, userID uuid.UUID, displayName string) (*domain.Member, error) {
	t, err := s.tontines.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("Join: %w", err)
	}
	if t.Status != domain.TontineStatusActive {
		return nil, fmt.Errorf("Join: tontine %s: %w", t.Status, domain.ErrInvalidState)
	}

	m := &domain.Member{
		ID:          uuid.New(),
		TontineID:   t.ID,
		UserID:      userID,
		DisplayName: displayName,
		Status:      domain.MemberStatusActive,
		JoinedAt:    time.Now().UTC(),
	}
	if err := s.members.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("Join: %w", err)
	}

	logging.FromContext(ctx).Info("member joined",
		"tontine_id", t.ID, "member_id", m.ID, "user_id", userID)
	return m, nil
}

// Leave ends a membership. A member leaving on their own account goes to
// left; a manager removing someone else goes to removed. The member's past
// ledger entries are untouched; only their future obligations stop.
func (s *Service) Leave(ctx context.Context, memberID, actorUserID uuid.UUID, actorRole domain.Role) (*domain.Member, error) {
	m, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("Leave: %w", err)
	}
	if m.Status != domain.MemberStatusActive {
		return nil, fmt.Errorf("Leave: member %s: %w", m.Status, domain.ErrInvalidTransition)
	}

	status := domain.MemberStatusLeft
	if m.UserID != actorUserID {
		if actorRole != domain.RoleManager {
			return nil, fmt.Errorf("Leave: %w", domain.ErrForbidden)
		}
		status = domain.MemberStatusRemoved
	}

	now := time.Now().UTC()
	won, err := s.members.MarkLeft(ctx, memberID, status, now)
	if err != nil {
		return nil, fmt.Errorf("Leave: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Leave: %w", domain.ErrInvalidTransition)
	}

	m.Status = status
	m.LeftAt = &now

	logging.FromContext(ctx).Info("member left",
		"tontine_id", m.TontineID, "member_id", m.ID, "status", status)
	return m, nil
}

func (s *Service) Members(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error) {
	members, err := s.members.GetActiveByTontine(ctx, tontineID)
	if err != nil {
		return nil, fmt.Errorf("Members: %w", err)
	}
	return members, nil
}

// Close retires a tontine. Any still-open session is closed through the
// session lifecycle first, so late members are marked and shortfall
// penalties post exactly as a manual close would; contributions already
// confirmed stay in the ledger.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*domain.Tontine, error) {
	t, err := s.tontines.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}
	if t.Status == domain.TontineStatusClosed {
		return t, nil
	}
	if !t.Status.CanTransitionTo(domain.TontineStatusClosed) {
		return nil, fmt.Errorf("Close: from %s: %w", t.Status, domain.ErrInvalidTransition)
	}

	open, err := s.sessions.GetOpenByTontine(ctx, id)
	switch {
	case err == nil:
		if _, err := s.closer.Close(ctx, open.ID); err != nil {
			return nil, fmt.Errorf("Close: session: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("Close: %w", err)
	}

	won, err := s.tontines.CASStatus(ctx, id, t.Status, domain.TontineStatusClosed)
	if err != nil {
		return nil, fmt.Errorf("Close: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Close: %w", domain.ErrVersionConflict)
	}

	t.Status = domain.TontineStatusClosed
	logging.FromContext(ctx).Info("tontine closed", "tontine_id", id)
	return t, nil
}

// Suspend pauses collection without ending the cycle.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) (*domain.Tontine, error) {
	won, err := s.tontines.CASStatus(ctx, id, domain.TontineStatusActive, domain.TontineStatusSuspended)
	if err != nil {
		return nil, fmt.Errorf("Suspend: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Suspend: %w", domain.ErrInvalidTransition)
	}
	t, err := s.tontines.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Suspend: %w", err)
	}
	return t, nil
}

// Resume reactivates a suspended tontine.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.Tontine, error) {
	won, err := s.tontines.CASStatus(ctx, id, domain.TontineStatusSuspended, domain.TontineStatusActive)
	if err != nil {
		return nil, fmt.Errorf("Resume: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("Resume: %w", domain.ErrInvalidTransition)
	}
	t, err := s.tontines.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Resume: %w", err)
	}
	return t, nil
}

// Unambiguous alphabet, no 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newJoinCode() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken anyway
		panic(err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
