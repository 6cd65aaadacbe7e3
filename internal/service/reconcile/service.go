package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/config"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/gateway"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/notify"
)

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	GetByProviderRef(ctx context.Context, method domain.PaymentMethod, externalRef string) (*domain.Payment, error)
	CommittedSumForMember(ctx context.Context, sessionID, memberID uuid.UUID) (int64, error)
	CASResolve(ctx context.Context, tx *sql.Tx, id uuid.UUID, to domain.PaymentStatus, validatedBy *uuid.UUID, failureReason *string, at time.Time) (bool, error)
}

type eventRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.PaymentEvent) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	MemberContributionsTx(ctx context.Context, tx *sql.Tx, sessionID, memberID uuid.UUID) (int64, error)
}

type sessionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Session, error)
}

type memberRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Member, error)
}

type tontineRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
}

type Service struct {
	payments paymentRepo
	events   eventRepo
	ledger   ledgerRepo
	sessions sessionRepo
	members  memberRepo
	tontines tontineRepo
	gateways *gateway.Registry
	db       *sql.DB
	config   *config.Config
	notifier notify.Notifier
}

func NewService(
	payments paymentRepo,
	events eventRepo,
	ledger ledgerRepo,
	sessions sessionRepo,
	members memberRepo,
	tontines tontineRepo,
	gateways *gateway.Registry,
	db *sql.DB,
	cfg *config.Config,
	notifier notify.Notifier,
) *Service {
	return &Service{
		payments: payments,
		events:   events,
		ledger:   ledger,
		sessions: sessions,
		members:  members,
		tontines: tontines,
		gateways: gateways,
		db:       db,
		config:   cfg,
		notifier: notifier,
	}
}

type RecordManualRequest struct {
	SessionID        uuid.UUID
	MemberID         uuid.UUID
	Amount           int64
	IdempotencyKey   string
	ProofURL         *string
	ProofDescription *string
}

// RecordManual registers a cash or off-platform contribution awaiting a
// manager's validation. A replayed idempotency key returns the original
// payment untouched.
func (s *Service) RecordManual(ctx context.Context, req RecordManualRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("RecordManual: %w", domain.ErrInvalidAmount)
	}

	if existing, err := s.payments.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		logging.FromContext(ctx).Info("manual payment replayed", "payment_id", existing.ID)
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("RecordManual: %w", err)
	}

	sess, tontine, member, err := s.enrollmentFor(ctx, req.SessionID, req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("RecordManual: %w", err)
	}
	if err := s.guardOverCollection(ctx, sess, tontine, member.ID, req.Amount); err != nil {
		return nil, fmt.Errorf("RecordManual: %w", err)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:               uuid.New(),
		SessionID:        sess.ID,
		MemberID:         member.ID,
		TontineID:        sess.TontineID,
		Amount:           req.Amount,
		Method:           domain.PaymentMethodManual,
		Status:           domain.PaymentStatusPending,
		IdempotencyKey:   req.IdempotencyKey,
		ProofURL:         req.ProofURL,
		ProofDescription: req.ProofDescription,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.createWithEvent(ctx, payment, "member:"+member.ID.String()); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			// Lost the race against an identical request; hand back its row.
			existing, lookupErr := s.payments.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("RecordManual: %w", err)
	}

	logging.FromContext(ctx).Info("manual payment recorded",
		"payment_id", payment.ID,
		"session_id", sess.ID,
		"member_id", member.ID,
		"amount", req.Amount,
	)
	return payment, nil
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Validate is the manager verdict on a pending manual payment. Approval
// posts the contribution ledger entry in the same transaction as the status
// change. A payment that is already resolved comes back with
// ErrAlreadyTerminal so callers can report its state instead of failing.
func (s *Service) Validate(ctx context.Context, paymentID uuid.UUID, decision Decision, validatorID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("Validate: %w", err)
	}
	if payment.Status.IsTerminal() {
		return payment, domain.ErrAlreadyTerminal
	}
	if payment.Method != domain.PaymentMethodManual {
		return nil, fmt.Errorf("Validate: %s payment: %w", payment.Method, domain.ErrInvalidState)
	}

	to := domain.PaymentStatusConfirmed
	eventType := domain.PaymentEventTypeConfirmed
	var reason *string
	if decision == DecisionReject {
		to = domain.PaymentStatusRejected
		eventType = domain.PaymentEventTypeRejected
		r := "rejected by manager"
		reason = &r
	}

	resolved, err := s.resolve(ctx, payment, to, eventType, &validatorID, reason, "manager:"+validatorID.String())
	if err != nil {
		return resolved, err
	}

	if to == domain.PaymentStatusConfirmed {
		s.notifier.Notify(ctx, notify.Event{
			Type:      notify.EventPaymentConfirmed,
			TontineID: payment.TontineID,
			SessionID: payment.SessionID,
			MemberID:  payment.MemberID,
			Amount:    payment.Amount,
			At:        time.Now().UTC(),
		})
	} else {
		s.notifier.Notify(ctx, notify.Event{
			Type:      notify.EventPaymentRejected,
			TontineID: payment.TontineID,
			SessionID: payment.SessionID,
			MemberID:  payment.MemberID,
			Amount:    payment.Amount,
			At:        time.Now().UTC(),
		})
	}
	return resolved, nil
}

type InitiateRequest struct {
	SessionID   uuid.UUID
	MemberID    uuid.UUID
	Amount      int64
	Method      domain.PaymentMethod
	PhoneNumber string
}

type InitiateResult struct {
	Payment    *domain.Payment
	PaymentURL string
}

// InitiateGateway creates the pending payment row first, then asks the
// provider to start collection. The provider call happens outside any
// transaction; if it fails the payment is resolved failed so the member can
// retry with a fresh attempt.
func (s *Service) InitiateGateway(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("InitiateGateway: %w", domain.ErrInvalidAmount)
	}
	if !req.Method.IsMobileMoney() {
		return nil, fmt.Errorf("InitiateGateway: %q: %w", req.Method, domain.ErrUnsupportedProvider)
	}

	adapter, err := s.gateways.ForProvider(req.Method)
	if err != nil {
		return nil, fmt.Errorf("InitiateGateway: %w", err)
	}

	sess, tontine, member, err := s.enrollmentFor(ctx, req.SessionID, req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("InitiateGateway: %w", err)
	}
	if err := s.guardOverCollection(ctx, sess, tontine, member.ID, req.Amount); err != nil {
		return nil, fmt.Errorf("InitiateGateway: %w", err)
	}

	// The reference is ours, minted up front; providers echo it back in
	// their callbacks and it is what GetByProviderRef keys on.
	externalRef := uuid.NewString()
	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		MemberID:       member.ID,
		TontineID:      sess.TontineID,
		Amount:         req.Amount,
		Method:         req.Method,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: uuid.NewString(),
		ExternalRef:    &externalRef,
		PhoneNumber:    &req.PhoneNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.createWithEvent(ctx, payment, "member:"+member.ID.String()); err != nil {
		return nil, fmt.Errorf("InitiateGateway: %w", err)
	}

	initiation, err := adapter.Initiate(ctx, gateway.InitiationRequest{
		Reference:   externalRef,
		Amount:      req.Amount,
		Currency:    s.config.Currency,
		PhoneNumber: req.PhoneNumber,
		Description: fmt.Sprintf("Cotisation %s #%d", tontine.Name, sess.Seq),
		CallbackURL: s.config.GatewayCallbackURL + "/" + string(req.Method),
	})
	if err != nil {
		reason := "provider initiation failed"
		if _, failErr := s.resolve(ctx, payment, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed, nil, &reason, "gateway:"+string(req.Method)); failErr != nil {
			logging.FromContext(ctx).Error("could not fail payment after initiation error",
				"payment_id", payment.ID, "error", failErr)
		}
		return nil, fmt.Errorf("InitiateGateway: %w", err)
	}

	logging.FromContext(ctx).Info("gateway payment initiated",
		"payment_id", payment.ID,
		"provider", req.Method,
		"external_ref", externalRef,
	)
	return &InitiateResult{Payment: payment, PaymentURL: initiation.PaymentURL}, nil
}

// HandleCallback settles a provider notification. Any redelivery of a
// callback for an already-resolved payment returns that payment unchanged;
// a reference we never issued is ErrUnknownReference.
func (s *Service) HandleCallback(ctx context.Context, provider domain.PaymentMethod, cb *gateway.Callback) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	payment, err := s.payments.GetByProviderRef(ctx, provider, cb.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("HandleCallback: ref %q: %w", cb.ExternalRef, err)
	}
	if payment.Status.IsTerminal() {
		log.Info("callback for resolved payment ignored",
			"payment_id", payment.ID, "status", payment.Status)
		return payment, nil
	}

	actor := "gateway:" + string(provider)

	if cb.Outcome == gateway.OutcomeFailure {
		reason := cb.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		failed, err := s.resolve(ctx, payment, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed, nil, &reason, actor)
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			// A duplicate delivery won the CAS; this one is a no-op.
			return failed, nil
		}
		if err != nil {
			return nil, fmt.Errorf("HandleCallback: %w", err)
		}
		return failed, nil
	}

	if cb.Amount != payment.Amount {
		reason := fmt.Sprintf("amount mismatch: got %d, expected %d", cb.Amount, payment.Amount)
		failed, err := s.resolve(ctx, payment, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed, nil, &reason, actor)
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			log.Info("mismatched callback for resolved payment ignored",
				"payment_id", payment.ID, "status", failed.Status)
			return failed, nil
		}
		if err != nil {
			return nil, fmt.Errorf("HandleCallback: %w", err)
		}
		log.Warn("callback amount mismatch",
			"payment_id", payment.ID, "got", cb.Amount, "expected", payment.Amount)
		return failed, fmt.Errorf("HandleCallback: %w", domain.ErrAmountMismatch)
	}

	confirmed, err := s.resolve(ctx, payment, domain.PaymentStatusConfirmed, domain.PaymentEventTypeConfirmed, nil, nil, actor)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			// A duplicate delivery won the CAS; this one is a no-op.
			return confirmed, nil
		}
		if errors.Is(err, domain.ErrOverCollection) {
			// The provider collected money there is no room for. Fail the
			// payment so the manager sees it and can refund off-platform.
			reason := "over-collection cap exceeded"
			failed, failErr := s.resolve(ctx, payment, domain.PaymentStatusFailed, domain.PaymentEventTypeFailed, nil, &reason, actor)
			if failErr != nil && !errors.Is(failErr, domain.ErrAlreadyTerminal) {
				return nil, fmt.Errorf("HandleCallback: %w", failErr)
			}
			log.Warn("callback over-collection",
				"payment_id", payment.ID, "amount", payment.Amount)
			return failed, fmt.Errorf("HandleCallback: %w", domain.ErrOverCollection)
		}
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventPaymentConfirmed,
		TontineID: payment.TontineID,
		SessionID: payment.SessionID,
		MemberID:  payment.MemberID,
		Amount:    payment.Amount,
		At:        time.Now().UTC(),
	})
	log.Info("gateway payment confirmed",
		"payment_id", payment.ID, "provider", provider, "amount", payment.Amount)
	return confirmed, nil
}

// resolve drives the pending→terminal CAS plus its side effects in one
// transaction: status row, audit event, and (for confirmations) the ledger
// contribution entry. A lost CAS re-reads the row and reports
// ErrAlreadyTerminal with whatever the winner wrote.
func (s *Service) resolve(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, eventType domain.PaymentEventType, validatedBy *uuid.UUID, reason *string, actor string) (*domain.Payment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	won, err := s.payments.CASResolve(ctx, tx, payment.ID, to, validatedBy, reason, now)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if !won {
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		return current, domain.ErrAlreadyTerminal
	}

	if to == domain.PaymentStatusConfirmed {
		// The intake guard is check-then-act: two pending payments for the
		// same member can both pass it before either settles. Re-check here
		// under the session row lock, which serializes concurrent confirms.
		if _, err := s.sessions.GetForUpdate(ctx, tx, payment.SessionID); err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		tontine, err := s.tontines.GetByID(ctx, payment.TontineID)
		if err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		if tontine.Type != domain.TontineTypeCumulative {
			posted, err := s.ledger.MemberContributionsTx(ctx, tx, payment.SessionID, payment.MemberID)
			if err != nil {
				return nil, fmt.Errorf("resolve: %w", err)
			}
			if posted+payment.Amount > tontine.ContributionAmount+s.config.OverCollectTolerance {
				return nil, fmt.Errorf("resolve: member at %d of %d: %w",
					posted, tontine.ContributionAmount, domain.ErrOverCollection)
			}
		}

		paymentID := payment.ID
		memberID := payment.MemberID
		sessionID := payment.SessionID
		entry := &domain.LedgerEntry{
			ID:        uuid.New(),
			TontineID: payment.TontineID,
			SessionID: &sessionID,
			Kind:      domain.EntryKindContribution,
			Amount:    payment.Amount,
			PaymentID: &paymentID,
			MemberID:  &memberID,
			CreatedAt: now,
		}
		// Unique index on payment_id backs the CAS up: a second entry for
		// the same payment cannot commit.
		if err := s.ledger.Create(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("resolve: ledger entry: %w", err)
		}
	}

	payload, _ := json.Marshal(map[string]any{"status": string(to), "reason": reason})
	event := &domain.PaymentEvent{
		ID:        uuid.New(),
		PaymentID: payment.ID,
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := s.events.Create(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("resolve: event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("resolve: commit: %w", err)
	}

	resolved := *payment
	resolved.Status = to
	resolved.ValidatedByID = validatedBy
	resolved.FailureReason = reason
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = now
	return &resolved, nil
}

func (s *Service) createWithEvent(ctx context.Context, payment *domain.Payment, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("createWithEvent: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.Create(ctx, tx, payment); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{"amount": payment.Amount, "method": string(payment.Method)})
	event := &domain.PaymentEvent{
		ID:        uuid.New(),
		PaymentID: payment.ID,
		EventType: domain.PaymentEventTypeCreated,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: payment.CreatedAt,
	}
	if err := s.events.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("createWithEvent: event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("createWithEvent: commit: %w", err)
	}
	return nil
}

// enrollmentFor checks the session is open and the member actually belongs
// to its tontine and is still active.
func (s *Service) enrollmentFor(ctx context.Context, sessionID, memberID uuid.UUID) (*domain.Session, *domain.Tontine, *domain.Member, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if sess.Status != domain.SessionStatusOpen {
		return nil, nil, nil, fmt.Errorf("session %s: %w", sess.Status, domain.ErrInvalidState)
	}

	tontine, err := s.tontines.GetByID(ctx, sess.TontineID)
	if err != nil {
		return nil, nil, nil, err
	}

	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, nil, nil, err
	}
	if member.TontineID != sess.TontineID {
		return nil, nil, nil, fmt.Errorf("member not in tontine: %w", domain.ErrForbidden)
	}
	if member.Status != domain.MemberStatusActive {
		return nil, nil, nil, fmt.Errorf("member %s: %w", member.Status, domain.ErrInvalidState)
	}
	return sess, tontine, member, nil
}

// guardOverCollection caps what a member can put into one session at the
// contribution amount plus the configured tolerance. Cumulative tontines
// have no cap. Pending payments count toward the cap so two in-flight
// attempts cannot reserve past it together. This is the early check;
// resolve re-checks the posted total under the session lock before it
// confirms, since racing intakes can both get past this one.
func (s *Service) guardOverCollection(ctx context.Context, sess *domain.Session, tontine *domain.Tontine, memberID uuid.UUID, amount int64) error {
	if tontine.Type == domain.TontineTypeCumulative {
		return nil
	}
	committed, err := s.payments.CommittedSumForMember(ctx, sess.ID, memberID)
	if err != nil {
		return err
	}
	if committed+amount > tontine.ContributionAmount+s.config.OverCollectTolerance {
		return fmt.Errorf("member at %d of %d: %w", committed, tontine.ContributionAmount, domain.ErrOverCollection)
	}
	return nil
}
