package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/auth"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/service/reconcile"
)

type reconcileService interface {
	RecordManual(ctx context.Context, req reconcile.RecordManualRequest) (*domain.Payment, error)
	Validate(ctx context.Context, paymentID uuid.UUID, decision reconcile.Decision, validatorID uuid.UUID) (*domain.Payment, error)
	InitiateGateway(ctx context.Context, req reconcile.InitiateRequest) (*reconcile.InitiateResult, error)
}

type paymentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
}

type PaymentHandler struct {
	reconciler reconcileService
	payments   paymentReader
}

func NewPaymentHandler(reconciler reconcileService, payments paymentReader) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, payments: payments}
}

type recordManualRequest struct {
	SessionID        string  `json:"session_id"`
	MemberID         string  `json:"member_id"`
	Amount           int64   `json:"amount"`
	ProofURL         *string `json:"proof_url"`
	ProofDescription *string `json:"proof_description"`
}

func (r recordManualRequest) Validate() []FieldError {
	var errs []FieldError

	if r.SessionID == "" {
		errs = append(errs, FieldError{Field: "session_id", Message: "required"})
	} else if _, err := uuid.Parse(r.SessionID); err != nil {
		errs = append(errs, FieldError{Field: "session_id", Message: "must be a valid UUID"})
	}

	if r.MemberID == "" {
		errs = append(errs, FieldError{Field: "member_id", Message: "required"})
	} else if _, err := uuid.Parse(r.MemberID); err != nil {
		errs = append(errs, FieldError{Field: "member_id", Message: "must be a valid UUID"})
	}

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	return errs
}

type paymentDTO struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        uuid.UUID  `json:"session_id"`
	MemberID         uuid.UUID  `json:"member_id"`
	TontineID        uuid.UUID  `json:"tontine_id"`
	Amount           int64      `json:"amount"`
	Method           string     `json:"method"`
	Status           string     `json:"status"`
	ExternalRef      *string    `json:"external_ref,omitempty"`
	ProofURL         *string    `json:"proof_url,omitempty"`
	ProofDescription *string    `json:"proof_description,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:               p.ID,
		SessionID:        p.SessionID,
		MemberID:         p.MemberID,
		TontineID:        p.TontineID,
		Amount:           p.Amount,
		Method:           string(p.Method),
		Status:           string(p.Status),
		ExternalRef:      p.ExternalRef,
		ProofURL:         p.ProofURL,
		ProofDescription: p.ProofDescription,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt,
		ResolvedAt:       p.ResolvedAt,
	}
}

func (h *PaymentHandler) RecordManual(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req recordManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	sessionID, _ := uuid.Parse(req.SessionID)
	memberID, _ := uuid.Parse(req.MemberID)

	p, err := h.reconciler.RecordManual(r.Context(), reconcile.RecordManualRequest{
		SessionID:        sessionID,
		MemberID:         memberID,
		Amount:           req.Amount,
		IdempotencyKey:   idempotencyKey,
		ProofURL:         req.ProofURL,
		ProofDescription: req.ProofDescription,
	})
	if err != nil {
		log.Warn("manual payment failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	RespondSuccess(w, http.StatusCreated, toPaymentDTO(p))
}

type validatePaymentRequest struct {
	Decision string `json:"decision"`
}

func (r validatePaymentRequest) Validate() []FieldError {
	if r.Decision != string(reconcile.DecisionApprove) && r.Decision != string(reconcile.DecisionReject) {
		return []FieldError{{Field: "decision", Message: "must be approve or reject"}}
	}
	return nil
}

func (h *PaymentHandler) Validate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}
	if principal.Role != domain.RoleManager {
		RespondAppError(w, ErrManagerOnly, nil)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	var req validatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	p, err := h.reconciler.Validate(r.Context(), id, reconcile.Decision(req.Decision), principal.UserID)
	if err != nil {
		// A payment someone else already resolved is reported, not failed.
		if errors.Is(err, domain.ErrAlreadyTerminal) && p != nil {
			RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
			return
		}
		log.Warn("payment validation failed", "payment_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}

type initiatePaymentRequest struct {
	SessionID   string `json:"session_id"`
	MemberID    string `json:"member_id"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	PhoneNumber string `json:"phone_number"`
}

func (r initiatePaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.SessionID == "" {
		errs = append(errs, FieldError{Field: "session_id", Message: "required"})
	} else if _, err := uuid.Parse(r.SessionID); err != nil {
		errs = append(errs, FieldError{Field: "session_id", Message: "must be a valid UUID"})
	}

	if r.MemberID == "" {
		errs = append(errs, FieldError{Field: "member_id", Message: "required"})
	} else if _, err := uuid.Parse(r.MemberID); err != nil {
		errs = append(errs, FieldError{Field: "member_id", Message: "must be a valid UUID"})
	}

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if !domain.PaymentMethod(r.Method).IsMobileMoney() || r.Method == "" {
		errs = append(errs, FieldError{Field: "method", Message: "must be a mobile money provider"})
	}

	if r.PhoneNumber == "" {
		errs = append(errs, FieldError{Field: "phone_number", Message: "required"})
	}

	return errs
}

type initiatePaymentResponse struct {
	Payment    paymentDTO `json:"payment"`
	PaymentURL string     `json:"payment_url,omitempty"`
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	sessionID, _ := uuid.Parse(req.SessionID)
	memberID, _ := uuid.Parse(req.MemberID)

	result, err := h.reconciler.InitiateGateway(r.Context(), reconcile.InitiateRequest{
		SessionID:   sessionID,
		MemberID:    memberID,
		Amount:      req.Amount,
		Method:      domain.PaymentMethod(req.Method),
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		log.Warn("gateway initiation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, initiatePaymentResponse{
		Payment:    toPaymentDTO(result.Payment),
		PaymentURL: result.PaymentURL,
	})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	p, err := h.payments.GetByID(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}
