package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/auth"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
)

type rotationService interface {
	GenerateOrder(ctx context.Context, tontineID uuid.UUID, policy domain.RotationPolicy, force bool) ([]domain.Passage, error)
	StartPassage(ctx context.Context, tontineID uuid.UUID) (*domain.Passage, error)
	Payout(ctx context.Context, passageID uuid.UUID) (*domain.Passage, error)
	ConfirmReceipt(ctx context.Context, passageID uuid.UUID, actorUserID uuid.UUID, actorRole domain.Role) (*domain.Passage, error)
	CycleComplete(ctx context.Context, tontineID uuid.UUID) (bool, error)
}

type RotationHandler struct {
	rotation rotationService
}

func NewRotationHandler(rotation rotationService) *RotationHandler {
	return &RotationHandler{rotation: rotation}
}

type passageDTO struct {
	ID          uuid.UUID  `json:"id"`
	TontineID   uuid.UUID  `json:"tontine_id"`
	MemberID    uuid.UUID  `json:"member_id"`
	Rank        int        `json:"rank"`
	Status      string     `json:"status"`
	SessionID   *uuid.UUID `json:"session_id,omitempty"`
	AmountPaid  int64      `json:"amount_paid"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func toPassageDTO(p *domain.Passage) passageDTO {
	return passageDTO{
		ID:          p.ID,
		TontineID:   p.TontineID,
		MemberID:    p.MemberID,
		Rank:        p.Rank,
		Status:      string(p.Status),
		SessionID:   p.SessionID,
		AmountPaid:  p.AmountPaid,
		ConfirmedAt: p.ConfirmedAt,
	}
}

type generateOrderRequest struct {
	Policy string `json:"policy"`
	Force  bool   `json:"force"`
}

func (r generateOrderRequest) Validate() []FieldError {
	switch domain.RotationPolicy(r.Policy) {
	case domain.RotationPolicyRandom, domain.RotationPolicyAlphabetical, domain.RotationPolicyJoinDate:
		return nil
	default:
		return []FieldError{{Field: "policy", Message: "must be random, alphabetical, or join_date"}}
	}
}

func (h *RotationHandler) GenerateOrder(w http.ResponseWriter, r *http.Request) {
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

	tontineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	var req generateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	passages, err := h.rotation.GenerateOrder(r.Context(), tontineID, domain.RotationPolicy(req.Policy), req.Force)
	if err != nil {
		log.Warn("order generation failed", "tontine_id", tontineID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]passageDTO, len(passages))
	for i := range passages {
		dtos[i] = toPassageDTO(&passages[i])
	}
	RespondSuccess(w, http.StatusCreated, dtos)
}

func (h *RotationHandler) StartPassage(w http.ResponseWriter, r *http.Request) {
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

	tontineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	p, err := h.rotation.StartPassage(r.Context(), tontineID)
	if err != nil {
		log.Warn("passage start failed", "tontine_id", tontineID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPassageDTO(p))
}

func (h *RotationHandler) Payout(w http.ResponseWriter, r *http.Request) {
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

	passageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	p, err := h.rotation.Payout(r.Context(), passageID)
	if err != nil {
		log.Warn("payout failed", "passage_id", passageID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPassageDTO(p))
}

func (h *RotationHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	passageID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	p, err := h.rotation.ConfirmReceipt(r.Context(), passageID, principal.UserID, principal.Role)
	if err != nil {
		log.Warn("receipt confirmation failed", "passage_id", passageID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPassageDTO(p))
}

func (h *RotationHandler) CycleComplete(w http.ResponseWriter, r *http.Request) {
	tontineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	complete, err := h.rotation.CycleComplete(r.Context(), tontineID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]bool{"cycle_complete": complete})
}
