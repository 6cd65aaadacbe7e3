package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kobiri-app/kobiri-backend/internal/auth"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/service/tontine"
)

type tontineService interface {
	Create(ctx context.Context, req tontine.CreateRequest) (*domain.Tontine, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
	Join(ctx context.Context, code string, userID uuid.UUID, displayName string) (*domain.Member, error)
	Members(ctx context.Context, tontineID uuid.UUID) ([]domain.Member, error)
	Leave(ctx context.Context, memberID, actorUserID uuid.UUID, actorRole domain.Role) (*domain.Member, error)
	Close(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
	Suspend(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
	Resume(ctx context.Context, id uuid.UUID) (*domain.Tontine, error)
}

type TontineHandler struct {
	tontines tontineService
	currency string
}

func NewTontineHandler(tontines tontineService, currency string) *TontineHandler {
	return &TontineHandler{tontines: tontines, currency: currency}
}

type createTontineRequest struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	Frequency          string `json:"frequency"`
	ContributionAmount int64  `json:"contribution_amount"`
	RotationPolicy     string `json:"rotation_policy"`
	PenaltyMode        string `json:"penalty_mode"`
	PenaltyAmount      int64  `json:"penalty_amount"`
	PenaltyPercent     string `json:"penalty_percent"`
	GraceDays          int    `json:"grace_days"`
	PayoutAmount       int64  `json:"payout_amount"`
	DisplayName        string `json:"display_name"`
}

func (r createTontineRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}

	switch domain.TontineType(r.Type) {
	case domain.TontineTypeRotating, domain.TontineTypeCumulative, domain.TontineTypeMixed:
	default:
		errs = append(errs, FieldError{Field: "type", Message: "must be rotating, cumulative, or mixed"})
	}

	switch domain.TontineFrequency(r.Frequency) {
	case domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyBiweekly,
		domain.FrequencyMonthly, domain.FrequencyQuarterly:
	default:
		errs = append(errs, FieldError{Field: "frequency", Message: "must be daily, weekly, biweekly, monthly, or quarterly"})
	}

	if r.ContributionAmount <= 0 {
		errs = append(errs, FieldError{Field: "contribution_amount", Message: "must be greater than 0"})
	}

	switch domain.RotationPolicy(r.RotationPolicy) {
	case domain.RotationPolicyRandom, domain.RotationPolicyAlphabetical, domain.RotationPolicyJoinDate:
	default:
		errs = append(errs, FieldError{Field: "rotation_policy", Message: "must be random, alphabetical, or join_date"})
	}

	switch domain.PenaltyMode(r.PenaltyMode) {
	case domain.PenaltyModeFixed, domain.PenaltyModePercent, "":
	default:
		errs = append(errs, FieldError{Field: "penalty_mode", Message: "must be fixed or percent"})
	}

	if r.PenaltyAmount < 0 {
		errs = append(errs, FieldError{Field: "penalty_amount", Message: "must not be negative"})
	}

	if r.PenaltyPercent != "" {
		if pct, err := decimal.NewFromString(r.PenaltyPercent); err != nil || pct.IsNegative() {
			errs = append(errs, FieldError{Field: "penalty_percent", Message: "must be a non-negative decimal"})
		}
	}

	if r.PayoutAmount < 0 {
		errs = append(errs, FieldError{Field: "payout_amount", Message: "must not be negative"})
	}

	return errs
}

type tontineDTO struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Code               string    `json:"code"`
	Type               string    `json:"type"`
	Frequency          string    `json:"frequency"`
	ContributionAmount int64     `json:"contribution_amount"`
	Currency           string    `json:"currency"`
	RotationPolicy     string    `json:"rotation_policy"`
	PenaltyMode        string    `json:"penalty_mode"`
	PenaltyAmount      int64     `json:"penalty_amount"`
	PenaltyPercent     string    `json:"penalty_percent"`
	GraceDays          int       `json:"grace_days"`
	PayoutAmount       int64     `json:"payout_amount"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func toTontineDTO(t *domain.Tontine) tontineDTO {
	return tontineDTO{
		ID:                 t.ID,
		Name:               t.Name,
		Code:               t.Code,
		Type:               string(t.Type),
		Frequency:          string(t.Frequency),
		ContributionAmount: t.ContributionAmount,
		Currency:           t.Currency,
		RotationPolicy:     string(t.RotationPolicy),
		PenaltyMode:        string(t.PenaltyMode),
		PenaltyAmount:      t.PenaltyAmount,
		PenaltyPercent:     t.PenaltyPercent.String(),
		GraceDays:          t.GraceDays,
		PayoutAmount:       t.PayoutAmount,
		Status:             string(t.Status),
		CreatedAt:          t.CreatedAt,
	}
}

type memberDTO struct {
	ID          uuid.UUID `json:"id"`
	TontineID   uuid.UUID `json:"tontine_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	JoinedAt    time.Time `json:"joined_at"`
}

func toMemberDTO(m *domain.Member) memberDTO {
	return memberDTO{
		ID:          m.ID,
		TontineID:   m.TontineID,
		UserID:      m.UserID,
		DisplayName: m.DisplayName,
		Status:      string(m.Status),
		JoinedAt:    m.JoinedAt,
	}
}

func (h *TontineHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createTontineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	penaltyPct := decimal.Zero
	if req.PenaltyPercent != "" {
		penaltyPct, _ = decimal.NewFromString(req.PenaltyPercent)
	}

	// An empty penalty mode means the platform policy; the service fills
	// it in from config.
	t, err := h.tontines.Create(r.Context(), tontine.CreateRequest{
		Name:               req.Name,
		Currency:           h.currency,
		Type:               domain.TontineType(req.Type),
		Frequency:          domain.TontineFrequency(req.Frequency),
		ContributionAmount: req.ContributionAmount,
		RotationPolicy:     domain.RotationPolicy(req.RotationPolicy),
		PenaltyMode:        domain.PenaltyMode(req.PenaltyMode),
		PenaltyAmount:      req.PenaltyAmount,
		PenaltyPercent:     penaltyPct,
		GraceDays:          req.GraceDays,
		PayoutAmount:       req.PayoutAmount,
		CreatedByID:        principal.UserID,
		CreatorDisplayName: req.DisplayName,
	})
	if err != nil {
		log.Warn("tontine creation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/tontines/%s", t.ID))
	RespondSuccess(w, http.StatusCreated, toTontineDTO(t))
}

func (h *TontineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	t, err := h.tontines.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTontineDTO(t))
}

type joinTontineRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

func (r joinTontineRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Code == "" {
		errs = append(errs, FieldError{Field: "code", Message: "required"})
	}
	if r.DisplayName == "" {
		errs = append(errs, FieldError{Field: "display_name", Message: "required"})
	}
	return errs
}

func (h *TontineHandler) Join(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req joinTontineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	m, err := h.tontines.Join(r.Context(), req.Code, principal.UserID, req.DisplayName)
	if err != nil {
		log.Warn("tontine join failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toMemberDTO(m))
}

func (h *TontineHandler) Members(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	members, err := h.tontines.Members(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]memberDTO, len(members))
	for i := range members {
		dtos[i] = toMemberDTO(&members[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

// Leave serves both self-departure and manager removal; the service decides
// which one this is from the acting principal.
func (h *TontineHandler) Leave(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	memberID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	m, err := h.tontines.Leave(r.Context(), memberID, principal.UserID, principal.Role)
	if err != nil {
		logging.FromContext(r.Context()).Warn("member leave failed", "member_id", memberID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toMemberDTO(m))
}

func (h *TontineHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tontines.Close)
}

func (h *TontineHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tontines.Suspend)
}

func (h *TontineHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.tontines.Resume)
}

func (h *TontineHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*domain.Tontine, error)) {
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

	t, err := op(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("tontine transition failed", "tontine_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTontineDTO(t))
}
