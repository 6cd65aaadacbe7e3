package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/auth"
	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
	"github.com/kobiri-app/kobiri-backend/internal/service/session"
)

type sessionService interface {
	Create(ctx context.Context, tontineID uuid.UUID, periodStart, periodEnd time.Time) (*domain.Session, error)
	Open(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	Close(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	Stats(ctx context.Context, sessionID uuid.UUID) (*session.Stats, error)
	RemindDue(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type SessionHandler struct {
	sessions sessionService
}

func NewSessionHandler(sessions sessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	TontineID   string `json:"tontine_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (r createSessionRequest) Validate() []FieldError {
	var errs []FieldError

	if r.TontineID == "" {
		errs = append(errs, FieldError{Field: "tontine_id", Message: "required"})
	} else if _, err := uuid.Parse(r.TontineID); err != nil {
		errs = append(errs, FieldError{Field: "tontine_id", Message: "must be a valid UUID"})
	}

	start, errStart := time.Parse(time.RFC3339, r.PeriodStart)
	if r.PeriodStart == "" || errStart != nil {
		errs = append(errs, FieldError{Field: "period_start", Message: "must be an RFC3339 timestamp"})
	}

	end, errEnd := time.Parse(time.RFC3339, r.PeriodEnd)
	if r.PeriodEnd == "" || errEnd != nil {
		errs = append(errs, FieldError{Field: "period_end", Message: "must be an RFC3339 timestamp"})
	}

	if errStart == nil && errEnd == nil && !end.After(start) {
		errs = append(errs, FieldError{Field: "period_end", Message: "must be after period_start"})
	}

	return errs
}

type sessionDTO struct {
	ID            uuid.UUID  `json:"id"`
	TontineID     uuid.UUID  `json:"tontine_id"`
	Seq           int        `json:"seq"`
	PeriodStart   time.Time  `json:"period_start"`
	PeriodEnd     time.Time  `json:"period_end"`
	Status        string     `json:"status"`
	ExpectedTotal int64      `json:"expected_total"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

func toSessionDTO(s *domain.Session) sessionDTO {
	return sessionDTO{
		ID:            s.ID,
		TontineID:     s.TontineID,
		Seq:           s.Seq,
		PeriodStart:   s.PeriodStart,
		PeriodEnd:     s.PeriodEnd,
		Status:        string(s.Status),
		ExpectedTotal: s.ExpectedTotal,
		OpenedAt:      s.OpenedAt,
		ClosedAt:      s.ClosedAt,
	}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	tontineID, _ := uuid.Parse(req.TontineID)
	start, _ := time.Parse(time.RFC3339, req.PeriodStart)
	end, _ := time.Parse(time.RFC3339, req.PeriodEnd)

	s, err := h.sessions.Create(r.Context(), tontineID, start, end)
	if err != nil {
		log.Warn("session creation failed", "tontine_id", tontineID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/sessions/%s", s.ID))
	RespondSuccess(w, http.StatusCreated, toSessionDTO(s))
}

func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Open)
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.Close)
}

func (h *SessionHandler) Remind(w http.ResponseWriter, r *http.Request) {
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

	sent, err := h.sessions.RemindDue(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("reminder dispatch failed", "session_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]int{"reminders_sent": sent})
}

func (h *SessionHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*domain.Session, error)) {
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

	s, err := op(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("session transition failed", "session_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toSessionDTO(s))
}

type obligationDTO struct {
	MemberID uuid.UUID `json:"member_id"`
	Expected int64     `json:"expected"`
	Paid     int64     `json:"paid"`
	State    string    `json:"state"`
}

type sessionStatsDTO struct {
	SessionID      uuid.UUID       `json:"session_id"`
	Status         string          `json:"status"`
	ExpectedTotal  int64           `json:"expected_total"`
	ReceivedTotal  int64           `json:"received_total"`
	CollectionRate string          `json:"collection_rate"`
	Obligations    []obligationDTO `json:"obligations"`
}

func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	stats, err := h.sessions.Stats(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	obligations := make([]obligationDTO, len(stats.Obligations))
	for i, o := range stats.Obligations {
		obligations[i] = obligationDTO{
			MemberID: o.MemberID,
			Expected: o.Expected,
			Paid:     o.Paid,
			State:    string(o.State),
		}
	}

	RespondSuccess(w, http.StatusOK, sessionStatsDTO{
		SessionID:      stats.SessionID,
		Status:         string(stats.Status),
		ExpectedTotal:  stats.ExpectedTotal,
		ReceivedTotal:  stats.ReceivedTotal,
		CollectionRate: stats.CollectionRate.String(),
		Obligations:    obligations,
	})
}
