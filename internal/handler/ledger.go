package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

type ledgerReader interface {
	GetBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.LedgerEntry, error)
	GetByTontine(ctx context.Context, tontineID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)
}

type LedgerHandler struct {
	ledger ledgerReader
}

func NewLedgerHandler(ledger ledgerReader) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

type ledgerEntryDTO struct {
	ID        uuid.UUID  `json:"id"`
	TontineID uuid.UUID  `json:"tontine_id"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Kind      string     `json:"kind"`
	Amount    int64      `json:"amount"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
	PassageID *uuid.UUID `json:"passage_id,omitempty"`
	MemberID  *uuid.UUID `json:"member_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toLedgerEntryDTO(e *domain.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ID:        e.ID,
		TontineID: e.TontineID,
		SessionID: e.SessionID,
		Kind:      string(e.Kind),
		Amount:    e.Amount,
		PaymentID: e.PaymentID,
		PassageID: e.PassageID,
		MemberID:  e.MemberID,
		CreatedAt: e.CreatedAt,
	}
}

func (h *LedgerHandler) BySession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	entries, err := h.ledger.GetBySession(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toLedgerEntryDTO(&entries[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *LedgerHandler) ByTontine(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	limit := parsePositiveInt(r.URL.Query().Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}
	offset := parsePositiveInt(r.URL.Query().Get("offset"), 0)

	entries, total, err := h.ledger.GetByTontine(r.Context(), id, limit, offset)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	dtos := make([]ledgerEntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toLedgerEntryDTO(&entries[i])
	}
	RespondSuccess(w, http.StatusOK, map[string]any{
		"entries": dtos,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func parsePositiveInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
