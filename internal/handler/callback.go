package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/gateway"
	"github.com/kobiri-app/kobiri-backend/internal/logging"
)

type callbackService interface {
	HandleCallback(ctx context.Context, provider domain.PaymentMethod, cb *gateway.Callback) (*domain.Payment, error)
}

// CallbackHandler terminates inbound mobile money notifications. The route
// is unauthenticated; authenticity comes from the per-provider HMAC
// signature over the raw body.
type CallbackHandler struct {
	reconciler callbackService
	gateways   *gateway.Registry
}

func NewCallbackHandler(reconciler callbackService, gateways *gateway.Registry) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler, gateways: gateways}
}

var ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Callback signature is invalid"}

func (h *CallbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	provider := domain.PaymentMethod(r.PathValue("provider"))
	adapter, err := h.gateways.ForProvider(provider)
	if err != nil {
		log.Warn("callback for unknown provider", "provider", provider)
		RespondDomainError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read callback body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !adapter.VerifyCallback(body, sig) {
		log.Warn("callback signature verification failed", "provider", provider)
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	cb, err := adapter.ParseCallback(body)
	if err != nil {
		log.Warn("failed to parse callback payload", "provider", provider, "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	p, err := h.reconciler.HandleCallback(r.Context(), provider, cb)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownReference):
			// Acknowledged but dropped; the provider should not retry a
			// reference we never issued.
			log.Warn("callback reference unknown", "provider", provider, "external_ref", cb.ExternalRef)
			RespondDomainError(w, err)
		case errors.Is(err, domain.ErrAmountMismatch):
			RespondDomainError(w, err)
		case errors.Is(err, domain.ErrOverCollection):
			log.Warn("callback over-collection", "provider", provider, "external_ref", cb.ExternalRef)
			RespondDomainError(w, err)
		default:
			log.Error("callback processing failed", "provider", provider, "error", err)
			RespondAppError(w, ErrInternalError, nil)
		}
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{
		"status":     string(p.Status),
		"payment_id": p.ID.String(),
	})
}
