package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// MoovAdapter speaks the Moov Money merchant-payment shape: OK/KO status
// codes, numeric amounts.
type MoovAdapter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewMoovAdapter(baseURL, secret string) *MoovAdapter {
	return &MoovAdapter{baseURL: baseURL, secret: secret, client: newHTTPClient()}
}

func (a *MoovAdapter) Provider() domain.PaymentMethod { return domain.PaymentMethodMoov }

type moovInitiationPayload struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Subscriber  string `json:"subscriber"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url"`
}

type moovInitiationResponse struct {
	TransactionID string `json:"transaction_id"`
}

func (a *MoovAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	payload := moovInitiationPayload{
		Reference:   req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Subscriber:  req.PhoneNumber,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
	}

	var resp moovInitiationResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/moov/merchant/payment", payload, &resp); err != nil {
		return nil, fmt.Errorf("moov: Initiate: %w", err)
	}
	return &Initiation{Reference: req.Reference}, nil
}

func (a *MoovAdapter) VerifyCallback(body []byte, signature string) bool {
	return verifyHMAC(body, signature, a.secret)
}

type moovCallbackPayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message"`
}

func (a *MoovAdapter) ParseCallback(body []byte) (*Callback, error) {
	var p moovCallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("moov: ParseCallback: %w", err)
	}
	if p.Reference == "" {
		return nil, fmt.Errorf("moov: ParseCallback: missing reference")
	}

	cb := &Callback{ExternalRef: p.Reference, Amount: p.Amount, Reason: p.Message}
	switch p.Status {
	case "OK":
		cb.Outcome = OutcomeSuccess
	case "KO":
		cb.Outcome = OutcomeFailure
	default:
		return nil, fmt.Errorf("moov: ParseCallback: unknown status %q", p.Status)
	}
	return cb, nil
}
