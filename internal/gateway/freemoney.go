package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// FreeMoneyAdapter speaks the Free Money shape: external_ref carries our
// reference, callbacks report a state field.
type FreeMoneyAdapter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewFreeMoneyAdapter(baseURL, secret string) *FreeMoneyAdapter {
	return &FreeMoneyAdapter{baseURL: baseURL, secret: secret, client: newHTTPClient()}
}

func (a *FreeMoneyAdapter) Provider() domain.PaymentMethod { return domain.PaymentMethodFreeMoney }

type freeMoneyInitiationPayload struct {
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	MSISDN      string `json:"msisdn"`
	Label       string `json:"label"`
	NotifyURL   string `json:"notify_url"`
}

type freeMoneyInitiationResponse struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
}

func (a *FreeMoneyAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	payload := freeMoneyInitiationPayload{
		ExternalRef: req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		MSISDN:      req.PhoneNumber,
		Label:       req.Description,
		NotifyURL:   req.CallbackURL,
	}

	var resp freeMoneyInitiationResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/freemoney/payments", payload, &resp); err != nil {
		return nil, fmt.Errorf("free_money: Initiate: %w", err)
	}
	return &Initiation{Reference: req.Reference, PaymentURL: resp.RedirectURL}, nil
}

func (a *FreeMoneyAdapter) VerifyCallback(body []byte, signature string) bool {
	return verifyHMAC(body, signature, a.secret)
}

type freeMoneyCallbackPayload struct {
	ExternalRef string `json:"external_ref"`
	State       string `json:"state"`
	Amount      int64  `json:"amount"`
	Detail      string `json:"detail"`
}

func (a *FreeMoneyAdapter) ParseCallback(body []byte) (*Callback, error) {
	var p freeMoneyCallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("free_money: ParseCallback: %w", err)
	}
	if p.ExternalRef == "" {
		return nil, fmt.Errorf("free_money: ParseCallback: missing external_ref")
	}

	cb := &Callback{ExternalRef: p.ExternalRef, Amount: p.Amount, Reason: p.Detail}
	switch p.State {
	case "success":
		cb.Outcome = OutcomeSuccess
	case "failure", "cancelled":
		cb.Outcome = OutcomeFailure
	default:
		return nil, fmt.Errorf("free_money: ParseCallback: unknown state %q", p.State)
	}
	return cb, nil
}
