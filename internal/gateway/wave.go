package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// WaveAdapter speaks the Wave checkout-session shape: client_reference
// carries our reference, the launch URL is handed to the payer.
type WaveAdapter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewWaveAdapter(baseURL, secret string) *WaveAdapter {
	return &WaveAdapter{baseURL: baseURL, secret: secret, client: newHTTPClient()}
}

func (a *WaveAdapter) Provider() domain.PaymentMethod { return domain.PaymentMethodWave }

type waveInitiationPayload struct {
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	ClientReference string `json:"client_reference"`
	SuccessURL      string `json:"success_url"`
	ErrorURL        string `json:"error_url"`
}

type waveInitiationResponse struct {
	ID            string `json:"id"`
	WaveLaunchURL string `json:"wave_launch_url"`
}

func (a *WaveAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	payload := waveInitiationPayload{
		Amount:          strconv.FormatInt(req.Amount, 10),
		Currency:        req.Currency,
		ClientReference: req.Reference,
		SuccessURL:      req.CallbackURL,
		ErrorURL:        req.CallbackURL,
	}

	var resp waveInitiationResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/wave/checkout/sessions", payload, &resp); err != nil {
		return nil, fmt.Errorf("wave: Initiate: %w", err)
	}
	return &Initiation{Reference: req.Reference, PaymentURL: resp.WaveLaunchURL}, nil
}

func (a *WaveAdapter) VerifyCallback(body []byte, signature string) bool {
	return verifyHMAC(body, signature, a.secret)
}

type waveCallbackPayload struct {
	ClientReference string `json:"client_reference"`
	CheckoutStatus  string `json:"checkout_status"`
	Amount          string `json:"amount"`
	LastError       string `json:"last_payment_error"`
}

func (a *WaveAdapter) ParseCallback(body []byte) (*Callback, error) {
	var p waveCallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("wave: ParseCallback: %w", err)
	}
	if p.ClientReference == "" {
		return nil, fmt.Errorf("wave: ParseCallback: missing client_reference")
	}

	amount, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wave: ParseCallback: amount %q: %w", p.Amount, err)
	}

	cb := &Callback{ExternalRef: p.ClientReference, Amount: amount, Reason: p.LastError}
	switch p.CheckoutStatus {
	case "complete":
		cb.Outcome = OutcomeSuccess
	case "failed", "expired":
		cb.Outcome = OutcomeFailure
	default:
		return nil, fmt.Errorf("wave: ParseCallback: unknown checkout_status %q", p.CheckoutStatus)
	}
	return cb, nil
}
