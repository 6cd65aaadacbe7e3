package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// OrangeAdapter speaks the Orange Money webpayment shape: order_id carries
// our reference, callbacks report SUCCESS or FAILED.
type OrangeAdapter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewOrangeAdapter(baseURL, secret string) *OrangeAdapter {
	return &OrangeAdapter{baseURL: baseURL, secret: secret, client: newHTTPClient()}
}

func (a *OrangeAdapter) Provider() domain.PaymentMethod { return domain.PaymentMethodOrange }

type orangeInitiationPayload struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
	PayerMSISDN string `json:"payer_msisdn"`
}

type orangeInitiationResponse struct {
	PaymentURL string `json:"payment_url"`
	PayToken   string `json:"pay_token"`
}

func (a *OrangeAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	payload := orangeInitiationPayload{
		OrderID:     req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		NotifURL:    req.CallbackURL,
		Lang:        "fr",
		Reference:   req.Description,
		PayerMSISDN: req.PhoneNumber,
	}

	var resp orangeInitiationResponse
	if err := postJSON(ctx, a.client, a.baseURL+"/orange/webpayment", payload, &resp); err != nil {
		return nil, fmt.Errorf("orange: Initiate: %w", err)
	}
	return &Initiation{Reference: req.Reference, PaymentURL: resp.PaymentURL}, nil
}

func (a *OrangeAdapter) VerifyCallback(body []byte, signature string) bool {
	return verifyHMAC(body, signature, a.secret)
}

type orangeCallbackPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	TxnID   string `json:"txnid"`
	Message string `json:"message"`
}

func (a *OrangeAdapter) ParseCallback(body []byte) (*Callback, error) {
	var p orangeCallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("orange: ParseCallback: %w", err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("orange: ParseCallback: missing order_id")
	}

	cb := &Callback{ExternalRef: p.OrderID, Amount: p.Amount, Reason: p.Message}
	switch p.Status {
	case "SUCCESS":
		cb.Outcome = OutcomeSuccess
	case "FAILED", "EXPIRED":
		cb.Outcome = OutcomeFailure
	default:
		return nil, fmt.Errorf("orange: ParseCallback: unknown status %q", p.Status)
	}
	return cb, nil
}
