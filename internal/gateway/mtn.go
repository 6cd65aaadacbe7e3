package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

// MTNAdapter speaks the MoMo requesttopay shape: amounts travel as strings,
// our reference goes in externalId.
type MTNAdapter struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewMTNAdapter(baseURL, secret string) *MTNAdapter {
	return &MTNAdapter{baseURL: baseURL, secret: secret, client: newHTTPClient()}
}

func (a *MTNAdapter) Provider() domain.PaymentMethod { return domain.PaymentMethodMTN }

type mtnParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnInitiationPayload struct {
	Amount       string   `json:"amount"`
	Currency     string   `json:"currency"`
	ExternalID   string   `json:"externalId"`
	Payer        mtnParty `json:"payer"`
	PayerMessage string   `json:"payerMessage"`
	CallbackURL  string   `json:"callbackUrl"`
}

func (a *MTNAdapter) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	payload := mtnInitiationPayload{
		Amount:       strconv.FormatInt(req.Amount, 10),
		Currency:     req.Currency,
		ExternalID:   req.Reference,
		Payer:        mtnParty{PartyIDType: "MSISDN", PartyID: req.PhoneNumber},
		PayerMessage: req.Description,
		CallbackURL:  req.CallbackURL,
	}

	if err := postJSON(ctx, a.client, a.baseURL+"/mtn/collection/requesttopay", payload, nil); err != nil {
		return nil, fmt.Errorf("mtn: Initiate: %w", err)
	}
	// MoMo acknowledges with an empty 202; the payer approves on handset.
	return &Initiation{Reference: req.Reference}, nil
}

func (a *MTNAdapter) VerifyCallback(body []byte, signature string) bool {
	return verifyHMAC(body, signature, a.secret)
}

type mtnCallbackPayload struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
}

func (a *MTNAdapter) ParseCallback(body []byte) (*Callback, error) {
	var p mtnCallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("mtn: ParseCallback: %w", err)
	}
	if p.ExternalID == "" {
		return nil, fmt.Errorf("mtn: ParseCallback: missing externalId")
	}

	amount, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mtn: ParseCallback: amount %q: %w", p.Amount, err)
	}

	cb := &Callback{ExternalRef: p.ExternalID, Amount: amount, Reason: p.Reason}
	switch p.Status {
	case "SUCCESSFUL":
		cb.Outcome = OutcomeSuccess
	case "FAILED", "TIMEOUT", "REJECTED":
		cb.Outcome = OutcomeFailure
	default:
		return nil, fmt.Errorf("mtn: ParseCallback: unknown status %q", p.Status)
	}
	return cb, nil
}
