package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Callback is the provider-neutral form of an inbound gateway notification.
type Callback struct {
	ExternalRef string
	Amount      int64
	Outcome     Outcome
	Reason      string
}

type InitiationRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	PhoneNumber string
	Description string
	CallbackURL string
}

// Initiation is the opaque handle handed back to the paying client, e.g. a
// checkout URL or a push-USSD acknowledgement.
type Initiation struct {
	Reference  string
	PaymentURL string
}

// Adapter is the per-provider capability: start a collection and
// authenticate/translate its callbacks. Selected by tag, never by type
// inspection.
type Adapter interface {
	Provider() domain.PaymentMethod
	Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error)
	VerifyCallback(body []byte, signature string) bool
	ParseCallback(body []byte) (*Callback, error)
}

type Registry struct {
	adapters map[domain.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.PaymentMethod]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) ForProvider(method domain.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("ForProvider: %q: %w", method, domain.ErrUnsupportedProvider)
	}
	return a, nil
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the callback signature for a body; the mock gateway uses it
// to produce authentic callbacks in tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postJSON: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("postJSON: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("postJSON: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("postJSON: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return fmt.Errorf("postJSON: decode: %w", err)
		}
	}
	return nil
}
