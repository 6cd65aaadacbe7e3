package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
	"github.com/kobiri-app/kobiri-backend/internal/gateway"
)

const testCallbackSecret = "wave-test-secret"

type mockReconciler struct {
	payment  *domain.Payment
	err      error
	received *gateway.Callback
}

func (m *mockReconciler) HandleCallback(_ context.Context, _ domain.PaymentMethod, cb *gateway.Callback) (*domain.Payment, error) {
	m.received = cb
	return m.payment, m.err
}

func testRegistry() *gateway.Registry {
	return gateway.NewRegistry(gateway.NewWaveAdapter("http://wave.test", testCallbackSecret))
}

func waveCallbackBody(status string, amount string) string {
	b, _ := json.Marshal(map[string]string{
		"client_reference": "ref-42",
		"checkout_status":  status,
		"amount":           amount,
	})
	return string(b)
}

func confirmedPayment() *domain.Payment {
	return &domain.Payment{ID: uuid.New(), Status: domain.PaymentStatusConfirmed}
}

func TestReceiveCallback(t *testing.T) {
	tests := []struct {
		name       string
		provider   string
		body       string
		setupSig   func(body string) string
		payment    *domain.Payment
		svcErr     error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid signed callback",
			provider:   "wave",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			payment:    confirmedPayment(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown provider",
			provider:   "paypal",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNSUPPORTED_PROVIDER",
		},
		{
			name:       "missing signature header",
			provider:   "wave",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   nil,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "invalid signature",
			provider:   "wave",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   func(_ string) string { return "deadbeefdeadbeef" },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "INVALID_SIGNATURE",
		},
		{
			name:       "malformed payload",
			provider:   "wave",
			body:       "not-json",
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown reference",
			provider:   "wave",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			svcErr:     domain.ErrUnknownReference,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "UNKNOWN_REFERENCE",
		},
		{
			name:       "amount mismatch",
			provider:   "wave",
			body:       waveCallbackBody("complete", "45000"),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			svcErr:     domain.ErrAmountMismatch,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "AMOUNT_MISMATCH",
		},
		{
			name:       "reconciler failure",
			provider:   "wave",
			body:       waveCallbackBody("complete", "50000"),
			setupSig:   func(body string) string { return gateway.Sign([]byte(body), testCallbackSecret) },
			svcErr:     context.DeadlineExceeded,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockReconciler{payment: tc.payment, err: tc.svcErr}
			h := NewCallbackHandler(svc, testRegistry())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/"+tc.provider, strings.NewReader(tc.body))
			req.SetPathValue("provider", tc.provider)
			if tc.setupSig != nil {
				req.Header.Set("X-Webhook-Signature", tc.setupSig(tc.body))
			}
			rr := httptest.NewRecorder()

			h.Receive(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			if tc.wantCode == "" {
				assert.True(t, resp.Success)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestReceiveCallback_PassesParsedCallback(t *testing.T) {
	p := confirmedPayment()
	svc := &mockReconciler{payment: p}
	h := NewCallbackHandler(svc, testRegistry())

	body := waveCallbackBody("failed", "50000")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/callbacks/wave", strings.NewReader(body))
	req.SetPathValue("provider", "wave")
	req.Header.Set("X-Webhook-Signature", gateway.Sign([]byte(body), testCallbackSecret))
	rr := httptest.NewRecorder()

	h.Receive(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.received)
	assert.Equal(t, "ref-42", svc.received.ExternalRef)
	assert.Equal(t, int64(50000), svc.received.Amount)
	assert.Equal(t, gateway.OutcomeFailure, svc.received.Outcome)
}
