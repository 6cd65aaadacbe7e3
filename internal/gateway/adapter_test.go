package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobiri-app/kobiri-backend/internal/domain"
)

func TestRegistry_SelectsByTag(t *testing.T) {
	reg := NewRegistry(
		NewOrangeAdapter("http://gw", "s1"),
		NewMTNAdapter("http://gw", "s2"),
		NewWaveAdapter("http://gw", "s3"),
		NewMoovAdapter("http://gw", "s4"),
		NewFreeMoneyAdapter("http://gw", "s5"),
	)

	for _, method := range []domain.PaymentMethod{
		domain.PaymentMethodOrange,
		domain.PaymentMethodMTN,
		domain.PaymentMethodWave,
		domain.PaymentMethodMoov,
		domain.PaymentMethodFreeMoney,
	} {
		a, err := reg.ForProvider(method)
		require.NoError(t, err, method)
		assert.Equal(t, method, a.Provider())
	}

	_, err := reg.ForProvider(domain.PaymentMethodManual)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestVerifyCallback(t *testing.T) {
	a := NewOrangeAdapter("http://gw", "secret")
	body := []byte(`{"order_id":"ref-1","status":"SUCCESS","amount":5000}`)

	assert.True(t, a.VerifyCallback(body, Sign(body, "secret")))
	assert.False(t, a.VerifyCallback(body, Sign(body, "wrong")))
	assert.False(t, a.VerifyCallback(body, ""))
	assert.False(t, a.VerifyCallback([]byte(`tampered`), Sign(body, "secret")))
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name    string
		adapter Adapter
		body    string
		want    *Callback
		wantErr bool
	}{
		{
			name:    "orange success",
			adapter: NewOrangeAdapter("", ""),
			body:    `{"order_id":"ref-1","status":"SUCCESS","amount":5000,"txnid":"OM123"}`,
			want:    &Callback{ExternalRef: "ref-1", Amount: 5000, Outcome: OutcomeSuccess},
		},
		{
			name:    "orange failed",
			adapter: NewOrangeAdapter("", ""),
			body:    `{"order_id":"ref-1","status":"FAILED","amount":5000,"message":"insufficient balance"}`,
			want:    &Callback{ExternalRef: "ref-1", Amount: 5000, Outcome: OutcomeFailure, Reason: "insufficient balance"},
		},
		{
			name:    "orange unknown status",
			adapter: NewOrangeAdapter("", ""),
			body:    `{"order_id":"ref-1","status":"WAITING","amount":5000}`,
			wantErr: true,
		},
		{
			name:    "mtn successful with string amount",
			adapter: NewMTNAdapter("", ""),
			body:    `{"externalId":"ref-2","status":"SUCCESSFUL","amount":"2500"}`,
			want:    &Callback{ExternalRef: "ref-2", Amount: 2500, Outcome: OutcomeSuccess},
		},
		{
			name:    "mtn bad amount",
			adapter: NewMTNAdapter("", ""),
			body:    `{"externalId":"ref-2","status":"SUCCESSFUL","amount":"25.5x"}`,
			wantErr: true,
		},
		{
			name:    "wave complete",
			adapter: NewWaveAdapter("", ""),
			body:    `{"client_reference":"ref-3","checkout_status":"complete","amount":"10000"}`,
			want:    &Callback{ExternalRef: "ref-3", Amount: 10000, Outcome: OutcomeSuccess},
		},
		{
			name:    "moov ko",
			adapter: NewMoovAdapter("", ""),
			body:    `{"reference":"ref-4","status":"KO","amount":1500,"message":"timeout"}`,
			want:    &Callback{ExternalRef: "ref-4", Amount: 1500, Outcome: OutcomeFailure, Reason: "timeout"},
		},
		{
			name:    "free money success",
			adapter: NewFreeMoneyAdapter("", ""),
			body:    `{"external_ref":"ref-5","state":"success","amount":750}`,
			want:    &Callback{ExternalRef: "ref-5", Amount: 750, Outcome: OutcomeSuccess},
		},
		{
			name:    "missing reference",
			adapter: NewMoovAdapter("", ""),
			body:    `{"status":"OK","amount":1500}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			adapter: NewWaveAdapter("", ""),
			body:    `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := tt.adapter.ParseCallback([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cb)
		})
	}
}
