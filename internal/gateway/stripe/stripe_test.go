package stripe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/stripe"
)

func chargeRequest() gateway.ChargeRequest {
	return gateway.ChargeRequest{
		Amount:         50000,
		Currency:       "USD",
		Method:         gateway.MethodCard,
		IdempotencyKey: "inv_1:k1",
		Details:        map[string]string{"token": "tok_visa"},
	}
}

func TestAdapter_Charge(t *testing.T) {
	t.Run("success settles synchronously", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/charges", r.URL.Path)
			require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			require.Equal(t, "inv_1:k1", r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "50000", r.PostFormValue("amount"))
			assert.Equal(t, "usd", r.PostFormValue("currency"))
			assert.Equal(t, "tok_visa", r.PostFormValue("source"))
			w.Write([]byte(`{"id":"ch_123","status":"succeeded"}`))
		}))
		defer srv.Close()

		a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
		res, err := a.Charge(context.Background(), chargeRequest())
		require.NoError(t, err)
		assert.Equal(t, "stripe_ch_123", res.Reference)
		assert.Equal(t, "ch_123", res.GatewayTransactionID)
		assert.True(t, res.Settled)
		assert.NotEmpty(t, res.RawResponse)
	})

	t.Run("card decline maps to RejectedError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined.","decline_code":"insufficient_funds"}}`))
		}))
		defer srv.Close()

		a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
		_, err := a.Charge(context.Background(), chargeRequest())
		var rejected *gateway.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "insufficient_funds", rejected.Reason)
	})

	t.Run("5xx maps to UnavailableError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
		_, err := a.Charge(context.Background(), chargeRequest())
		var unavailable *gateway.UnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("429 maps to UnavailableError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
		_, err := a.Charge(context.Background(), chargeRequest())
		var unavailable *gateway.UnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("unreachable host maps to UnavailableError", func(t *testing.T) {
		a := stripe.New(nil, "sk_test", stripe.WithBaseURL("http://127.0.0.1:1"))
		_, err := a.Charge(context.Background(), chargeRequest())
		var unavailable *gateway.UnavailableError
		require.ErrorAs(t, err, &unavailable)
	})
}

func TestAdapter_Verify(t *testing.T) {
	cases := []struct {
		apiStatus string
		want      gateway.VerifyStatus
	}{
		{"succeeded", gateway.VerifySucceeded},
		{"pending", gateway.VerifyPending},
		{"failed", gateway.VerifyFailed},
	}
	for _, tc := range cases {
		t.Run(tc.apiStatus, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/charges/ch_123", r.URL.Path)
				w.Write([]byte(`{"id":"ch_123","status":"` + tc.apiStatus + `"}`))
			}))
			defer srv.Close()

			a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
			got, err := a.Verify(context.Background(), "stripe_ch_123")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("unknown charge reports failed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
		got, err := a.Verify(context.Background(), "stripe_ch_999")
		require.NoError(t, err)
		assert.Equal(t, gateway.VerifyFailed, got)
	})
}

func TestAdapter_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ch_123", r.PostFormValue("charge"))
		w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	a := stripe.New(srv.Client(), "sk_test", stripe.WithBaseURL(srv.URL))
	assert.NoError(t, a.Refund(context.Background(), "stripe_ch_123"))
}
