package flutterwave_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/flutterwave"
)

func chargeRequest() gateway.ChargeRequest {
	return gateway.ChargeRequest{
		Amount:         120000,
		Currency:       "KES",
		Method:         gateway.MethodBankTransfer,
		IdempotencyKey: "inv_3:k2",
		Details:        map[string]string{"email": "parent@example.com", "account_number": "0690000031"},
	}
}

func TestAdapter_Charge(t *testing.T) {
	t.Run("accepted transfer is unsettled until verified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/charges", r.URL.Path)
			require.Equal(t, "Bearer flw_sk", r.Header.Get("Authorization"))
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "bank_transfer", payload["payment_type"])
			assert.Equal(t, "inv_3:k2", payload["tx_ref"])
			assert.Equal(t, "0690000031", payload["account_number"])
			w.Write([]byte(`{"status":"success","data":{"id":88,"tx_ref":"inv_3:k2","flw_ref":"FLW-MOCK-88","status":"pending"}}`))
		}))
		defer srv.Close()

		a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
		res, err := a.Charge(context.Background(), chargeRequest())
		require.NoError(t, err)
		assert.Equal(t, "flw_FLW-MOCK-88", res.Reference)
		assert.Equal(t, "flw_tx_88", res.GatewayTransactionID)
		assert.False(t, res.Settled)
	})

	t.Run("error status maps to RejectedError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error","message":"Invalid account number"}`))
		}))
		defer srv.Close()

		a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
		_, err := a.Charge(context.Background(), chargeRequest())
		var rejected *gateway.RejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "Invalid account number", rejected.Reason)
	})

	t.Run("5xx maps to UnavailableError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
		_, err := a.Charge(context.Background(), chargeRequest())
		var unavailable *gateway.UnavailableError
		require.ErrorAs(t, err, &unavailable)
	})
}

func TestAdapter_Verify(t *testing.T) {
	t.Run("verify by tx_ref", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/transactions/verify_by_reference", r.URL.Path)
			require.Equal(t, "inv_3:k2", r.URL.Query().Get("tx_ref"))
			w.Write([]byte(`{"status":"success","data":{"tx_ref":"inv_3:k2","status":"successful"}}`))
		}))
		defer srv.Close()

		a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
		got, err := a.Verify(context.Background(), "flw_inv_3:k2")
		require.NoError(t, err)
		assert.Equal(t, gateway.VerifySucceeded, got)
	})

	t.Run("pending stays pending", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":{"status":"pending"}}`))
		}))
		defer srv.Close()

		a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
		got, err := a.Verify(context.Background(), "flw_x")
		require.NoError(t, err)
		assert.Equal(t, gateway.VerifyPending, got)
	})
}

func TestAdapter_Refund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refunds", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "FLW-MOCK-88", payload["flw_ref"])
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	a := flutterwave.New(srv.Client(), "flw_sk", flutterwave.WithBaseURL(srv.URL))
	assert.NoError(t, a.Refund(context.Background(), "flw_FLW-MOCK-88"))
}
