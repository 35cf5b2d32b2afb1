// Package flutterwave implements the gateway.Adapter contract for a
// bank-transfer and mobile-money oriented provider (JSON API, asynchronous
// confirmation for most methods).
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/educontrol/payment-engine/internal/gateway"
)

const defaultBaseURL = "https://api.flutterwave.com/v3"

type Adapter struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

type Option func(*Adapter)

func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

func New(client *http.Client, secretKey string, opts ...Option) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	a := &Adapter{httpClient: client, baseURL: defaultBaseURL, secretKey: secretKey}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return "flutterwave" }

func (a *Adapter) Capability() gateway.Capability {
	return gateway.Capability{
		Methods: []gateway.Method{
			gateway.MethodCard, gateway.MethodBankTransfer,
			gateway.MethodMobileMoney, gateway.MethodWallet,
		},
		Currencies:     []string{"NGN", "KES", "UGX", "USD"},
		SyncSettlement: false,
	}
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID     int64  `json:"id"`
		TxRef  string `json:"tx_ref"`
		FlwRef string `json:"flw_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

func (a *Adapter) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	payload := map[string]any{
		"amount":       req.Amount,
		"currency":     req.Currency,
		"payment_type": string(req.Method),
		"tx_ref":       req.IdempotencyKey,
	}
	for _, k := range []string{"email", "phone_number", "account_bank", "account_number"} {
		if v := req.Details[k]; v != "" {
			payload[k] = v
		}
	}

	body, status, err := a.do(ctx, http.MethodPost, "/charges", payload)
	if err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: err}
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("flutterwave: HTTP %d", status)}
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("flutterwave: malformed response: %w", err)}
	}
	if status >= 400 || resp.Status == "error" {
		reason := resp.Message
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", status)
		}
		return gateway.ChargeResult{RawResponse: body}, &gateway.RejectedError{Reason: reason}
	}

	ref := resp.Data.FlwRef
	if ref == "" {
		ref = resp.Data.TxRef
	}
	return gateway.ChargeResult{
		Reference:            "flw_" + ref,
		GatewayTransactionID: fmt.Sprintf("flw_tx_%d", resp.Data.ID),
		Settled:              resp.Data.Status == "successful",
		RawResponse:          body,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, reference string) (gateway.VerifyStatus, error) {
	ref := strings.TrimPrefix(reference, "flw_")
	body, status, err := a.doGet(ctx, "/transactions/verify_by_reference?tx_ref="+url.QueryEscape(ref))
	if err != nil {
		return "", &gateway.UnavailableError{Cause: err}
	}
	if status >= http.StatusInternalServerError {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("flutterwave: HTTP %d", status)}
	}
	if status >= 400 {
		return gateway.VerifyFailed, nil
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("flutterwave: malformed response: %w", err)}
	}
	switch resp.Data.Status {
	case "successful":
		return gateway.VerifySucceeded, nil
	case "pending":
		return gateway.VerifyPending, nil
	default:
		return gateway.VerifyFailed, nil
	}
}

func (a *Adapter) Refund(ctx context.Context, reference string) error {
	ref := strings.TrimPrefix(reference, "flw_")
	_, status, err := a.do(ctx, http.MethodPost, "/refunds", map[string]any{"flw_ref": ref})
	if err != nil {
		return &gateway.UnavailableError{Cause: err}
	}
	if status >= 400 {
		return fmt.Errorf("flutterwave: refund of %s failed with HTTP %d", reference, status)
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload map[string]any) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("flutterwave: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, 0, fmt.Errorf("flutterwave: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return a.roundTrip(req)
}

func (a *Adapter) doGet(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("flutterwave: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	return a.roundTrip(req)
}

func (a *Adapter) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("flutterwave: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("flutterwave: read response: %w", err)
	}
	return b, resp.StatusCode, nil
}
