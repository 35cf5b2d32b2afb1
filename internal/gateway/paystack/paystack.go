// Package paystack implements the gateway.Adapter contract for a regional
// card and mobile-money provider (JSON API, asynchronous settlement for
// non-card methods).
package paystack

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

const defaultBaseURL = "https://api.paystack.co"

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

func (a *Adapter) Name() string { return "paystack" }

func (a *Adapter) Capability() gateway.Capability {
	return gateway.Capability{
		Methods:        []gateway.Method{gateway.MethodCard, gateway.MethodBankTransfer, gateway.MethodMobileMoney},
		Currencies:     []string{"NGN", "GHS", "ZAR", "USD"},
		SyncSettlement: false,
	}
}

type apiResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		ID        int64  `json:"id"`
	} `json:"data"`
}

func (a *Adapter) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	payload := map[string]any{
		"amount":    req.Amount,
		"currency":  req.Currency,
		"channel":   string(req.Method),
		"reference": req.IdempotencyKey,
	}
	if email := req.Details["email"]; email != "" {
		payload["email"] = email
	}
	if auth := req.Details["authorization_code"]; auth != "" {
		payload["authorization_code"] = auth
	}

	body, status, err := a.do(ctx, http.MethodPost, "/transaction/charge", payload)
	if err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: err}
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("paystack: HTTP %d", status)}
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("paystack: malformed response: %w", err)}
	}
	if status >= 400 || !resp.Status {
		reason := resp.Message
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", status)
		}
		return gateway.ChargeResult{RawResponse: body}, &gateway.RejectedError{Reason: reason}
	}

	ref := resp.Data.Reference
	if ref == "" {
		ref = req.IdempotencyKey
	}
	return gateway.ChargeResult{
		Reference:            "paystack_" + ref,
		GatewayTransactionID: fmt.Sprintf("trx_%d", resp.Data.ID),
		Settled:              resp.Data.Status == "success",
		RawResponse:          body,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, reference string) (gateway.VerifyStatus, error) {
	ref := strings.TrimPrefix(reference, "paystack_")
	body, status, err := a.doGet(ctx, "/transaction/verify/"+url.PathEscape(ref))
	if err != nil {
		return "", &gateway.UnavailableError{Cause: err}
	}
	if status >= http.StatusInternalServerError {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("paystack: HTTP %d", status)}
	}
	if status >= 400 {
		return gateway.VerifyFailed, nil
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("paystack: malformed response: %w", err)}
	}
	switch resp.Data.Status {
	case "success":
		return gateway.VerifySucceeded, nil
	case "pending", "ongoing", "processing":
		return gateway.VerifyPending, nil
	default:
		return gateway.VerifyFailed, nil
	}
}

func (a *Adapter) Refund(ctx context.Context, reference string) error {
	ref := strings.TrimPrefix(reference, "paystack_")
	_, status, err := a.do(ctx, http.MethodPost, "/refund", map[string]any{"transaction": ref})
	if err != nil {
		return &gateway.UnavailableError{Cause: err}
	}
	if status >= 400 {
		return fmt.Errorf("paystack: refund of %s failed with HTTP %d", reference, status)
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload map[string]any) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return a.roundTrip(req)
}

func (a *Adapter) doGet(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	return a.roundTrip(req)
}

func (a *Adapter) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("paystack: read response: %w", err)
	}
	return b, resp.StatusCode, nil
}
