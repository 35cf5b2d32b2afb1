// Package stripe implements the gateway.Adapter contract against a
// card-network style provider API (form-encoded requests, bearer auth,
// synchronous settlement).
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/educontrol/payment-engine/internal/gateway"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Adapter talks to the Stripe charges API.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL, used by tests.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// New creates a stripe Adapter. A nil client gets a 10s-timeout default.
func New(client *http.Client, apiKey string, opts ...Option) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	a := &Adapter{httpClient: client, baseURL: defaultBaseURL, apiKey: apiKey}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string { return "stripe" }

func (a *Adapter) Capability() gateway.Capability {
	return gateway.Capability{
		Methods:        []gateway.Method{gateway.MethodCard, gateway.MethodWallet},
		Currencies:     []string{"USD", "EUR", "GBP"},
		SyncSettlement: true,
	}
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

// Charge posts a charge. HTTP 402 and card_error responses map to
// *gateway.RejectedError; transport errors, 429 and 5xx map to
// *gateway.UnavailableError so the orchestrator can treat them as retryable.
func (a *Adapter) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if token := req.Details["token"]; token != "" {
		form.Set("source", token)
	}
	if desc := req.Details["description"]; desc != "" {
		form.Set("description", desc)
	}

	body, status, err := a.do(ctx, http.MethodPost, "/charges", strings.NewReader(form.Encode()), map[string]string{
		"Content-Type":    "application/x-www-form-urlencoded",
		"Idempotency-Key": req.IdempotencyKey,
	})
	if err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: err}
	}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("stripe: HTTP %d", status)}
	}
	if status >= 400 {
		var er errorResponse
		reason := fmt.Sprintf("HTTP %d", status)
		if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
			reason = er.Error.Message
			if er.Error.DeclineCode != "" {
				reason = er.Error.DeclineCode
			}
		}
		return gateway.ChargeResult{RawResponse: body}, &gateway.RejectedError{Reason: reason}
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return gateway.ChargeResult{}, &gateway.UnavailableError{Cause: fmt.Errorf("stripe: malformed response: %w", err)}
	}
	return gateway.ChargeResult{
		Reference:            "stripe_" + resp.ID,
		GatewayTransactionID: resp.ID,
		Settled:              resp.Status == "succeeded",
		RawResponse:          body,
	}, nil
}

// Verify looks up a charge by id or idempotency key.
func (a *Adapter) Verify(ctx context.Context, reference string) (gateway.VerifyStatus, error) {
	ref := strings.TrimPrefix(reference, "stripe_")
	body, status, err := a.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(ref), nil, nil)
	if err != nil {
		return "", &gateway.UnavailableError{Cause: err}
	}
	if status >= http.StatusInternalServerError {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("stripe: HTTP %d", status)}
	}
	if status >= 400 {
		return gateway.VerifyFailed, nil
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &gateway.UnavailableError{Cause: fmt.Errorf("stripe: malformed response: %w", err)}
	}
	switch resp.Status {
	case "succeeded":
		return gateway.VerifySucceeded, nil
	case "pending":
		return gateway.VerifyPending, nil
	default:
		return gateway.VerifyFailed, nil
	}
}

// Refund reverses a settled charge.
func (a *Adapter) Refund(ctx context.Context, reference string) error {
	ref := strings.TrimPrefix(reference, "stripe_")
	form := url.Values{}
	form.Set("charge", ref)
	_, status, err := a.do(ctx, http.MethodPost, "/refunds", strings.NewReader(form.Encode()), map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	})
	if err != nil {
		return &gateway.UnavailableError{Cause: err}
	}
	if status >= 400 {
		return fmt.Errorf("stripe: refund of %s failed with HTTP %d", reference, status)
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("stripe: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("stripe: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("stripe: read response: %w", err)
	}
	return b, resp.StatusCode, nil
}
