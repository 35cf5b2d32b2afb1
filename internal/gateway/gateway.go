// Package gateway defines the capability contract implemented by every
// payment provider adapter. Adapters handle all provider-specific API calls,
// including serialization, timeouts and error mapping, normalizing raw
// provider responses into a common ChargeResult format.
//
// Adapters are stateless and safe to share across concurrent requests.
package gateway

import (
	"context"
	"fmt"
)

// Method is a payment method accepted by one or more providers.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodMobileMoney  Method = "mobile_money"
	MethodWallet       Method = "wallet"
)

// VerifyStatus is the outcome reported by a provider for a previously
// submitted charge.
type VerifyStatus string

const (
	VerifySucceeded VerifyStatus = "succeeded"
	VerifyFailed    VerifyStatus = "failed"
	VerifyPending   VerifyStatus = "pending"
)

// Capability is the static descriptor of what a provider supports.
type Capability struct {
	Methods    []Method
	Currencies []string
	// SyncSettlement reports whether the provider guarantees synchronous
	// settlement on charge. When false, charges may come back unsettled and
	// must be confirmed later via Verify.
	SyncSettlement bool
}

// SupportsMethod reports whether m is in the capability's method set.
func (c Capability) SupportsMethod(m Method) bool {
	for _, cm := range c.Methods {
		if cm == m {
			return true
		}
	}
	return false
}

// SupportsCurrency reports whether the ISO 4217 code cur is accepted.
func (c Capability) SupportsCurrency(cur string) bool {
	for _, cc := range c.Currencies {
		if cc == cur {
			return true
		}
	}
	return false
}

// ChargeRequest carries everything an adapter needs to attempt a charge.
// Details hold provider-specific opaque fields (already tokenized upstream;
// adapters never see raw card data).
type ChargeRequest struct {
	Amount         int64 // minor units
	Currency       string
	Method         Method
	IdempotencyKey string
	Details        map[string]string
}

// ChargeResult is the normalized outcome of a successful provider call.
// Settled=false means the provider accepted the charge but settlement is
// asynchronous; the attempt must be confirmed via Verify.
type ChargeResult struct {
	Reference            string
	GatewayTransactionID string
	Settled              bool
	RawResponse          []byte
}

// RejectedError is a business decline from the provider. It is permanent:
// retrying with the same inputs will not succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected charge: %s", e.Reason)
}

// UnavailableError is a transport-level failure (timeout, connection error,
// provider 5xx). The charge outcome is unknown and the attempt is retryable
// with the same idempotency key.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// Adapter is implemented by each concrete payment provider integration.
type Adapter interface {
	// Name returns the registry identifier, e.g. "stripe".
	Name() string

	// Capability returns the provider's static capability descriptor.
	Capability() Capability

	// Charge attempts to move funds. It returns *RejectedError on a business
	// decline and *UnavailableError on transport failure; any other error is
	// unexpected. The idempotency key is forwarded to the provider so that a
	// retried call cannot double-charge.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)

	// Verify reconciles an attempt left in an indeterminate state. The
	// reference is the gateway reference when one is known, otherwise the
	// attempt's idempotency key (providers support lookup by either).
	Verify(ctx context.Context, reference string) (VerifyStatus, error)

	// Refund reverses a settled charge, used as the compensating action when
	// a concurrent attempt won the invoice. Fire-and-forget semantics at the
	// caller; errors are logged and audited, never surfaced to clients.
	Refund(ctx context.Context, reference string) error
}
