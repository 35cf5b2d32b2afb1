// Package mock provides a scriptable gateway.Adapter for tests. Every call
// is counted so tests can assert that a replayed idempotent request never
// reaches the provider twice.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/educontrol/payment-engine/internal/gateway"
)

// Adapter is a test double for gateway.Adapter.
type Adapter struct {
	ProviderName string
	Cap          gateway.Capability

	ChargeFunc func(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	VerifyFunc func(ctx context.Context, reference string) (gateway.VerifyStatus, error)
	RefundFunc func(ctx context.Context, reference string) error

	chargeCalls atomic.Int64
	verifyCalls atomic.Int64
	refundCalls atomic.Int64

	mu       sync.Mutex
	charges  []gateway.ChargeRequest
	refunded []string
}

// New creates an adapter that by default accepts card payments in USD,
// settles synchronously and succeeds every charge.
func New(name string) *Adapter {
	return &Adapter{
		ProviderName: name,
		Cap: gateway.Capability{
			Methods:        []gateway.Method{gateway.MethodCard, gateway.MethodBankTransfer, gateway.MethodMobileMoney, gateway.MethodWallet},
			Currencies:     []string{"USD", "NGN", "EUR"},
			SyncSettlement: true,
		},
	}
}

func (m *Adapter) Name() string                   { return m.ProviderName }
func (m *Adapter) Capability() gateway.Capability { return m.Cap }

func (m *Adapter) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	m.chargeCalls.Add(1)
	m.mu.Lock()
	m.charges = append(m.charges, req)
	m.mu.Unlock()
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return gateway.ChargeResult{
		Reference:            m.ProviderName + "_" + req.IdempotencyKey,
		GatewayTransactionID: uuid.NewString(),
		Settled:              true,
		RawResponse:          []byte(`{"status":"succeeded"}`),
	}, nil
}

func (m *Adapter) Verify(ctx context.Context, reference string) (gateway.VerifyStatus, error) {
	m.verifyCalls.Add(1)
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, reference)
	}
	return gateway.VerifySucceeded, nil
}

func (m *Adapter) Refund(ctx context.Context, reference string) error {
	m.refundCalls.Add(1)
	m.mu.Lock()
	m.refunded = append(m.refunded, reference)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, reference)
	}
	return nil
}

// ChargeCalls returns how many times Charge was invoked.
func (m *Adapter) ChargeCalls() int64 { return m.chargeCalls.Load() }

// VerifyCalls returns how many times Verify was invoked.
func (m *Adapter) VerifyCalls() int64 { return m.verifyCalls.Load() }

// RefundCalls returns how many times Refund was invoked.
func (m *Adapter) RefundCalls() int64 { return m.refundCalls.Load() }

// Refunded returns the references passed to Refund.
func (m *Adapter) Refunded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refunded...)
}

// LastCharge returns the most recent ChargeRequest, or false when none.
func (m *Adapter) LastCharge() (gateway.ChargeRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.charges) == 0 {
		return gateway.ChargeRequest{}, false
	}
	return m.charges[len(m.charges)-1], true
}
