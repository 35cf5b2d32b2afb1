// Package orchestrator drives the payment state machine: it validates
// requests, enforces idempotency, routes charges through gateway adapters,
// keeps the invoice ledger consistent under concurrency, and reconciles
// attempts left in indeterminate states.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/educontrol/payment-engine/internal/attempt"
	"github.com/educontrol/payment-engine/internal/audit"
	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/circuitbreaker"
	"github.com/educontrol/payment-engine/internal/gateway/registry"
	"github.com/educontrol/payment-engine/internal/invoice"
	"github.com/educontrol/payment-engine/internal/ledger"
	"github.com/educontrol/payment-engine/internal/metrics"
	"github.com/educontrol/payment-engine/internal/notify"
)

const defaultGatewayTimeout = 10 * time.Second

// invoiceFinalizeRetries bounds the invoice CAS retry loop after a settled
// charge. Non-final invoice statuses are unpaid, pending and failed, so
// genuine concurrent moves exhaust well before this.
const invoiceFinalizeRetries = 5

// Request is a validated-on-entry payment submission.
type Request struct {
	InvoiceID string
	Gateway   string
	Method    gateway.Method
	Amount    int64
	Currency  string
	StudentID string
	SchoolID  string
	// IdempotencyNonce is the client-supplied nonce; when empty the key is
	// derived from the request fields.
	IdempotencyNonce string
	Details          map[string]string
}

// Receipt is the successful (or replayed) outcome of a submission.
type Receipt struct {
	AttemptID        string          `json:"attempt_id"`
	PaymentReference string          `json:"payment_reference"`
	TransactionID    string          `json:"transaction_id"`
	AmountPaid       int64           `json:"amount_paid"`
	Currency         string          `json:"currency"`
	Gateway          string          `json:"payment_gateway"`
	Method           string          `json:"payment_method"`
	Settled          bool            `json:"settled"`
	Replayed         bool            `json:"replayed"`
	Invoice          invoice.Invoice `json:"invoice"`
}

// Orchestrator coordinates the registry, ledger, stores and audit log.
type Orchestrator struct {
	registry *registry.Registry
	invoices invoice.Store
	attempts attempt.Store
	ledger   ledger.Ledger
	auditLog audit.Log
	breaker  *circuitbreaker.Breaker
	notifier notify.Notifier
	metrics  *metrics.Metrics

	gatewayTimeout time.Duration
}

// Config wires an Orchestrator. Registry, stores, ledger and audit log are
// required; Breaker, Notifier and Metrics default to working no-op-ish
// implementations; GatewayTimeout defaults to 10s.
type Config struct {
	Registry       *registry.Registry
	Invoices       invoice.Store
	Attempts       attempt.Store
	Ledger         ledger.Ledger
	AuditLog       audit.Log
	Breaker        *circuitbreaker.Breaker
	Notifier       notify.Notifier
	Metrics        *metrics.Metrics
	GatewayTimeout time.Duration
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Invoices == nil || cfg.Attempts == nil || cfg.Ledger == nil || cfg.AuditLog == nil {
		return nil, errors.New("orchestrator: registry, stores, ledger and audit log are required")
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	return &Orchestrator{
		registry:       cfg.Registry,
		invoices:       cfg.Invoices,
		attempts:       cfg.Attempts,
		ledger:         cfg.Ledger,
		auditLog:       cfg.AuditLog,
		breaker:        cfg.Breaker,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		gatewayTimeout: cfg.GatewayTimeout,
	}, nil
}

func (o *Orchestrator) validate(req Request) (gateway.Adapter, error) {
	if req.InvoiceID == "" {
		return nil, &InvalidRequestError{Field: "invoice_id", Reason: "required"}
	}
	if req.Gateway == "" {
		return nil, &InvalidRequestError{Field: "payment_gateway", Reason: "required"}
	}
	if req.Method == "" {
		return nil, &InvalidRequestError{Field: "payment_method", Reason: "required"}
	}
	if req.Amount <= 0 {
		return nil, &InvalidRequestError{Field: "amount", Reason: "must be positive"}
	}
	if req.Currency == "" {
		return nil, &InvalidRequestError{Field: "currency", Reason: "required"}
	}
	adapterForGateway, err := o.registry.Resolve(req.Gateway)
	if err != nil {
		return nil, &InvalidRequestError{Field: "payment_gateway", Reason: err.Error()}
	}
	capability := adapterForGateway.Capability()
	if !capability.SupportsMethod(req.Method) {
		return nil, &InvalidRequestError{
			Field:  "payment_method",
			Reason: fmt.Sprintf("method %q not supported by gateway %q", req.Method, req.Gateway),
		}
	}
	if !capability.SupportsCurrency(req.Currency) {
		return nil, &InvalidRequestError{
			Field:  "currency",
			Reason: fmt.Sprintf("currency %q not supported by gateway %q", req.Currency, req.Gateway),
		}
	}
	return adapterForGateway, nil
}

// SubmitPayment runs one payment attempt end to end. Validation happens
// before any side effect; the idempotency ledger guarantees at-most-once
// charging per (invoice, key); invoice transitions use optimistic
// concurrency so racing attempts cannot both win.
func (o *Orchestrator) SubmitPayment(ctx context.Context, req Request) (*Receipt, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.SubmitPayment")
	defer span.End()

	adapterForGateway, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	inv, err := o.invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("orchestrator: load invoice %s: %w", req.InvoiceID, err)
	}
	key := ledger.DeriveKey(req.InvoiceID, req.IdempotencyNonce, req.Gateway, string(req.Method), req.Amount, req.Currency)
	res, err := o.ledger.Reserve(ctx, req.InvoiceID, key, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reserve idempotency key: %w", err)
	}

	// A replayed key answers from the recorded outcome even when the invoice
	// has since been finalized: the retry of a request that succeeded must
	// see that success, not a conflict.
	switch res.State {
	case ledger.StateReplayed:
		return o.replay(ctx, req, res)
	case ledger.StateInFlight:
		return nil, &RetryableError{Cause: fmt.Errorf("a payment with this idempotency key is already in flight")}
	}

	// We hold the reservation now.
	if inv.Status.Final() {
		o.release(req.InvoiceID, key)
		return nil, ErrInvoiceAlreadyFinalized
	}

	if res.State == ledger.StateNew {
		if err := o.createAttempt(ctx, req, res.AttemptID, key); err != nil {
			o.release(req.InvoiceID, key)
			return nil, err
		}
	} else {
		// Resumed: a prior request failed retryably; reuse its attempt. A
		// reservation whose attempt row is missing means the previous holder
		// died between reserving and creating it, so create it now.
		if _, err := o.attempts.Get(ctx, res.AttemptID); err != nil {
			if !errors.Is(err, attempt.ErrNotFound) {
				o.release(req.InvoiceID, key)
				return nil, fmt.Errorf("orchestrator: load resumed attempt %s: %w", res.AttemptID, err)
			}
			if err := o.createAttempt(ctx, req, res.AttemptID, key); err != nil {
				o.release(req.InvoiceID, key)
				return nil, err
			}
		}
	}

	o.metrics.PaymentsStarted.WithLabelValues(req.Gateway).Inc()

	if !o.breaker.Allow(req.Gateway) {
		o.release(req.InvoiceID, key)
		return nil, &RetryableError{Cause: fmt.Errorf("gateway %s circuit open", req.Gateway)}
	}

	// The gateway call is not safely cancellable mid-flight: detach from the
	// caller's cancellation so an abandoned request still records whatever
	// outcome arrives, bounded by the gateway timeout.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.gatewayTimeout)
	defer cancel()

	start := time.Now()
	result, chargeErr := adapterForGateway.Charge(chargeCtx, gateway.ChargeRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		IdempotencyKey: key,
		Details:        req.Details,
	})
	o.metrics.GatewayLatency.WithLabelValues(req.Gateway, "charge").Observe(time.Since(start).Seconds())

	// Post-charge bookkeeping must survive caller cancellation too.
	bgCtx := context.WithoutCancel(ctx)

	if chargeErr != nil {
		var unavailable *gateway.UnavailableError
		if errors.As(chargeErr, &unavailable) {
			o.breaker.RecordFailure(req.Gateway)
			o.release(req.InvoiceID, key)
			// Attempt stays initiated; an external retry or the
			// reconciliation sweep picks it up.
			return nil, &RetryableError{Cause: chargeErr}
		}
		var rejected *gateway.RejectedError
		if errors.As(chargeErr, &rejected) {
			o.breaker.RecordSuccess(req.Gateway) // the provider answered; declines are not outages
			return nil, o.finalizeRejected(bgCtx, req, res.AttemptID, key, rejected, result.RawResponse)
		}
		o.release(req.InvoiceID, key)
		return nil, fmt.Errorf("orchestrator: gateway %s charge: %w", req.Gateway, chargeErr)
	}

	o.breaker.RecordSuccess(req.Gateway)
	if result.Settled {
		return o.finalizeSettled(bgCtx, req, adapterForGateway, inv, res.AttemptID, key, result)
	}
	return o.recordSubmitted(bgCtx, req, inv, res.AttemptID, key, result)
}

func (o *Orchestrator) createAttempt(ctx context.Context, req Request, attemptID, key string) error {
	att := attempt.Attempt{
		ID:             attemptID,
		InvoiceID:      req.InvoiceID,
		Gateway:        req.Gateway,
		Method:         string(req.Method),
		IdempotencyKey: key,
		Status:         attempt.StatusInitiated,
	}
	if err := o.attempts.Create(ctx, att); err != nil {
		return fmt.Errorf("orchestrator: create attempt: %w", err)
	}
	o.appendAudit(attemptID, "", attempt.StatusInitiated, []byte("attempt created"))
	return nil
}

// finalizeRejected marks the attempt failed, records the decline and replays
// it for any later request carrying the same key.
func (o *Orchestrator) finalizeRejected(ctx context.Context, req Request, attemptID, key string, rejected *gateway.RejectedError, raw []byte) error {
	if err := o.attempts.Transition(ctx, attemptID, attempt.StatusInitiated, attempt.StatusFailed, nil); err != nil && !errors.Is(err, attempt.ErrStaleTransition) {
		log.Printf("orchestrator: attempt %s: mark failed: %v", attemptID, err)
	}
	o.appendAudit(attemptID, attempt.StatusInitiated, attempt.StatusFailed, raw)
	if err := o.ledger.Complete(ctx, req.InvoiceID, key, ledger.Outcome{
		AttemptID: attemptID,
		Succeeded: false,
		Reason:    rejected.Reason,
	}); err != nil {
		log.Printf("orchestrator: attempt %s: complete ledger: %v", attemptID, err)
	}
	o.metrics.PaymentsFailed.WithLabelValues(req.Gateway, "rejected").Inc()
	go o.notifier.PaymentResult(context.WithoutCancel(ctx), notify.Event{
		InvoiceID: req.InvoiceID, StudentID: req.StudentID, SchoolID: req.SchoolID,
		Gateway: req.Gateway, Amount: req.Amount, Currency: req.Currency,
		Succeeded: false, Reason: rejected.Reason,
	})
	return &PermanentError{Reason: rejected.Reason}
}

// finalizeSettled moves the attempt to succeeded and the invoice to paid.
// Losing the invoice CAS after a settled charge is the double-charge race
// the design surfaces explicitly: the losing charge is refunded out of band.
func (o *Orchestrator) finalizeSettled(ctx context.Context, req Request, adapterForGateway gateway.Adapter, inv invoice.Invoice, attemptID, key string, result gateway.ChargeResult) (*Receipt, error) {
	upd := &attempt.Update{GatewayTransactionID: result.GatewayTransactionID, Reference: result.Reference}
	if err := o.attempts.Transition(ctx, attemptID, attempt.StatusInitiated, attempt.StatusSucceeded, upd); err != nil {
		if errors.Is(err, attempt.ErrStaleTransition) {
			// The reconciliation sweep finalized this attempt first; fall
			// through and read the invoice as-is.
			log.Printf("orchestrator: attempt %s already finalized by sweep", attemptID)
		} else {
			log.Printf("orchestrator: attempt %s: mark succeeded: %v", attemptID, err)
		}
	}
	o.appendAudit(attemptID, attempt.StatusInitiated, attempt.StatusSucceeded, result.RawResponse)

	paidAt := time.Now().UTC()
	fin := &invoice.Finalization{
		PaymentMethod:    string(req.Method),
		PaymentReference: result.Reference,
		PaidAt:           paidAt,
	}

	// Each stale CAS means a concurrent writer moved the invoice; re-read and
	// retry against the fresh status until the write lands or the invoice is
	// terminally owned by another attempt. The non-final statuses form a short
	// chain, so a well-behaved store never needs more than a few rounds.
	committed := false
	expected := inv.Status
	for tries := 0; tries < invoiceFinalizeRetries; tries++ {
		err := o.invoices.Transition(ctx, inv.ID, expected, invoice.StatusPaid, fin)
		if err == nil {
			committed = true
			break
		}
		if !errors.Is(err, invoice.ErrStaleTransition) {
			return nil, fmt.Errorf("orchestrator: finalize invoice %s: %w", inv.ID, err)
		}
		fresh, getErr := o.invoices.Get(ctx, inv.ID)
		if getErr != nil {
			return nil, fmt.Errorf("orchestrator: reload invoice %s: %w", inv.ID, getErr)
		}
		if fresh.Status.Final() {
			// A concurrent attempt with a different key won the invoice.
			return nil, o.compensate(ctx, req, adapterForGateway, attemptID, key, result)
		}
		expected = fresh.Status
	}
	if !committed {
		// Fail closed. A settled charge must never be reported as applied
		// while the invoice was not marked paid: the reservation stays held
		// so this key cannot charge again, and no success outcome is
		// recorded. The audit trail carries the settled charge for manual
		// resolution.
		log.Printf("orchestrator: attempt %s: invoice %s transition kept losing races after settlement, manual resolution required",
			attemptID, inv.ID)
		return nil, fmt.Errorf("orchestrator: finalize invoice %s: concurrent transitions exhausted retries", inv.ID)
	}

	if err := o.ledger.Complete(ctx, req.InvoiceID, key, ledger.Outcome{
		AttemptID:     attemptID,
		Succeeded:     true,
		Reference:     result.Reference,
		TransactionID: result.GatewayTransactionID,
	}); err != nil {
		log.Printf("orchestrator: attempt %s: complete ledger: %v", attemptID, err)
	}
	o.metrics.PaymentsSucceeded.WithLabelValues(req.Gateway).Inc()
	go o.notifier.PaymentResult(context.WithoutCancel(ctx), notify.Event{
		InvoiceID: req.InvoiceID, StudentID: req.StudentID, SchoolID: req.SchoolID,
		Gateway: req.Gateway, Amount: req.Amount, Currency: req.Currency,
		Succeeded: true, Reference: result.Reference,
	})

	finalInv, err := o.invoices.Get(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reload invoice %s: %w", inv.ID, err)
	}
	return &Receipt{
		AttemptID:        attemptID,
		PaymentReference: result.Reference,
		TransactionID:    result.GatewayTransactionID,
		AmountPaid:       req.Amount,
		Currency:         req.Currency,
		Gateway:          req.Gateway,
		Method:           string(req.Method),
		Settled:          true,
		Invoice:          finalInv,
	}, nil
}

// compensate refunds a settled charge that lost the invoice race.
func (o *Orchestrator) compensate(ctx context.Context, req Request, adapterForGateway gateway.Adapter, attemptID, key string, result gateway.ChargeResult) error {
	log.Printf("orchestrator: attempt %s lost invoice %s race after settlement, refunding %s",
		attemptID, req.InvoiceID, result.Reference)

	refundCtx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()
	start := time.Now()
	if err := adapterForGateway.Refund(refundCtx, result.Reference); err != nil {
		// The audit trail still records the settled-but-unapplied charge so
		// the dispute can be resolved manually.
		log.Printf("orchestrator: attempt %s: compensating refund failed: %v", attemptID, err)
	}
	o.metrics.GatewayLatency.WithLabelValues(req.Gateway, "refund").Observe(time.Since(start).Seconds())
	o.metrics.RefundsIssued.Inc()

	if err := o.attempts.Transition(ctx, attemptID, attempt.StatusSucceeded, attempt.StatusFailed, nil); err != nil {
		log.Printf("orchestrator: attempt %s: mark refunded: %v", attemptID, err)
	}
	o.appendAudit(attemptID, attempt.StatusSucceeded, attempt.StatusFailed,
		[]byte("compensating refund: invoice settled by concurrent attempt"))
	if err := o.ledger.Complete(ctx, req.InvoiceID, key, ledger.Outcome{
		AttemptID: attemptID,
		Succeeded: false,
		Reason:    "invoice settled by a concurrent attempt; charge refunded",
	}); err != nil {
		log.Printf("orchestrator: attempt %s: complete ledger: %v", attemptID, err)
	}
	o.metrics.PaymentsFailed.WithLabelValues(req.Gateway, "raced").Inc()
	return ErrInvoiceAlreadyFinalized
}

// recordSubmitted parks an asynchronously settling attempt: attempt
// submitted, invoice pending, reservation kept until the sweep confirms.
func (o *Orchestrator) recordSubmitted(ctx context.Context, req Request, inv invoice.Invoice, attemptID, key string, result gateway.ChargeResult) (*Receipt, error) {
	upd := &attempt.Update{GatewayTransactionID: result.GatewayTransactionID, Reference: result.Reference}
	if err := o.attempts.Transition(ctx, attemptID, attempt.StatusInitiated, attempt.StatusSubmitted, upd); err != nil && !errors.Is(err, attempt.ErrStaleTransition) {
		log.Printf("orchestrator: attempt %s: mark submitted: %v", attemptID, err)
	}
	o.appendAudit(attemptID, attempt.StatusInitiated, attempt.StatusSubmitted, result.RawResponse)

	if inv.Status == invoice.StatusUnpaid {
		if err := o.invoices.Transition(ctx, inv.ID, invoice.StatusUnpaid, invoice.StatusPending, nil); err != nil && !errors.Is(err, invoice.ErrStaleTransition) {
			log.Printf("orchestrator: invoice %s: mark pending: %v", inv.ID, err)
		}
	}

	finalInv, err := o.invoices.Get(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reload invoice %s: %w", inv.ID, err)
	}
	return &Receipt{
		AttemptID:        attemptID,
		PaymentReference: result.Reference,
		TransactionID:    result.GatewayTransactionID,
		AmountPaid:       req.Amount,
		Currency:         req.Currency,
		Gateway:          req.Gateway,
		Method:           string(req.Method),
		Settled:          false,
		Invoice:          finalInv,
	}, nil
}

// replay answers a duplicate submission from the recorded outcome without
// touching the gateway.
func (o *Orchestrator) replay(ctx context.Context, req Request, res ledger.Reservation) (*Receipt, error) {
	o.metrics.PaymentsReplayed.Inc()
	out := res.Outcome
	if !out.Succeeded {
		return nil, &PermanentError{Reason: out.Reason}
	}
	inv, err := o.invoices.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reload invoice %s: %w", req.InvoiceID, err)
	}
	return &Receipt{
		AttemptID:        out.AttemptID,
		PaymentReference: out.Reference,
		TransactionID:    out.TransactionID,
		AmountPaid:       req.Amount,
		Currency:         req.Currency,
		Gateway:          req.Gateway,
		Method:           string(req.Method),
		Settled:          true,
		Replayed:         true,
		Invoice:          inv,
	}, nil
}

func (o *Orchestrator) release(invoiceID, key string) {
	if err := o.ledger.Release(context.Background(), invoiceID, key); err != nil {
		log.Printf("orchestrator: release key for invoice %s: %v", invoiceID, err)
	}
}

func (o *Orchestrator) appendAudit(attemptID string, prior, next attempt.Status, raw []byte) {
	entry := audit.Entry{
		ID:          uuid.NewString(),
		AttemptID:   attemptID,
		PriorStatus: string(prior),
		NewStatus:   string(next),
		At:          time.Now().UTC(),
		Digest:      audit.Digest(raw),
	}
	if err := o.auditLog.Append(context.Background(), entry); err != nil {
		log.Printf("orchestrator: audit append for attempt %s: %v", attemptID, err)
	}
}
