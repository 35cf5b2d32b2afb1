package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/educontrol/payment-engine/internal/attempt"
	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/registry"
	"github.com/educontrol/payment-engine/internal/invoice"
	"github.com/educontrol/payment-engine/internal/ledger"
	"github.com/educontrol/payment-engine/internal/metrics"
	"github.com/educontrol/payment-engine/internal/notify"
	"github.com/educontrol/payment-engine/internal/policy"
)

// Reconciler is the background sweep that resolves attempts stuck in
// initiated or submitted: it asks the gateway for the authoritative outcome
// via Verify and finalizes through the same compare-and-swap paths as the
// synchronous flow, so each attempt is finalized exactly once.
type Reconciler struct {
	registry *registry.Registry
	invoices invoice.Store
	attempts attempt.Store
	ledger   ledger.Ledger
	enforcer *policy.Enforcer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	orch     *Orchestrator

	interval       time.Duration
	staleAfter     time.Duration
	gatewayTimeout time.Duration
}

// ReconcilerConfig wires a Reconciler. Interval defaults to 30s, StaleAfter
// to 2m, GatewayTimeout to the orchestrator default.
type ReconcilerConfig struct {
	Registry       *registry.Registry
	Invoices       invoice.Store
	Attempts       attempt.Store
	Ledger         ledger.Ledger
	Enforcer       *policy.Enforcer
	Notifier       notify.Notifier
	Metrics        *metrics.Metrics
	Orchestrator   *Orchestrator
	Interval       time.Duration
	StaleAfter     time.Duration
	GatewayTimeout time.Duration
}

// NewReconciler creates a Reconciler sharing the orchestrator's stores.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Registry == nil || cfg.Invoices == nil || cfg.Attempts == nil || cfg.Ledger == nil || cfg.Orchestrator == nil {
		return nil, errors.New("reconciler: registry, stores, ledger and orchestrator are required")
	}
	if cfg.Enforcer == nil {
		enf, err := policy.NewEnforcer(policy.DefaultRules())
		if err != nil {
			return nil, err
		}
		cfg.Enforcer = enf
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = cfg.Orchestrator.metrics
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = cfg.Orchestrator.gatewayTimeout
	}
	return &Reconciler{
		registry:       cfg.Registry,
		invoices:       cfg.Invoices,
		attempts:       cfg.Attempts,
		ledger:         cfg.Ledger,
		enforcer:       cfg.Enforcer,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		orch:           cfg.Orchestrator,
		interval:       cfg.Interval,
		staleAfter:     cfg.StaleAfter,
		gatewayTimeout: cfg.GatewayTimeout,
	}, nil
}

// Run sweeps on the configured interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				log.Printf("reconciler: sweep: %v", err)
			}
		}
	}
}

// SweepOnce reconciles every attempt stale past the threshold. It returns
// the number of attempts finalized.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.staleAfter)
	stale, err := r.attempts.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list stale attempts: %w", err)
	}
	r.metrics.StaleAttempts.Set(float64(len(stale)))

	finalized := 0
	for _, a := range stale {
		done, err := r.reconcile(ctx, a)
		if err != nil {
			log.Printf("reconciler: attempt %s: %v", a.ID, err)
			continue
		}
		if done {
			finalized++
			r.metrics.SweepReconciled.Inc()
		}
	}
	return finalized, nil
}

func (r *Reconciler) reconcile(ctx context.Context, a attempt.Attempt) (bool, error) {
	inv, err := r.invoices.Get(ctx, a.InvoiceID)
	if err != nil {
		return false, fmt.Errorf("load invoice %s: %w", a.InvoiceID, err)
	}

	decision, err := r.enforcer.Evaluate(map[string]any{
		"attempt_age_ms": float64(time.Since(a.CreatedAt).Milliseconds()),
		"amount":         float64(inv.Amount),
		"gateway":        a.Gateway,
		"attempt_status": string(a.Status),
	})
	if err != nil {
		return false, err
	}
	if decision.EscalateManual && !decision.AllowRetry {
		log.Printf("reconciler: attempt %s escalated for manual review (rules %v)", a.ID, decision.MatchedRules)
		return false, nil
	}
	if !decision.AllowRetry {
		return false, nil
	}

	adapterForGateway, err := r.registry.Resolve(a.Gateway)
	if err != nil {
		return false, err
	}

	reference := a.Reference
	if reference == "" {
		// The charge never got a gateway reference; providers support
		// lookup by the idempotency key we sent.
		reference = a.IdempotencyKey
	}

	verifyCtx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	start := time.Now()
	status, err := adapterForGateway.Verify(verifyCtx, reference)
	r.metrics.GatewayLatency.WithLabelValues(a.Gateway, "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		var unavailable *gateway.UnavailableError
		if errors.As(err, &unavailable) {
			return false, nil // next sweep retries
		}
		return false, err
	}

	switch status {
	case gateway.VerifySucceeded:
		return r.finalizeVerified(ctx, a, inv, adapterForGateway)
	case gateway.VerifyFailed:
		return r.failVerified(ctx, a, inv)
	default:
		return false, nil // still pending at the provider
	}
}

func (r *Reconciler) finalizeVerified(ctx context.Context, a attempt.Attempt, inv invoice.Invoice, adapterForGateway gateway.Adapter) (bool, error) {
	if err := r.attempts.Transition(ctx, a.ID, a.Status, attempt.StatusSucceeded, nil); err != nil {
		if errors.Is(err, attempt.ErrStaleTransition) {
			return false, nil // the synchronous path got there first
		}
		return false, err
	}
	r.orch.appendAudit(a.ID, a.Status, attempt.StatusSucceeded, []byte("verified settled during reconciliation"))

	if inv.Status.Final() {
		// Another attempt already settled the invoice: this verified charge
		// is the losing side of the race and must be refunded.
		r.compensateVerified(ctx, a, adapterForGateway)
		return true, nil
	}

	fin := &invoice.Finalization{
		PaymentMethod:    a.Method,
		PaymentReference: a.Reference,
		PaidAt:           time.Now().UTC(),
	}
	if err := r.invoices.Transition(ctx, inv.ID, inv.Status, invoice.StatusPaid, fin); err != nil {
		if errors.Is(err, invoice.ErrStaleTransition) {
			fresh, getErr := r.invoices.Get(ctx, inv.ID)
			if getErr == nil && fresh.Status.Final() {
				r.compensateVerified(ctx, a, adapterForGateway)
				return true, nil
			}
			return false, fmt.Errorf("invoice %s transition raced and is not final", inv.ID)
		}
		return false, err
	}

	if err := r.ledger.Complete(ctx, a.InvoiceID, a.IdempotencyKey, ledger.Outcome{
		AttemptID:     a.ID,
		Succeeded:     true,
		Reference:     a.Reference,
		TransactionID: a.GatewayTransactionID,
	}); err != nil {
		log.Printf("reconciler: attempt %s: complete ledger: %v", a.ID, err)
	}
	r.metrics.PaymentsSucceeded.WithLabelValues(a.Gateway).Inc()
	go r.notifier.PaymentResult(context.WithoutCancel(ctx), notify.Event{
		InvoiceID: a.InvoiceID, StudentID: inv.StudentID, SchoolID: inv.SchoolID,
		Gateway: a.Gateway, Amount: inv.Amount, Currency: inv.Currency,
		Succeeded: true, Reference: a.Reference,
	})
	return true, nil
}

func (r *Reconciler) compensateVerified(ctx context.Context, a attempt.Attempt, adapterForGateway gateway.Adapter) {
	refundCtx, cancel := context.WithTimeout(ctx, r.gatewayTimeout)
	defer cancel()
	if err := adapterForGateway.Refund(refundCtx, a.Reference); err != nil {
		log.Printf("reconciler: attempt %s: compensating refund failed: %v", a.ID, err)
	}
	r.metrics.RefundsIssued.Inc()
	if err := r.attempts.Transition(ctx, a.ID, attempt.StatusSucceeded, attempt.StatusFailed, nil); err != nil {
		log.Printf("reconciler: attempt %s: mark refunded: %v", a.ID, err)
	}
	r.orch.appendAudit(a.ID, attempt.StatusSucceeded, attempt.StatusFailed,
		[]byte("compensating refund: invoice settled by concurrent attempt"))
	if err := r.ledger.Complete(ctx, a.InvoiceID, a.IdempotencyKey, ledger.Outcome{
		AttemptID: a.ID,
		Succeeded: false,
		Reason:    "invoice settled by a concurrent attempt; charge refunded",
	}); err != nil {
		log.Printf("reconciler: attempt %s: complete ledger: %v", a.ID, err)
	}
	r.metrics.PaymentsFailed.WithLabelValues(a.Gateway, "raced").Inc()
}

func (r *Reconciler) failVerified(ctx context.Context, a attempt.Attempt, inv invoice.Invoice) (bool, error) {
	if err := r.attempts.Transition(ctx, a.ID, a.Status, attempt.StatusFailed, nil); err != nil {
		if errors.Is(err, attempt.ErrStaleTransition) {
			return false, nil
		}
		return false, err
	}
	r.orch.appendAudit(a.ID, a.Status, attempt.StatusFailed, []byte("verified failed during reconciliation"))

	// A pending invoice whose only in-flight attempt just failed moves to
	// failed; an unpaid invoice stays unpaid so the student can retry.
	if inv.Status == invoice.StatusPending {
		if err := r.invoices.Transition(ctx, inv.ID, invoice.StatusPending, invoice.StatusFailed, nil); err != nil && !errors.Is(err, invoice.ErrStaleTransition) {
			log.Printf("reconciler: invoice %s: mark failed: %v", inv.ID, err)
		}
	}

	if err := r.ledger.Complete(ctx, a.InvoiceID, a.IdempotencyKey, ledger.Outcome{
		AttemptID: a.ID,
		Succeeded: false,
		Reason:    "gateway reported the charge as failed",
	}); err != nil {
		log.Printf("reconciler: attempt %s: complete ledger: %v", a.ID, err)
	}
	r.metrics.PaymentsFailed.WithLabelValues(a.Gateway, "verify_failed").Inc()
	go r.notifier.PaymentResult(context.WithoutCancel(ctx), notify.Event{
		InvoiceID: a.InvoiceID, StudentID: inv.StudentID, SchoolID: inv.SchoolID,
		Gateway: a.Gateway, Amount: inv.Amount, Currency: inv.Currency,
		Succeeded: false, Reason: "charge failed at gateway",
	})
	return true, nil
}
