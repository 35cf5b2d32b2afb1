// Package reporting summarizes payment activity for operators: attempt
// counts by outcome and gateway, settled amounts by currency, and the time
// window covered. Fed from the attempt store, read-only.
package reporting

import (
	"time"

	"github.com/educontrol/payment-engine/internal/attempt"
)

// AmountSource resolves an invoice's amount and currency for reporting.
// Implemented by the invoice store.
type AmountSource interface {
	Amount(invoiceID string) (int64, string, bool)
}

// Report summarizes a set of payment attempts.
type Report struct {
	TotalAttempts    int              `json:"total_attempts"`
	Succeeded        int              `json:"succeeded"`
	Failed           int              `json:"failed"`
	InFlight         int              `json:"in_flight"` // initiated or submitted
	AmountByCurrency map[string]int64 `json:"amount_by_currency"`
	GatewayUsage     map[string]int   `json:"gateway_usage"`
	MethodUsage      map[string]int   `json:"method_usage"`
	From             time.Time        `json:"from"`
	To               time.Time        `json:"to"`
	WindowDuration   time.Duration    `json:"window_duration"`
}

// AmountSourceFunc adapts a function to the AmountSource interface.
type AmountSourceFunc func(invoiceID string) (int64, string, bool)

func (f AmountSourceFunc) Amount(invoiceID string) (int64, string, bool) { return f(invoiceID) }

// Generate builds a Report from attempts. amounts may be nil, in which case
// the settled-amount breakdown is left empty.
func Generate(attempts []attempt.Attempt, amounts AmountSource) Report {
	r := Report{
		AmountByCurrency: make(map[string]int64),
		GatewayUsage:     make(map[string]int),
		MethodUsage:      make(map[string]int),
	}
	for _, a := range attempts {
		r.TotalAttempts++
		r.GatewayUsage[a.Gateway]++
		r.MethodUsage[a.Method]++

		if r.From.IsZero() || a.CreatedAt.Before(r.From) {
			r.From = a.CreatedAt
		}
		if a.UpdatedAt.After(r.To) {
			r.To = a.UpdatedAt
		}

		switch a.Status {
		case attempt.StatusSucceeded:
			r.Succeeded++
			if amounts != nil {
				if amt, cur, ok := amounts.Amount(a.InvoiceID); ok {
					r.AmountByCurrency[cur] += amt
				}
			}
		case attempt.StatusFailed:
			r.Failed++
		default:
			r.InFlight++
		}
	}
	if !r.From.IsZero() {
		r.WindowDuration = r.To.Sub(r.From)
	}
	return r
}
