// Package notify is the boundary toward the notification service. Delivery
// is fire-and-forget: a failed notification must never roll back or delay a
// completed payment.
package notify

import (
	"context"
	"log"
)

// Event describes a finished payment attempt.
type Event struct {
	InvoiceID string
	StudentID string
	SchoolID  string
	Gateway   string
	Amount    int64
	Currency  string
	Succeeded bool
	Reference string
	Reason    string
}

// Notifier publishes payment events.
type Notifier interface {
	PaymentResult(ctx context.Context, ev Event)
}

// LogNotifier writes events to the process log. Stands in for the real
// notification service in development and tests.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) PaymentResult(ctx context.Context, ev Event) {
	outcome := "failed"
	if ev.Succeeded {
		outcome = "succeeded"
	}
	log.Printf("notify: payment %s invoice=%s student=%s gateway=%s amount=%d %s",
		outcome, ev.InvoiceID, ev.StudentID, ev.Gateway, ev.Amount, ev.Currency)
}
