package monitor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/monitor"
)

func newMonitor(t *testing.T) *monitor.ContractMonitor {
	t.Helper()
	cm, err := monitor.NewContractMonitor(monitor.PaymentRequestSchema)
	require.NoError(t, err)
	return cm
}

func TestContractMonitor_ValidRequest(t *testing.T) {
	cm := newMonitor(t)

	body := []byte(`{
		"invoice_id": "inv_1",
		"payment_method": "card",
		"payment_gateway": "stripe",
		"amount": 50000,
		"currency": "USD",
		"student_id": "stu_1",
		"school_id": "sch_1",
		"idempotency_key": "k1",
		"payment_details": {"token": "tok_visa"}
	}`)
	valid, violations, err := cm.Validate(body)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, violations)
}

func TestContractMonitor_Violations(t *testing.T) {
	cm := newMonitor(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing required fields", `{"invoice_id": "inv_1"}`},
		{"unknown payment method", `{"invoice_id":"inv_1","payment_method":"cheque","payment_gateway":"stripe","amount":1,"currency":"USD"}`},
		{"zero amount", `{"invoice_id":"inv_1","payment_method":"card","payment_gateway":"stripe","amount":0,"currency":"USD"}`},
		{"fractional amount", `{"invoice_id":"inv_1","payment_method":"card","payment_gateway":"stripe","amount":10.5,"currency":"USD"}`},
		{"bad currency length", `{"invoice_id":"inv_1","payment_method":"card","payment_gateway":"stripe","amount":1,"currency":"US"}`},
		{"unexpected field", `{"invoice_id":"inv_1","payment_method":"card","payment_gateway":"stripe","amount":1,"currency":"USD","admin":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			valid, violations, err := cm.Validate([]byte(tc.body))
			require.NoError(t, err)
			assert.False(t, valid)
			assert.NotEmpty(t, violations)
		})
	}
}

func TestContractMonitor_MalformedJSON(t *testing.T) {
	cm := newMonitor(t)
	_, _, err := cm.Validate([]byte(`{"invoice_id":`))
	assert.Error(t, err)
}

func TestFormatErrors(t *testing.T) {
	assert.Empty(t, monitor.FormatErrors(nil))
	got := monitor.FormatErrors([]string{"a is required", "b is required"})
	assert.Equal(t, "Validation errors: a is required; b is required", got)
}
