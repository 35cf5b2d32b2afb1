// Package monitor validates incoming payment requests against a JSON schema
// before they are bound, so contract violations are rejected with precise
// field-level messages and no side effects.
package monitor

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// PaymentRequestSchema is the contract for POST /payments bodies.
const PaymentRequestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["invoice_id", "payment_method", "payment_gateway", "amount", "currency"],
	"properties": {
		"invoice_id":      {"type": "string", "minLength": 1},
		"payment_method":  {"type": "string", "enum": ["card", "bank_transfer", "mobile_money", "wallet"]},
		"payment_gateway": {"type": "string", "minLength": 1},
		"amount":          {"type": "integer", "minimum": 1},
		"currency":        {"type": "string", "minLength": 3, "maxLength": 3},
		"student_id":      {"type": "string"},
		"school_id":       {"type": "string"},
		"idempotency_key": {"type": "string"},
		"payment_details": {"type": "object", "additionalProperties": {"type": "string"}}
	},
	"additionalProperties": false
}`

// ContractMonitor validates request bodies against a compiled schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles the given schema document.
func NewContractMonitor(schemaJSON string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("monitor: compile schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate checks the request body. It returns true when valid, otherwise
// false with the list of violations.
func (cm *ContractMonitor) Validate(body []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: validate: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins validation messages into one client-facing string.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(violations, "; ")
}
