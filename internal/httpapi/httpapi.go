// Package httpapi exposes the payment engine over HTTP with gin. It owns
// the mapping from the orchestrator's error taxonomy to status codes:
// invalid requests 400, missing invoices 404, finalized invoices 409,
// business declines 402, transient failures 503, everything else a generic
// 500. Clients always get a definitive success/failure/retry signal.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/educontrol/payment-engine/internal/attempt"
	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/invoice"
	"github.com/educontrol/payment-engine/internal/monitor"
	"github.com/educontrol/payment-engine/internal/orchestrator"
	"github.com/educontrol/payment-engine/internal/reporting"
)

// Server holds the handler dependencies.
type Server struct {
	orch     *orchestrator.Orchestrator
	invoices invoice.Store
	attempts attempt.Store
	contract *monitor.ContractMonitor
}

// NewServer creates a Server. The contract monitor validates request bodies
// before binding.
func NewServer(orch *orchestrator.Orchestrator, invoices invoice.Store, attempts attempt.Store) (*Server, error) {
	contract, err := monitor.NewContractMonitor(monitor.PaymentRequestSchema)
	if err != nil {
		return nil, err
	}
	return &Server{orch: orch, invoices: invoices, attempts: attempts, contract: contract}, nil
}

// Register mounts the API routes on engine.
func (s *Server) Register(engine *gin.Engine) {
	engine.POST("/payments", s.submitPayment)
	engine.POST("/invoices", s.createInvoice)
	engine.GET("/invoices/:id", s.getInvoice)
	engine.GET("/reports/payments", s.paymentReport)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type paymentRequest struct {
	InvoiceID      string            `json:"invoice_id"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentGateway string            `json:"payment_gateway"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	StudentID      string            `json:"student_id"`
	SchoolID       string            `json:"school_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	PaymentDetails map[string]string `json:"payment_details"`
}

type invoiceView struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
}

func viewOf(inv invoice.Invoice) invoiceView {
	v := invoiceView{
		ID:               inv.ID,
		Status:           string(inv.Status),
		PaymentMethod:    inv.PaymentMethod,
		PaymentReference: inv.PaymentReference,
	}
	if inv.PaidAt != nil {
		v.PaidAt = inv.PaidAt.UTC().Format(time.RFC3339)
	}
	return v
}

func (s *Server) submitPayment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	valid, violations, err := s.contract.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	receipt, err := s.orch.SubmitPayment(c.Request.Context(), orchestrator.Request{
		InvoiceID:        req.InvoiceID,
		Gateway:          req.PaymentGateway,
		Method:           gateway.Method(req.PaymentMethod),
		Amount:           req.Amount,
		Currency:         req.Currency,
		StudentID:        req.StudentID,
		SchoolID:         req.SchoolID,
		IdempotencyNonce: req.IdempotencyKey,
		Details:          req.PaymentDetails,
	})
	if err != nil {
		s.writePaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"payment_reference": receipt.PaymentReference,
		"transaction_id":    receipt.TransactionID,
		"amount_paid":       receipt.AmountPaid,
		"currency":          receipt.Currency,
		"payment_gateway":   receipt.Gateway,
		"payment_method":    receipt.Method,
		"invoice":           viewOf(receipt.Invoice),
	})
}

func (s *Server) writePaymentError(c *gin.Context, err error) {
	var invalid *orchestrator.InvalidRequestError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
		return
	}
	if errors.Is(err, orchestrator.ErrInvoiceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "invoice not found", "message": err.Error()})
		return
	}
	if errors.Is(err, orchestrator.ErrInvoiceAlreadyFinalized) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "invoice already finalized", "message": err.Error()})
		return
	}
	var permanent *orchestrator.PermanentError
	if errors.As(err, &permanent) {
		c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "error": "Payment processing failed", "message": permanent.Reason})
		return
	}
	var retryable *orchestrator.RetryableError
	if errors.As(err, &retryable) {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "payment gateway unavailable, retry with the same idempotency key", "message": retryable.Error()})
		return
	}
	log.Printf("httpapi: unexpected error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "an unexpected fault occurred"})
}

type createInvoiceRequest struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	SchoolID  string `json:"school_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// createInvoice is the collaborator-facing CRUD surface used by the billing
// service to provision invoices.
func (s *Server) createInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.StudentID == "" || req.SchoolID == "" || req.Currency == "" || req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id, school_id, currency and a positive amount are required"})
		return
	}
	if req.ID == "" {
		req.ID = "inv_" + uuid.NewString()
	}
	inv := invoice.Invoice{
		ID:        req.ID,
		StudentID: req.StudentID,
		SchoolID:  req.SchoolID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    invoice.StatusUnpaid,
	}
	if err := s.invoices.Create(c.Request.Context(), inv); err != nil {
		if errors.Is(err, invoice.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "invoice already exists"})
			return
		}
		log.Printf("httpapi: create invoice: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "could not create invoice"})
		return
	}
	created, err := s.invoices.Get(c.Request.Context(), inv.ID)
	if err != nil {
		log.Printf("httpapi: reload invoice: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "could not load invoice"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getInvoice(c *gin.Context) {
	inv, err := s.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		log.Printf("httpapi: get invoice: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "could not load invoice"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) paymentReport(c *gin.Context) {
	attempts, err := s.attempts.List(c.Request.Context())
	if err != nil {
		log.Printf("httpapi: list attempts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "message": "could not build report"})
		return
	}
	amounts := reporting.AmountSourceFunc(func(invoiceID string) (int64, string, bool) {
		inv, err := s.invoices.Get(context.Background(), invoiceID)
		if err != nil {
			return 0, "", false
		}
		return inv.Amount, inv.Currency, true
	})
	c.JSON(http.StatusOK, reporting.Generate(attempts, amounts))
}
