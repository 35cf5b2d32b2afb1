// Command server runs the payment engine HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/educontrol/payment-engine/internal/attempt"
	"github.com/educontrol/payment-engine/internal/audit"
	"github.com/educontrol/payment-engine/internal/config"
	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/circuitbreaker"
	"github.com/educontrol/payment-engine/internal/gateway/flutterwave"
	"github.com/educontrol/payment-engine/internal/gateway/paystack"
	"github.com/educontrol/payment-engine/internal/gateway/registry"
	"github.com/educontrol/payment-engine/internal/gateway/stripe"
	"github.com/educontrol/payment-engine/internal/httpapi"
	"github.com/educontrol/payment-engine/internal/invoice"
	"github.com/educontrol/payment-engine/internal/ledger"
	"github.com/educontrol/payment-engine/internal/metrics"
	"github.com/educontrol/payment-engine/internal/orchestrator"
	"github.com/educontrol/payment-engine/internal/policy"
	"github.com/educontrol/payment-engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	shutdownTracing, err := setupTracing()
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}
	defer shutdownTracing()

	var (
		invoices invoice.Store
		attempts attempt.Store
		keys     ledger.Ledger
		auditLog audit.Log
	)
	if cfg.DatabasePath != "" {
		db, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := storage.Migrate(db); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		invoices = invoice.NewSQLiteStore(db)
		attempts = attempt.NewSQLiteStore(db)
		keys = ledger.NewSQLiteLedger(db)
		auditLog = audit.NewSQLiteLog(db)
		log.Printf("using sqlite storage at %s", cfg.DatabasePath)
	} else {
		invoices = invoice.NewMemoryStore()
		attempts = attempt.NewMemoryStore()
		keys = ledger.NewMemoryLedger()
		auditLog = audit.NewMemoryLog()
		log.Printf("using in-memory storage")
	}

	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}
	reg := registry.New(buildAdapters(cfg, httpClient)...)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	orch, err := orchestrator.New(orchestrator.Config{
		Registry:       reg,
		Invoices:       invoices,
		Attempts:       attempts,
		Ledger:         keys,
		AuditLog:       auditLog,
		Breaker:        circuitbreaker.New(),
		Metrics:        m,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}

	enforcer, err := policy.NewEnforcer(policy.DefaultRules())
	if err != nil {
		log.Fatalf("compile policy rules: %v", err)
	}
	reconciler, err := orchestrator.NewReconciler(orchestrator.ReconcilerConfig{
		Registry:       reg,
		Invoices:       invoices,
		Attempts:       attempts,
		Ledger:         keys,
		Enforcer:       enforcer,
		Metrics:        m,
		Orchestrator:   orch,
		Interval:       cfg.SweepInterval,
		StaleAfter:     cfg.StaleAfter,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	if err != nil {
		log.Fatalf("build reconciler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reconciler.Run(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware("payment-engine"))
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	api, err := httpapi.NewServer(orch, invoices, attempts)
	if err != nil {
		log.Fatalf("build http server: %v", err)
	}
	api.Register(engine)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: engine}
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func buildAdapters(cfg config.Config, client *http.Client) []gateway.Adapter {
	var stripeOpts []stripe.Option
	if cfg.StripeBaseURL != "" {
		stripeOpts = append(stripeOpts, stripe.WithBaseURL(cfg.StripeBaseURL))
	}
	var paystackOpts []paystack.Option
	if cfg.PaystackBaseURL != "" {
		paystackOpts = append(paystackOpts, paystack.WithBaseURL(cfg.PaystackBaseURL))
	}
	var flutterwaveOpts []flutterwave.Option
	if cfg.FlutterwaveBaseURL != "" {
		flutterwaveOpts = append(flutterwaveOpts, flutterwave.WithBaseURL(cfg.FlutterwaveBaseURL))
	}
	return []gateway.Adapter{
		stripe.New(client, cfg.StripeAPIKey, stripeOpts...),
		paystack.New(client, cfg.PaystackSecretKey, paystackOpts...),
		flutterwave.New(client, cfg.FlutterwaveSecretKey, flutterwaveOpts...),
	}
}

func setupTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("shutdown tracer provider: %v", err)
		}
	}, nil
}
