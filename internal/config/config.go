// Package config loads engine settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs to wire the engine.
type Config struct {
	ListenAddr string

	// DatabasePath is the SQLite file backing invoices, attempts, the
	// idempotency ledger and the audit log. Empty selects the in-memory
	// stores (development and tests).
	DatabasePath string

	GatewayTimeout time.Duration
	SweepInterval  time.Duration
	StaleAfter     time.Duration

	StripeAPIKey         string
	StripeBaseURL        string
	PaystackSecretKey    string
	PaystackBaseURL      string
	FlutterwaveSecretKey string
	FlutterwaveBaseURL   string
}

// Load reads the environment. A .env file in the working directory is
// merged in when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Config{
		ListenAddr:           getEnv("PAYMENTS_ADDR", ":8080"),
		DatabasePath:         os.Getenv("PAYMENTS_DB"),
		StripeAPIKey:         os.Getenv("STRIPE_API_KEY"),
		StripeBaseURL:        os.Getenv("STRIPE_BASE_URL"),
		PaystackSecretKey:    os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:      os.Getenv("PAYSTACK_BASE_URL"),
		FlutterwaveSecretKey: os.Getenv("FLUTTERWAVE_SECRET_KEY"),
		FlutterwaveBaseURL:   os.Getenv("FLUTTERWAVE_BASE_URL"),
	}

	var err error
	if cfg.GatewayTimeout, err = getDuration("PAYMENTS_GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getDuration("PAYMENTS_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StaleAfter, err = getDuration("PAYMENTS_STALE_AFTER", 2*time.Minute); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("45s") or bare milliseconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("config: %s: cannot parse %q as duration", key, v)
}
