package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/config"
)

func TestBuildAdapters(t *testing.T) {
	cfg := config.Config{
		StripeAPIKey:         "sk_test",
		StripeBaseURL:        "http://localhost:9001",
		PaystackSecretKey:    "ps_test",
		FlutterwaveSecretKey: "flw_test",
	}
	client := &http.Client{Timeout: time.Second}

	adapters := buildAdapters(cfg, client)
	require.Len(t, adapters, 3)

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	assert.ElementsMatch(t, []string{"stripe", "paystack", "flutterwave"}, names)
}

func TestSetupTracing(t *testing.T) {
	shutdown, err := setupTracing()
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}
