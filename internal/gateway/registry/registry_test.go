package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/gateway"
	"github.com/educontrol/payment-engine/internal/gateway/mock"
	"github.com/educontrol/payment-engine/internal/gateway/registry"
)

func TestRegistry_Resolve(t *testing.T) {
	stripeMock := mock.New("stripe")
	paystackMock := mock.New("paystack")
	reg := registry.New(stripeMock, paystackMock)

	t.Run("resolves a registered gateway", func(t *testing.T) {
		got, err := reg.Resolve("stripe")
		require.NoError(t, err)
		assert.Equal(t, "stripe", got.Name())
	})

	t.Run("unknown gateway returns ErrUnsupportedGateway", func(t *testing.T) {
		_, err := reg.Resolve("paypal")
		require.Error(t, err)
		var unsupported *registry.ErrUnsupportedGateway
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "paypal", unsupported.Gateway)
		assert.ElementsMatch(t, []string{"stripe", "paystack"}, unsupported.Supported)
	})
}

func TestRegistry_DuplicateNamePanics(t *testing.T) {
	assert.Panics(t, func() {
		registry.New(mock.New("stripe"), mock.New("stripe"))
	})
}

func TestRegistry_SupportsMethod(t *testing.T) {
	cardOnly := mock.New("cardonly")
	cardOnly.Cap = gateway.Capability{
		Methods:    []gateway.Method{gateway.MethodCard},
		Currencies: []string{"USD"},
	}
	reg := registry.New(cardOnly)

	assert.True(t, reg.SupportsMethod("cardonly", gateway.MethodCard))
	assert.False(t, reg.SupportsMethod("cardonly", gateway.MethodMobileMoney))
	assert.False(t, reg.SupportsMethod("missing", gateway.MethodCard))
}

func TestRegistry_Names(t *testing.T) {
	reg := registry.New(mock.New("a"), mock.New("b"))
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}
