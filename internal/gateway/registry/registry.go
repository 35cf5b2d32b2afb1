// Package registry maps gateway identifiers to their adapters. Registration
// happens once at startup; the registry is immutable afterwards, so lookups
// are lock-free.
package registry

import (
	"fmt"

	"github.com/educontrol/payment-engine/internal/gateway"
)

// ErrUnsupportedGateway is returned when resolving an identifier with no
// registered adapter.
type ErrUnsupportedGateway struct {
	Gateway   string
	Supported []string
}

func (e *ErrUnsupportedGateway) Error() string {
	return fmt.Sprintf("unsupported payment gateway %q, supported: %v", e.Gateway, e.Supported)
}

// Registry resolves gateway identifiers to adapters.
type Registry struct {
	adapters map[string]gateway.Adapter
	names    []string
}

// New builds a Registry from the given adapters, keyed by Adapter.Name.
func New(adapters ...gateway.Adapter) *Registry {
	m := make(map[string]gateway.Adapter, len(adapters))
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		if _, dup := m[a.Name()]; dup {
			panic(fmt.Sprintf("registry: duplicate adapter %q", a.Name()))
		}
		m[a.Name()] = a
		names = append(names, a.Name())
	}
	return &Registry{adapters: m, names: names}
}

// Resolve returns the adapter for id, or *ErrUnsupportedGateway.
func (r *Registry) Resolve(id string) (gateway.Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, &ErrUnsupportedGateway{Gateway: id, Supported: r.names}
	}
	return a, nil
}

// SupportsMethod reports whether the identified gateway accepts the method.
// Unknown gateways report false.
func (r *Registry) SupportsMethod(id string, m gateway.Method) bool {
	a, ok := r.adapters[id]
	if !ok {
		return false
	}
	return a.Capability().SupportsMethod(m)
}

// Names returns the registered gateway identifiers.
func (r *Registry) Names() []string {
	return r.names
}
