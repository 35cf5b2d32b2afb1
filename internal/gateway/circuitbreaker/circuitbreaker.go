// Package circuitbreaker tracks per-gateway transport health. Repeated
// unavailability opens the circuit so the orchestrator can fail fast with a
// retryable error instead of burning the gateway timeout on every request.
// Business declines do not count as failures; a declining provider is a
// healthy provider.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of one gateway's circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	defaultHalfOpenSuccess  = 2
)

type gatewayState struct {
	state        State
	failures     int
	successes    int // consecutive, HalfOpen only
	openUntil    time.Time
	lastFailedAt time.Time
}

// Breaker is an in-memory circuit breaker keyed by gateway identifier.
type Breaker struct {
	mu               sync.Mutex
	gateways         map[string]*gatewayState
	failureThreshold int
	openTimeout      time.Duration
	halfOpenSuccess  int
}

// New creates a Breaker with default thresholds.
func New() *Breaker {
	return NewWithSettings(defaultFailureThreshold, defaultOpenTimeout, defaultHalfOpenSuccess)
}

// NewWithSettings creates a Breaker with explicit thresholds.
func NewWithSettings(failureThreshold int, openTimeout time.Duration, halfOpenSuccess int) *Breaker {
	return &Breaker{
		gateways:         make(map[string]*gatewayState),
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		halfOpenSuccess:  halfOpenSuccess,
	}
}

func (b *Breaker) get(id string) *gatewayState {
	gs, ok := b.gateways[id]
	if !ok {
		gs = &gatewayState{state: Closed}
		b.gateways[id] = gs
	}
	return gs
}

// Allow reports whether a call to the gateway may proceed. An Open circuit
// whose timeout has elapsed transitions to HalfOpen and lets probes through.
func (b *Breaker) Allow(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.get(id)
	switch gs.state {
	case Open:
		if time.Now().After(gs.openUntil) {
			gs.state = HalfOpen
			gs.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure notes a transport failure against the gateway.
func (b *Breaker) RecordFailure(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.get(id)
	gs.lastFailedAt = time.Now()
	switch gs.state {
	case Closed:
		gs.failures++
		if gs.failures >= b.failureThreshold {
			gs.state = Open
			gs.openUntil = time.Now().Add(b.openTimeout)
		}
	case HalfOpen:
		gs.state = Open
		gs.openUntil = time.Now().Add(b.openTimeout)
		gs.failures = 0
		gs.successes = 0
	}
}

// RecordSuccess notes a completed call against the gateway.
func (b *Breaker) RecordSuccess(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.get(id)
	switch gs.state {
	case Closed:
		gs.failures = 0
	case HalfOpen:
		gs.successes++
		if gs.successes >= b.halfOpenSuccess {
			gs.state = Closed
			gs.failures = 0
			gs.successes = 0
		}
	}
}

// CurrentState returns the circuit state without mutating it.
func (b *Breaker) CurrentState(id string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	gs, ok := b.gateways[id]
	if !ok {
		return Closed
	}
	return gs.state
}
