// Package resilience provides fault-tolerance primitives for upstream
// API calls. The Breaker here is keyed by API name: each upstream owns
// an isolated consecutive-failure counter and open-window, so one
// provider's outage never blocks another.
package resilience

import (
	"sync"
	"time"

	"github.com/askcart/askcart/core"
)

// CircuitState names the two externally visible breaker states.
// There is no half-open probe state: an expired open window transitions
// straight back to closed on the next IsOpen check.
type CircuitState string

const (
	StateClosed CircuitState = "closed"
	StateOpen   CircuitState = "open"
)

// BreakerConfig holds configuration for the keyed circuit breaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int

	// ResetWindow is how long an opened circuit stays open
	ResetWindow time.Duration

	// Clock for window arithmetic (defaults to the real clock)
	Clock core.Clock

	// Logger for state transition events
	Logger core.Logger
}

// DefaultBreakerConfig returns the production defaults:
// 3 consecutive failures, 300 second reset window.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		ResetWindow:      300 * time.Second,
	}
}

// CircuitSnapshot is a point-in-time copy of one API's circuit state
type CircuitSnapshot struct {
	Name                string
	State               CircuitState
	ConsecutiveFailures int
	OpenUntil           time.Time
}

type circuit struct {
	consecutiveFailures int
	openUntil           time.Time // zero while closed
}

// Breaker is a process-local circuit breaker keyed by API name.
// Mutating methods are safe under the fetcher's concurrent fan-out.
// State is intentionally not shared across worker processes; a
// distributed variant would implement the same method set over Redis.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	threshold   int
	resetWindow time.Duration
	clock       core.Clock
	logger      core.Logger

	// listeners are invoked after a state transition, outside any
	// per-call hot path but under the breaker lock; keep them cheap
	listeners []func(name string, from, to CircuitState)
}

// NewBreaker creates a keyed circuit breaker
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.ResetWindow <= 0 {
		config.ResetWindow = DefaultBreakerConfig().ResetWindow
	}
	if config.Clock == nil {
		config.Clock = core.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	return &Breaker{
		circuits:    make(map[string]*circuit),
		threshold:   config.FailureThreshold,
		resetWindow: config.ResetWindow,
		clock:       config.Clock,
		logger:      config.Logger,
	}
}

// OnStateChange registers a listener for circuit transitions.
// Must be called before the breaker is shared across goroutines.
func (b *Breaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	b.listeners = append(b.listeners, fn)
}

func (b *Breaker) get(name string) *circuit {
	c, ok := b.circuits[name]
	if !ok {
		c = &circuit{}
		b.circuits[name] = c
	}
	return c
}

// IsOpen reports whether the named circuit is open. An open window that
// has elapsed transitions the circuit back to closed as a side effect.
func (b *Breaker) IsOpen(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	if c.openUntil.IsZero() {
		return false
	}
	if b.clock.Now().Before(c.openUntil) {
		return true
	}

	// Window elapsed: self-heal to closed
	c.openUntil = time.Time{}
	c.consecutiveFailures = 0
	b.notify(name, StateOpen, StateClosed)
	b.logger.Info("Circuit reset after open window elapsed", map[string]interface{}{
		"operation": "circuit_reset",
		"api_name":  name,
	})
	return false
}

// RecordSuccess resets the named circuit to closed with zero failures
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	wasOpen := !c.openUntil.IsZero()
	c.consecutiveFailures = 0
	c.openUntil = time.Time{}
	if wasOpen {
		b.notify(name, StateOpen, StateClosed)
	}
}

// RecordFailure increments the named circuit's consecutive-failure count
// and opens it for the reset window once the threshold is reached.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	c.consecutiveFailures++
	if c.consecutiveFailures >= b.threshold && c.openUntil.IsZero() {
		c.openUntil = b.clock.Now().Add(b.resetWindow)
		b.notify(name, StateClosed, StateOpen)
		b.logger.Warn("Circuit opened", map[string]interface{}{
			"operation":            "circuit_open",
			"api_name":             name,
			"consecutive_failures": c.consecutiveFailures,
			"open_until":           c.openUntil.Format(time.RFC3339),
		})
	}
}

// Snapshot returns a copy of the named circuit's current state
func (b *Breaker) Snapshot(name string) CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	snap := CircuitSnapshot{
		Name:                name,
		State:               StateClosed,
		ConsecutiveFailures: c.consecutiveFailures,
		OpenUntil:           c.openUntil,
	}
	if !c.openUntil.IsZero() && b.clock.Now().Before(c.openUntil) {
		snap.State = StateOpen
	}
	return snap
}

// Reset clears all circuits back to closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[string]*circuit)
}

func (b *Breaker) notify(name string, from, to CircuitState) {
	for _, fn := range b.listeners {
		fn(name, from, to)
	}
}
