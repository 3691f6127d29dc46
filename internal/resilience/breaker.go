// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package resilience

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/metrics"
	"github.com/fieldworks/fieldsync/internal/transport"
)

// ErrCircuitOpen is returned instantly when the breaker refuses a call.
// It is synthetic: no Transport invocation happened. The sync manager
// treats it as retryable but deferred until the breaker allows a probe.
var ErrCircuitOpen = errors.New("circuit open: remote dependency unavailable")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Name identifies the remote dependency in logs and metrics.
	Name string
	// FailureThreshold is the number of consecutive transport failures
	// that opens the circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before allowing a
	// single half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker guards one remote dependency, shared by all sync workers, so a
// failing backend stops wasting retries across the entire queue quickly.
// It is an explicitly constructed, injectable object: tests instantiate
// isolated breakers, and Reset gives operators an escape hatch.
type Breaker struct {
	cfg BreakerConfig

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker[*transport.Response]
}

// NewBreaker creates a circuit breaker for one remote dependency.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	b := &Breaker{cfg: cfg}
	b.cb = b.newGobreaker()
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	return b
}

func (b *Breaker) newGobreaker() *gobreaker.CircuitBreaker[*transport.Response] {
	return gobreaker.NewCircuitBreaker[*transport.Response](gobreaker.Settings{
		Name:        b.cfg.Name,
		MaxRequests: 1, // exactly one probe in half-open
		Timeout:     b.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.FailureThreshold
		},
		// Conflicts and permanent rejections mean the backend answered;
		// only transient dependency failures count against the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !transport.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

// Execute runs fn under the breaker. When the circuit is open (or a
// second caller races the single half-open probe), ErrCircuitOpen is
// returned without invoking fn.
func (b *Breaker) Execute(fn func() (*transport.Response, error)) (*transport.Response, error) {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	resp, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.TransportRequests.WithLabelValues("rejected").Inc()
		return nil, ErrCircuitOpen
	}
	return resp, err
}

// State exposes the current breaker state.
func (b *Breaker) State() gobreaker.State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb.State()
}

// Reset is the administrative override: it discards all failure history
// by swapping in a fresh closed breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = b.newGobreaker()
	metrics.CircuitBreakerState.WithLabelValues(b.cfg.Name).Set(0)
	logging.Info().Str("breaker", b.cfg.Name).Msg("Circuit breaker reset")
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
