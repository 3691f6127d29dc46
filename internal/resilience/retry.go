// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/transport"
)

// RetryPolicy decides whether and when to re-attempt a failed Transport
// call. Only errors classified retryable (timeouts, connection resets,
// 5xx, 429) are re-attempted; validation and auth rejections are returned
// as-is on the first attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of Transport calls, first included.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration
	// JitterFactor randomizes each delay by ±factor to avoid
	// synchronized retry storms across queued items.
	JitterFactor float64
	// PerCallTimeout bounds each individual Transport call. It must stay
	// shorter than the platform's background-execution budget.
	PerCallTimeout time.Duration
}

// DefaultRetryPolicy returns conservative mobile-friendly defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2.0,
		MaxDelay:       15 * time.Second,
		JitterFactor:   0.5,
		PerCallTimeout: 10 * time.Second,
	}
}

// ExhaustedError is the terminal failure returned when every allowed
// attempt failed retryably. The wrapped error is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Execute runs op under the policy. Each attempt gets its own deadline;
// delays between attempts follow truncated exponential backoff with
// jitter. ErrCircuitOpen aborts immediately without consuming attempts:
// the breaker's cooldown, not this policy, decides when the dependency
// may be probed again.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) (*transport.Response, error)) (*transport.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = p.JitterFactor
	bo.MaxElapsedTime = 0 // attempts, not elapsed time, bound the loop
	bo.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.attempt(ctx, op)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !transport.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := bo.NextBackOff()
		logging.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Transport attempt failed, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func (p RetryPolicy) attempt(ctx context.Context, op func(ctx context.Context) (*transport.Response, error)) (*transport.Response, error) {
	if p.PerCallTimeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.PerCallTimeout)
	defer cancel()
	resp, err := op(callCtx)
	// A per-call deadline elapsing is a retryable failure of that
	// attempt, not a cancellation of the whole loop.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &transport.RetryableError{Err: err}
	}
	return resp, err
}
