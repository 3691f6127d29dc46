// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package transport

import (
	"errors"
	"fmt"

	"github.com/fieldworks/fieldsync/internal/models"
)

// RetryableError marks a transient transport failure (timeout, connection
// reset, 5xx, 429). The retry policy handles these internally; they reach
// the caller only once attempts are exhausted.
type RetryableError struct {
	Status int // HTTP status, 0 for network-level failures
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("retryable transport failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("retryable transport failure: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a rejection that retrying cannot fix: validation,
// authorization, not-found. The queue item is surfaced as a terminal
// failure and kept for correction, never silently dropped.
type PermanentError struct {
	Status int
	Reason string
	// Auth is set for 401/403 so the caller can surface a credential
	// problem distinctly instead of retrying indefinitely.
	Auth bool
}

func (e *PermanentError) Error() string {
	if e.Auth {
		return fmt.Sprintf("authentication rejected (status %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("permanent transport rejection (status %d): %s", e.Status, e.Reason)
}

// ConflictError signals a conditional-update rejection: the remote
// revision no longer matches the operation's base revision. It is not a
// failure; the sync manager hands it to the conflict resolver. Remote
// carries the server's current snapshot when the backend includes it.
type ConflictError struct {
	Status int
	Remote *models.Entity
}

func (e *ConflictError) Error() string {
	if e.Remote != nil {
		return fmt.Sprintf("revision mismatch (status %d): remote at r%d", e.Status, e.Remote.Revision)
	}
	return fmt.Sprintf("revision mismatch (status %d)", e.Status)
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsConflict extracts a ConflictError if err carries one.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsAuthFailure reports whether err is a credential rejection.
func IsAuthFailure(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) && pe.Auth
}
