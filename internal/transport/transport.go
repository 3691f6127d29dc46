// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package transport

import (
	"context"

	"github.com/fieldworks/fieldsync/internal/models"
)

// Request is one logical operation against the remote authority. The
// idempotency key is client-generated at enqueue time and reused across
// retries so a retried call whose earlier attempt succeeded server-side is
// not double-applied.
type Request struct {
	Op             models.Operation
	EntityType     string
	EntityID       string
	Payload        *models.Entity
	BaseRevision   models.Revision
	IdempotencyKey string
}

// Response is the authoritative outcome of an accepted operation. Entity
// is the server's canonical copy (nil for deletes); Revision is the new
// authoritative revision marker.
type Response struct {
	Entity   *models.Entity
	Revision models.Revision
}

// Transport performs one remote call. Implementations must honor ctx for
// cancellation and deadline; they do not retry.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// CredentialSource supplies a valid credential for each call. It is the
// seam to the authentication collaborator; token refresh lives behind it.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialSource returning a fixed token.
type StaticCredential string

// Token implements CredentialSource.
func (c StaticCredential) Token(context.Context) (string, error) {
	return string(c), nil
}
