// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package transport performs one remote call per queue item against the
// authoritative backend. It is stateless and replaceable; the sync manager
// wraps it with the retry policy and circuit breaker from
// internal/resilience.
package transport
