// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package syncer orchestrates the drain of the durable queue against the
// remote authority. It owns the outcome of every delivery attempt: adopt
// the server's canonical state, resolve a divergence, park a failure, or
// defer the whole pass until connectivity or the circuit breaker allows
// another try. Everything impure that the conflict resolver refuses to do
// happens here.
package syncer
