// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package resilience wraps Transport calls with a retry policy and a
// circuit breaker so the sync manager survives flaky connectivity without
// hammering a failing backend.
package resilience
