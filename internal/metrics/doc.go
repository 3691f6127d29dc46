// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package metrics provides Prometheus instrumentation for the sync core:
// queue depth and age, drain outcomes, circuit breaker state, transport
// results, conflict resolutions, and connectivity. Exposed at /metrics.
package metrics
