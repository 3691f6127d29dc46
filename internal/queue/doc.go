// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package queue is the durable outbox of pending mutations. Every local
// write lands here before anything touches the network; the sync manager
// drains it when connectivity allows. Items survive restarts, keep their
// idempotency key across retries, and are ordered per entity so mutations
// against the same record never reorder.
package queue
