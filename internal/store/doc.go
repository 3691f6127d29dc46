// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package store provides durable key/value persistence for cached entities
// and pending sync operations. The KV contract is deliberately small so any
// medium satisfying it (BadgerDB in production, memory in tests) can back
// the local store and the sync queue.
package store
