// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package validation provides struct validation using
// go-playground/validator v10: a thread-safe singleton instance with
// custom validators for sync-domain rules. Queue enqueue runs every
// mutation through it so a malformed payload is rejected before it is
// persisted, not when it finally reaches the wire.
package validation
