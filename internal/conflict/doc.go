// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package conflict decides what happens when the local and remote copies
// of an entity have diverged. Resolution is pure: deterministic for
// identical inputs, no I/O, inputs never mutated. Anything impure (store
// writes, re-enqueueing) is the sync manager's job.
package conflict
