// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package netmon watches reachability of the remote endpoint and turns
// flapping link state into calm, debounced online/offline transitions.
// The sync manager keys drain passes off these transitions instead of
// probing the network itself.
package netmon
