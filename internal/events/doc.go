// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package events is the in-process publish/subscribe channel between the
// sync core and its observers. The network monitor publishes connectivity
// transitions; the sync manager publishes entity changes, conflicts, and
// terminal failures; the presentation layer subscribes to whatever it
// renders. Subscriptions are explicit and end with their context.
package events
