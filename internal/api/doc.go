// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package api exposes the sync core to the device's presentation layer
// over a loopback HTTP interface: submit mutations, inspect the queue and
// cache, settle conflicts, trigger drains. It is the process's only
// ingress besides the event bus.
package api
