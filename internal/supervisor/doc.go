// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package supervisor runs Fieldsync's long-lived services under a Suture
// tree. The tree has two layers: the sync layer (network monitor and sync
// manager) and the api layer (HTTP server). A crash in one layer restarts
// only that layer's services; the other keeps running.
package supervisor
