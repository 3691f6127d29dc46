// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package config loads the process configuration with Koanf v2, layered
// as defaults, then an optional YAML file, then environment variables.
// Config is immutable after Load and safe for concurrent reads.
package config
