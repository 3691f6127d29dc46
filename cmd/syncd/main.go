// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

// Package main is the entry point for the Fieldsync daemon.
//
// Fieldsync is the offline-first sync core for field-service devices. It
// accepts mutations from the device's presentation layer over a loopback
// HTTP API, applies them optimistically to a durable local cache, queues
// them in a per-entity FIFO outbox, and drains that outbox to the remote
// authority whenever connectivity allows. Retries with backoff, a shared
// circuit breaker, and configurable conflict resolution keep the queue
// healthy across the connectivity a field device actually sees.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, env)
//  2. Logging: zerolog, JSON or console per config
//  3. Local store: BadgerDB at store.path (entity cache and queue)
//  4. Sync core: transport, retry policy, circuit breaker, resolver
//  5. Supervisor tree: network monitor, sync manager, HTTP API
//
// # Configuration
//
// All settings come from FIELDSYNC_-prefixed environment variables or a
// config file. Minimum viable configuration:
//
//	export FIELDSYNC_REMOTE__BASE_URL=https://api.example.com
//	export FIELDSYNC_REMOTE__TOKEN=device-token
//	./syncd
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the supervisor tree, drain in-flight HTTP
// requests, and close the store. Queued items survive shutdown; the next
// start resumes where this one stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldworks/fieldsync/internal/api"
	"github.com/fieldworks/fieldsync/internal/config"
	"github.com/fieldworks/fieldsync/internal/conflict"
	"github.com/fieldworks/fieldsync/internal/events"
	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/netmon"
	"github.com/fieldworks/fieldsync/internal/queue"
	"github.com/fieldworks/fieldsync/internal/resilience"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/supervisor"
	"github.com/fieldworks/fieldsync/internal/syncer"
	"github.com/fieldworks/fieldsync/internal/transport"
)

var version = "dev" // set via -ldflags at build time

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("remote", cfg.Remote.BaseURL).
		Str("store", cfg.Store.Path).
		Msg("Fieldsync starting")

	kv, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := kv.(store.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logging.Error().Err(cerr).Msg("Failed to close store")
			}
		}()
	}

	q, err := queue.New(kv)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	entities := store.NewEntityStore(kv)

	bus := events.NewBus()
	defer func() {
		if cerr := bus.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Failed to close event bus")
		}
	}()

	resolver, err := buildResolver(cfg.Conflict)
	if err != nil {
		return err
	}

	monitor := netmon.New(
		netmon.NewHTTPProber(cfg.Remote.HealthURL, cfg.Network.ProbeTimeout),
		bus,
		netmon.Config{
			PollInterval:    cfg.Network.PollInterval,
			StabilityWindow: cfg.Network.StabilityWindow,
		},
	)

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "remote-api",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	remote := transport.NewHTTPTransport(cfg.Remote.BaseURL, transport.StaticCredential(cfg.Remote.Token))
	remote.SetTimeout(cfg.Remote.Timeout)

	manager := syncer.New(
		syncer.Config{
			MaxWorkers: cfg.Sync.MaxWorkers,
			Interval:   cfg.Sync.Interval,
			RateLimit:  cfg.Sync.RateLimit,
			RateBurst:  cfg.Sync.RateBurst,
		},
		syncer.Deps{
			Queue:     q,
			Entities:  entities,
			Transport: remote,
			Retry: resilience.RetryPolicy{
				MaxAttempts:    cfg.Retry.MaxAttempts,
				BaseDelay:      cfg.Retry.BaseDelay,
				Multiplier:     cfg.Retry.Multiplier,
				MaxDelay:       cfg.Retry.MaxDelay,
				JitterFactor:   cfg.Retry.JitterFactor,
				PerCallTimeout: cfg.Retry.PerCallTimeout,
			},
			Breaker:  breaker,
			Resolver: resolver,
			Bus:      bus,
			Network:  monitor,
		},
	)

	server := api.New(cfg.Server, api.Deps{
		Manager:  manager,
		Queue:    q,
		Entities: entities,
		Breaker:  breaker,
		Network:  monitor,
	})

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddSyncService(monitor)
	tree.AddSyncService(manager)
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	if unstopped, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services missed the shutdown timeout")
	}

	logging.Info().Msg("Fieldsync stopped")
	return nil
}

// buildResolver applies the configured conflict strategies.
func buildResolver(cfg config.ConflictConfig) (*conflict.Registry, error) {
	resolver := conflict.NewRegistry()
	if err := resolver.SetDefault(conflict.Strategy(cfg.Default)); err != nil {
		return nil, fmt.Errorf("conflict default: %w", err)
	}
	for entityType, name := range cfg.Strategies {
		if err := resolver.SetStrategy(entityType, conflict.Strategy(name)); err != nil {
			return nil, fmt.Errorf("conflict strategy for %s: %w", entityType, err)
		}
	}
	return resolver, nil
}
