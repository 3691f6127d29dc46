// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_depth",
			Help: "Number of queue items not yet in a terminal state",
		},
	)

	QueueOldestAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_queue_oldest_age_seconds",
			Help: "Age of the oldest pending queue item in seconds",
		},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_queue_enqueued_total",
			Help: "Total mutations enqueued",
		},
		[]string{"entity_type", "operation"},
	)

	// Sync manager metrics
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsync_drain_duration_seconds",
			Help:    "Duration of a complete drain pass",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
		},
	)

	ItemOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_item_outcomes_total",
			Help: "Queue item outcomes per drain pass",
		},
		[]string{"outcome"}, // succeeded, conflicted, failed, deferred
	)

	// Transport metrics
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_transport_requests_total",
			Help: "Transport attempts by result",
		},
		[]string{"result"}, // success, retryable, permanent, conflict, rejected
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fieldsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Conflict metrics
	ConflictsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_conflicts_resolved_total",
			Help: "Conflicts resolved by strategy",
		},
		[]string{"entity_type", "strategy"},
	)

	// Network monitor metrics
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsync_network_online",
			Help: "Connectivity as seen by the network monitor (1=online)",
		},
	)

	NetworkTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsync_network_transitions_total",
			Help: "Debounced connectivity transitions",
		},
		[]string{"to"}, // online, offline
	)
)
