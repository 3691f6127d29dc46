// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package netmon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/events"
	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/metrics"
)

// Prober answers one question: is the remote reachable right now. A nil
// error means yes.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber probes with a HEAD request against the remote health
// endpoint. Any HTTP response counts as reachable; reachability is about
// the path, not the remote's mood.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for healthURL.
func NewHTTPProber(healthURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:    healthURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	_ = resp.Body.Close()
	return nil
}

// Config tunes the monitor.
type Config struct {
	// PollInterval is how often the prober runs.
	PollInterval time.Duration
	// StabilityWindow is how long a raw state change must persist before
	// the public state flips. Flaps shorter than this are invisible.
	StabilityWindow time.Duration
}

// Monitor polls a Prober and publishes debounced connectivity
// transitions on the event bus.
type Monitor struct {
	prober Prober
	bus    *events.Bus
	cfg    Config

	mu             sync.RWMutex
	started        bool
	online         bool
	candidate      bool
	candidateSince time.Time
}

// New creates a monitor. The initial state is offline until the first
// probe says otherwise.
func New(prober Prober, bus *events.Bus, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StabilityWindow < 0 {
		cfg.StabilityWindow = 0
	}
	return &Monitor{prober: prober, bus: bus, cfg: cfg}
}

// Online returns the current debounced state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Serve runs the poll loop until ctx ends. It satisfies the supervisor's
// service contract.
func (m *Monitor) Serve(ctx context.Context) error {
	logging.Info().
		Dur("poll_interval", m.cfg.PollInterval).
		Dur("stability_window", m.cfg.StabilityWindow).
		Msg("Network monitor started")

	m.step(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Network monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

// CheckNow forces an immediate probe and debounce evaluation. The sync
// manager calls it before declaring a manual drain request hopeless.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.step(ctx)
	return m.Online()
}

func (m *Monitor) step(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval)
	err := m.prober.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.observe(err == nil, time.Now())
}

// observe feeds one raw probe result into the debouncer. The first result
// after startup is adopted immediately so the process does not sit in a
// false state for a full stability window.
func (m *Monitor) observe(raw bool, now time.Time) {
	m.mu.Lock()

	if !m.started {
		m.started = true
		m.online = raw
		m.mu.Unlock()
		m.announce(raw, now)
		return
	}

	if raw == m.online {
		m.candidateSince = time.Time{}
		m.mu.Unlock()
		return
	}

	if m.candidateSince.IsZero() || m.candidate != raw {
		m.candidate = raw
		m.candidateSince = now
	}
	if now.Sub(m.candidateSince) < m.cfg.StabilityWindow {
		m.mu.Unlock()
		return
	}

	m.online = raw
	m.candidateSince = time.Time{}
	m.mu.Unlock()
	m.announce(raw, now)
}

func (m *Monitor) announce(online bool, at time.Time) {
	state := "offline"
	gauge := 0.0
	if online {
		state = "online"
		gauge = 1.0
	}
	metrics.NetworkOnline.Set(gauge)
	metrics.NetworkTransitions.WithLabelValues(state).Inc()
	logging.Info().Bool("online", online).Msg("Network state changed")

	if err := m.bus.PublishNetworkStatus(events.NetworkStatus{Online: online, At: at}); err != nil {
		logging.Warn().Err(err).Msg("Failed to publish network transition")
	}
}
