// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package netmon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/fieldsync/internal/events"
)

type fakeProber struct {
	up atomic.Bool
}

func (p *fakeProber) Probe(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func newTestMonitor(window time.Duration) (*Monitor, *events.Bus) {
	bus := events.NewBus()
	m := New(&fakeProber{}, bus, Config{
		PollInterval:    10 * time.Millisecond,
		StabilityWindow: window,
	})
	return m, bus
}

func TestFirstObservationAdoptedImmediately(t *testing.T) {
	m, bus := newTestMonitor(time.Hour)
	defer func() { _ = bus.Close() }()

	m.observe(true, time.Now())
	assert.True(t, m.Online())
}

func TestFlapShorterThanWindowIsInvisible(t *testing.T) {
	m, bus := newTestMonitor(500 * time.Millisecond)
	defer func() { _ = bus.Close() }()

	base := time.Now()
	m.observe(true, base)
	require.True(t, m.Online())

	// Drops and recovers inside the stability window.
	m.observe(false, base.Add(100*time.Millisecond))
	m.observe(false, base.Add(200*time.Millisecond))
	assert.True(t, m.Online())

	m.observe(true, base.Add(300*time.Millisecond))
	assert.True(t, m.Online())

	// A later drop starts a fresh window rather than inheriting the old one.
	m.observe(false, base.Add(400*time.Millisecond))
	m.observe(false, base.Add(700*time.Millisecond))
	assert.True(t, m.Online())
}

func TestSustainedChangeFlipsAfterWindow(t *testing.T) {
	m, bus := newTestMonitor(500 * time.Millisecond)
	defer func() { _ = bus.Close() }()

	base := time.Now()
	m.observe(false, base)
	require.False(t, m.Online())

	m.observe(true, base.Add(time.Second))
	assert.False(t, m.Online(), "change must hold for the full window first")

	m.observe(true, base.Add(1600*time.Millisecond))
	assert.True(t, m.Online())
}

func TestTransitionPublishedOnBus(t *testing.T) {
	m, bus := newTestMonitor(0)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscribe(ctx, events.TopicNetworkStatus)
	require.NoError(t, err)

	m.observe(true, time.Now())

	select {
	case msg := <-messages:
		ev, err := events.Decode[events.NetworkStatus](msg)
		require.NoError(t, err)
		msg.Ack()
		assert.True(t, ev.Online)
	case <-time.After(time.Second):
		t.Fatal("no network transition published")
	}
}

func TestServePollsProber(t *testing.T) {
	prober := &fakeProber{}
	prober.up.Store(true)

	bus := events.NewBus()
	defer func() { _ = bus.Close() }()
	m := New(prober, bus, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)

	prober.up.Store(false)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop on context cancel")
	}
}

func TestHTTPProberAnyResponseIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	prober := NewHTTPProber(srv.URL+"/healthz", time.Second)
	assert.NoError(t, prober.Probe(context.Background()))
}

func TestHTTPProberConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	prober := NewHTTPProber(srv.URL+"/healthz", 100*time.Millisecond)
	assert.Error(t, prober.Probe(context.Background()))
}
