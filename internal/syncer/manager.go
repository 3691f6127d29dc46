// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fieldworks/fieldsync/internal/conflict"
	"github.com/fieldworks/fieldsync/internal/events"
	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/metrics"
	"github.com/fieldworks/fieldsync/internal/models"
	"github.com/fieldworks/fieldsync/internal/queue"
	"github.com/fieldworks/fieldsync/internal/resilience"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/transport"
)

// errDeferLane stops the current lane without parking its head item. The
// item has already been reverted to pending.
var errDeferLane = errors.New("lane deferred")

// ErrUnknownConflict is returned by ResolveManually when no conflict
// snapshot is held for the item, typically after a process restart.
// Re-triggering a drain reproduces the conflict and its snapshot.
var ErrUnknownConflict = errors.New("no conflict snapshot for item")

// ErrBadStrategy is returned by ResolveManually when the given strategy
// is unknown or cannot settle a conflict (ask-user cannot answer itself).
var ErrBadStrategy = errors.New("strategy cannot settle a conflict")

// Connectivity is the slice of the network monitor the manager needs.
type Connectivity interface {
	Online() bool
}

// Config tunes the manager.
type Config struct {
	// MaxWorkers bounds concurrent entity lanes per drain pass.
	MaxWorkers int
	// Interval is the periodic drain cadence while online. Zero disables
	// the ticker; drains then happen only on transitions and triggers.
	Interval time.Duration
	// RateLimit caps outbound transport calls per second across all
	// workers. Zero means unlimited.
	RateLimit float64
	// RateBurst is the limiter burst size when RateLimit is set.
	RateBurst int
}

// Deps are the manager's collaborators.
type Deps struct {
	Queue     *queue.Queue
	Entities  *store.EntityStore
	Transport transport.Transport
	Retry     resilience.RetryPolicy
	Breaker   *resilience.Breaker
	Resolver  *conflict.Registry
	Bus       *events.Bus
	Network   Connectivity
}

// Manager drains the queue. One drain pass runs at a time; within a pass
// up to MaxWorkers entity lanes proceed concurrently, and items within a
// lane strictly in order.
type Manager struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	trigger chan struct{}

	mu       sync.Mutex
	draining bool
	// conflicts holds the local/remote snapshots of parked ask-user
	// conflicts, keyed by item id, until a manual decision arrives.
	conflicts map[string]*conflict.Record
}

// New creates a manager.
func New(cfg Config, deps Deps) *Manager {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	m := &Manager{
		cfg:       cfg,
		deps:      deps,
		trigger:   make(chan struct{}, 1),
		conflicts: make(map[string]*conflict.Record),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return m
}

// Submit is the local write path: the mutation is applied optimistically
// to the entity cache, enqueued durably, and announced. It never touches
// the network; the next drain pass delivers it.
func (m *Manager) Submit(req queue.EnqueueRequest) (*queue.Item, error) {
	item, err := m.deps.Queue.Enqueue(req)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case models.OpDelete:
		if err := m.deps.Entities.Delete(req.EntityType, req.EntityID); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return nil, err
		}
	default:
		if err := m.deps.Entities.ApplyLocal(req.Payload); err != nil {
			return nil, err
		}
	}

	m.publishEntityChanged(req.EntityType, req.EntityID, req.BaseRevision, true)
	m.TriggerDrain()
	return item, nil
}

// TriggerDrain requests a drain pass. Non-blocking; requests arriving
// while a pass runs coalesce into at most one follow-up pass.
func (m *Manager) TriggerDrain() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Serve runs the drain loop until ctx ends: a pass on every debounced
// offline-to-online transition, on every explicit trigger, and on the
// periodic ticker while online.
func (m *Manager) Serve(ctx context.Context) error {
	network, err := m.deps.Bus.Subscribe(ctx, events.TopicNetworkStatus)
	if err != nil {
		return fmt.Errorf("subscribe network status: %w", err)
	}

	var tick <-chan time.Time
	if m.cfg.Interval > 0 {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logging.Info().
		Int("max_workers", m.cfg.MaxWorkers).
		Dur("interval", m.cfg.Interval).
		Msg("Sync manager started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync manager stopped")
			return ctx.Err()

		case msg, open := <-network:
			if !open {
				return nil
			}
			ev, derr := events.Decode[events.NetworkStatus](msg)
			msg.Ack()
			if derr != nil {
				logging.Warn().Err(derr).Msg("Dropping malformed network event")
				continue
			}
			if ev.Online {
				m.runDrain(ctx)
			}

		case <-m.trigger:
			m.runDrain(ctx)

		case <-tick:
			m.runDrain(ctx)
		}
	}
}

func (m *Manager) runDrain(ctx context.Context) {
	if err := m.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Drain pass failed")
	}
}

// Drain runs one pass over every ready entity lane. Concurrent calls
// collapse: while a pass is running, further calls return immediately.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	if m.deps.Network != nil && !m.deps.Network.Online() {
		logging.Debug().Msg("Skipping drain pass while offline")
		return nil
	}

	lanes, err := m.deps.Queue.ReadyEntities()
	if err != nil {
		return fmt.Errorf("list ready lanes: %w", err)
	}
	if len(lanes) == 0 {
		return nil
	}

	start := time.Now()
	logging.Info().Int("lanes", len(lanes)).Msg("Drain pass started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxWorkers)
	for _, lane := range lanes {
		g.Go(func() error {
			return m.processLane(gctx, lane)
		})
	}
	err = g.Wait()

	metrics.DrainDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Dur("elapsed", time.Since(start)).
		Msg("Drain pass finished")
	return err
}

// processLane delivers a lane's items strictly in order. The lane stops
// at the first item that does not succeed outright; a parked head blocks
// everything behind it until resolved.
func (m *Manager) processLane(ctx context.Context, lane string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		head, err := m.deps.Queue.PeekNext(lane)
		if errors.Is(err, queue.ErrItemNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if head.Status != queue.StatusPending {
			return nil
		}

		if err := m.processItem(ctx, head); err != nil {
			if errors.Is(err, errDeferLane) {
				return nil
			}
			return err
		}
	}
}

// processItem delivers one item and applies its outcome. A nil return
// means the lane may continue; errDeferLane means stop the lane and leave
// the rest for a later pass.
func (m *Manager) processItem(ctx context.Context, item *queue.Item) error {
	if _, err := m.deps.Queue.MarkInFlight(item.ID); err != nil {
		return err
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return m.deferItem(item, "drain pass interrupted")
		}
	}

	req := &transport.Request{
		Op:             item.Op,
		EntityType:     item.EntityType,
		EntityID:       item.EntityID,
		Payload:        item.Payload,
		BaseRevision:   item.BaseRevision,
		IdempotencyKey: item.IdempotencyKey,
	}

	resp, err := m.deps.Retry.Execute(ctx, func(ctx context.Context) (*transport.Response, error) {
		return m.deps.Breaker.Execute(func() (*transport.Response, error) {
			return m.deps.Transport.Do(ctx, req)
		})
	})

	switch {
	case err == nil:
		return m.applySuccess(item, resp)

	case errors.Is(err, resilience.ErrCircuitOpen):
		return m.deferItem(item, "circuit open")

	// An expired drain deadline surfaces as context.DeadlineExceeded, not
	// Canceled; either way the pass was abandoned, not the item.
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		return m.deferItem(item, "drain pass interrupted")

	default:
		if ce, ok := transport.IsConflict(err); ok {
			return m.handleConflict(item, ce)
		}
		return m.fail(item, err)
	}
}

// applySuccess adopts the server's canonical outcome and retires the item.
func (m *Manager) applySuccess(item *queue.Item, resp *transport.Response) error {
	var canonical *models.Entity
	if item.Op != models.OpDelete {
		canonical = resp.Entity
		if canonical == nil {
			canonical = item.Payload.Clone()
			canonical.Revision = resp.Revision
		}
	}

	pending, err := m.confirmEntity(item, canonical)
	if err != nil {
		return err
	}
	if err := m.deps.Queue.MarkSucceeded(item.ID); err != nil {
		return err
	}

	m.publishEntityChanged(item.EntityType, item.EntityID, resp.Revision, pending)
	logging.Debug().
		Str("item_id", item.ID).
		Str("entity", item.EntityKey()).
		Uint64("revision", uint64(resp.Revision)).
		Msg("Item synced")
	return nil
}

// confirmEntity settles the cache after item was delivered (or resolved
// away): canonical replaces the cached copy, or nil removes it for a
// delete. When later mutations for the same entity are still queued, the
// cache instead keeps the newest optimistic payload and stays pending;
// adopting the older canonical state here would make the user's newest
// edit vanish until the lane drains. Returns the resulting pending flag.
func (m *Manager) confirmEntity(item *queue.Item, canonical *models.Entity) (bool, error) {
	hasMore, err := m.deps.Queue.HasSuccessor(item)
	if err != nil {
		return false, err
	}
	if hasMore {
		if err := m.deps.Entities.MarkPending(item.EntityType, item.EntityID, true); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return false, err
		}
		return true, nil
	}
	if canonical == nil {
		if err := m.deps.Entities.Delete(item.EntityType, item.EntityID); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return false, err
		}
		return false, nil
	}
	return false, m.deps.Entities.PutConfirmed(canonical)
}

// defer_ reverts the item to pending without consuming its retry budget
// and stops the lane.
func (m *Manager) deferItem(item *queue.Item, reason string) error {
	if _, err := m.deps.Queue.Revert(item.ID, reason); err != nil {
		return err
	}
	logging.Debug().
		Str("item_id", item.ID).
		Str("reason", reason).
		Msg("Item deferred to a later pass")
	return errDeferLane
}

// fail parks the item terminally and announces the failure. The lane is
// stopped: items behind a failed head would reorder if delivered.
func (m *Manager) fail(item *queue.Item, cause error) error {
	attempts := 1
	var exhausted *resilience.ExhaustedError
	if errors.As(cause, &exhausted) {
		attempts = exhausted.Attempts
	}

	failed, err := m.deps.Queue.MarkFailed(item.ID, cause.Error(), attempts)
	if err != nil {
		return err
	}

	logging.Error().
		Err(cause).
		Str("item_id", item.ID).
		Str("entity", item.EntityKey()).
		Int("attempts", failed.Attempts).
		Msg("Item failed terminally")

	if perr := m.deps.Bus.PublishItemFailed(events.ItemFailed{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Reason:     cause.Error(),
		Attempts:   failed.Attempts,
	}); perr != nil {
		logging.Warn().Err(perr).Msg("Failed to publish item failure")
	}
	return errDeferLane
}

// handleConflict resolves a revision divergence reported by the remote.
func (m *Manager) handleConflict(item *queue.Item, ce *transport.ConflictError) error {
	if ce.Remote == nil {
		// A conflict without the remote snapshot cannot be resolved
		// automatically; park it for a human.
		return m.park(item, nil, "conflict without remote snapshot")
	}

	local := item.Payload
	if local == nil {
		// A delete that conflicted: the remote copy moved underneath it.
		// Remote wins by adoption; the delete is discarded.
		return m.adoptRemote(item, ce.Remote)
	}

	res, err := m.deps.Resolver.Resolve(local, ce.Remote)
	if err != nil {
		return m.fail(item, err)
	}

	record := &conflict.Record{
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Local:      local.Clone(),
		Remote:     ce.Remote.Clone(),
		DetectedAt: time.Now().UTC(),
		Strategy:   res.Strategy,
		Resolved:   res.Resolved,
	}
	metrics.ConflictsResolved.WithLabelValues(item.EntityType, string(res.Strategy)).Inc()

	if res.AwaitUser {
		return m.park(item, record, "awaiting user decision")
	}
	return m.applyResolution(item, record, res)
}

// park marks the item conflicted, keeps the snapshot for a later manual
// decision, and blocks the lane.
func (m *Manager) park(item *queue.Item, record *conflict.Record, reason string) error {
	if _, err := m.deps.Queue.MarkConflicted(item.ID, reason); err != nil {
		return err
	}
	if record != nil {
		m.mu.Lock()
		m.conflicts[item.ID] = record
		m.mu.Unlock()
	}

	m.publishConflict(item.ID, record, true)
	logging.Warn().
		Str("item_id", item.ID).
		Str("entity", item.EntityKey()).
		Msg("Conflict parked for user decision")
	return errDeferLane
}

// applyResolution carries out an automatic resolution: the resolved state
// lands in the entity cache, and when it differs from the remote snapshot
// it goes back out as a rebased operation.
func (m *Manager) applyResolution(item *queue.Item, record *conflict.Record, res *conflict.Resolution) error {
	if res.Reapply {
		if err := m.deps.Entities.ApplyLocal(res.Resolved); err != nil {
			return err
		}
		if _, err := m.deps.Queue.Rebase(item.ID, res.Resolved, record.Remote.Revision); err != nil {
			return err
		}
		m.publishConflict(item.ID, record, false)
		m.publishEntityChanged(item.EntityType, item.EntityID, record.Remote.Revision, true)
		logging.Info().
			Str("item_id", item.ID).
			Str("entity", item.EntityKey()).
			Str("strategy", string(res.Strategy)).
			Msg("Conflict resolved, rebased operation queued")
		// Transmitting the rebased item waits for the next pass so a
		// persistently conflicting server cannot spin this lane.
		return errDeferLane
	}

	pending, err := m.confirmEntity(item, res.Resolved)
	if err != nil {
		return err
	}
	if err := m.deps.Queue.MarkSucceeded(item.ID); err != nil {
		return err
	}
	m.publishConflict(item.ID, record, false)
	m.publishEntityChanged(item.EntityType, item.EntityID, res.Resolved.Revision, pending)
	logging.Info().
		Str("item_id", item.ID).
		Str("entity", item.EntityKey()).
		Str("strategy", string(res.Strategy)).
		Msg("Conflict resolved, remote state adopted")
	return nil
}

// adoptRemote discards the item in favor of the remote snapshot.
func (m *Manager) adoptRemote(item *queue.Item, remote *models.Entity) error {
	pending, err := m.confirmEntity(item, remote)
	if err != nil {
		return err
	}
	if err := m.deps.Queue.MarkSucceeded(item.ID); err != nil {
		return err
	}
	metrics.ConflictsResolved.WithLabelValues(item.EntityType, string(conflict.StrategyRemoteWins)).Inc()
	m.publishEntityChanged(item.EntityType, item.EntityID, remote.Revision, pending)
	return nil
}

// ResolveManually applies a user decision to a parked conflict. The
// strategy must be one of the automatic ones; ask-user cannot answer
// itself.
func (m *Manager) ResolveManually(itemID string, strategy conflict.Strategy) error {
	if strategy == conflict.StrategyAskUser || !strategy.Valid() {
		return fmt.Errorf("strategy %q: %w", strategy, ErrBadStrategy)
	}

	item, err := m.deps.Queue.Get(itemID)
	if err != nil {
		return err
	}
	if item.Status != queue.StatusConflicted {
		return fmt.Errorf("item %s is %s, not conflicted", itemID, item.Status)
	}

	m.mu.Lock()
	record := m.conflicts[itemID]
	m.mu.Unlock()
	if record == nil {
		return ErrUnknownConflict
	}

	res, err := m.deps.Resolver.ResolveWith(strategy, record.Local, record.Remote)
	if err != nil {
		return err
	}

	if res.Reapply {
		if err := m.deps.Entities.ApplyLocal(res.Resolved); err != nil {
			return err
		}
		if _, err := m.deps.Queue.Rebase(itemID, res.Resolved, record.Remote.Revision); err != nil {
			return err
		}
		m.publishEntityChanged(item.EntityType, item.EntityID, record.Remote.Revision, true)
		m.TriggerDrain()
	} else {
		pending, err := m.confirmEntity(item, res.Resolved)
		if err != nil {
			return err
		}
		if err := m.deps.Queue.Discard(itemID); err != nil {
			return err
		}
		m.publishEntityChanged(item.EntityType, item.EntityID, res.Resolved.Revision, pending)
	}

	m.mu.Lock()
	delete(m.conflicts, itemID)
	m.mu.Unlock()

	metrics.ConflictsResolved.WithLabelValues(item.EntityType, string(strategy)).Inc()
	logging.Info().
		Str("item_id", itemID).
		Str("strategy", string(strategy)).
		Msg("Conflict settled manually")
	return nil
}

// PendingConflicts returns the parked conflict snapshots, keyed by item.
func (m *Manager) PendingConflicts() map[string]*conflict.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*conflict.Record, len(m.conflicts))
	for id, record := range m.conflicts {
		out[id] = record
	}
	return out
}

func (m *Manager) publishEntityChanged(entityType, id string, rev models.Revision, pending bool) {
	if err := m.deps.Bus.PublishEntityChanged(events.EntityChanged{
		EntityType: entityType,
		EntityID:   id,
		Revision:   rev,
		Pending:    pending,
	}); err != nil {
		logging.Warn().Err(err).Msg("Failed to publish entity change")
	}
}

func (m *Manager) publishConflict(itemID string, record *conflict.Record, awaitUser bool) {
	ev := events.ConflictDetected{ItemID: itemID, AwaitUser: awaitUser}
	if record != nil {
		ev.Record = *record
	}
	if err := m.deps.Bus.PublishConflictDetected(ev); err != nil {
		logging.Warn().Err(err).Msg("Failed to publish conflict")
	}
}
