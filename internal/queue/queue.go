// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package queue

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/fieldworks/fieldsync/internal/logging"
	"github.com/fieldworks/fieldsync/internal/metrics"
	"github.com/fieldworks/fieldsync/internal/models"
	"github.com/fieldworks/fieldsync/internal/store"
	"github.com/fieldworks/fieldsync/internal/validation"
)

// Key layout. Sequence numbers are zero-padded so the KV's byte order is
// also enqueue order within one entity lane.
const (
	itemKeyPrefix = "queue:item:"
	seqKeyPrefix  = "queue:seq:"
	idKeyPrefix   = "queue:id:"
)

// ErrItemNotFound is returned when an item id resolves to nothing, either
// because it never existed or because it already completed.
var ErrItemNotFound = errors.New("queue item not found")

// ErrPayloadRequired is returned by Enqueue when a create or update
// carries no payload.
var ErrPayloadRequired = errors.New("payload required")

// Status is the lifecycle state of a queue item.
type Status string

// Item lifecycle states. Succeeded items are deleted, not marked.
const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "in_flight"
	StatusFailed     Status = "failed"
	StatusConflicted Status = "conflicted"
)

// Item is one pending mutation. The idempotency key is minted once at
// enqueue time and reused verbatim on every delivery attempt, so a
// response lost in transit cannot become a duplicate write upstream.
type Item struct {
	ID             string           `json:"id"`
	Seq            uint64           `json:"seq"`
	EntityType     string           `json:"entity_type"`
	EntityID       string           `json:"entity_id"`
	Op             models.Operation `json:"op"`
	Payload        *models.Entity   `json:"payload,omitempty"`
	BaseRevision   models.Revision  `json:"base_revision"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         Status           `json:"status"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error,omitempty"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// EntityKey returns the "<type>/<id>" lane the item belongs to.
func (it *Item) EntityKey() string {
	return models.EntityKey(it.EntityType, it.EntityID)
}

// Terminal reports whether the item has left active processing and is
// waiting on a human (inspection or a conflict decision).
func (it *Item) Terminal() bool {
	return it.Status == StatusFailed || it.Status == StatusConflicted
}

// EnqueueRequest is the validated input to Enqueue.
type EnqueueRequest struct {
	EntityType   string           `validate:"required,entitytype"`
	EntityID     string           `validate:"required"`
	Op           models.Operation `validate:"required,syncop"`
	Payload      *models.Entity
	BaseRevision models.Revision
}

// Queue is the durable per-entity FIFO over a KV backend. All methods are
// safe for concurrent use; multi-key updates are serialized under one
// mutex because the KV contract has no transactions.
type Queue struct {
	mu sync.Mutex
	kv store.KV
}

// New creates a queue over kv and primes the depth gauges from whatever
// survived the last shutdown.
func New(kv store.KV) (*Queue, error) {
	q := &Queue{kv: kv}
	if err := q.refreshGauges(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue validates req, assigns the item its id, lane sequence, and
// idempotency key, and persists it. The item is durable before Enqueue
// returns; a crash after that point loses nothing.
func (q *Queue) Enqueue(req EnqueueRequest) (*Item, error) {
	if err := validation.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if req.Op != models.OpDelete && req.Payload == nil {
		return nil, fmt.Errorf("enqueue %s: %w", req.Op, ErrPayloadRequired)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	lane := models.EntityKey(req.EntityType, req.EntityID)
	seq, err := q.peekSeq(lane)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := &Item{
		ID:             uuid.NewString(),
		Seq:            seq,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Op:             req.Op,
		Payload:        req.Payload.Clone(),
		BaseRevision:   req.BaseRevision,
		IdempotencyKey: uuid.NewString(),
		Status:         StatusPending,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode queue item %s: %w", item.ID, err)
	}

	// Counter, item, and id index land in one atomic batch; a crash
	// cannot leave a half-enqueued mutation behind.
	if err := q.kv.PutAll([]store.Pair{
		{Key: seqKeyPrefix + lane, Value: []byte(strconv.FormatUint(seq, 10))},
		{Key: itemKey(lane, seq), Value: raw},
		{Key: idKeyPrefix + item.ID, Value: []byte(itemKey(lane, seq))},
	}); err != nil {
		return nil, err
	}

	metrics.QueueEnqueued.WithLabelValues(item.EntityType, string(item.Op)).Inc()
	q.gauges()
	logging.Debug().
		Str("item_id", item.ID).
		Str("entity", lane).
		Str("op", string(item.Op)).
		Uint64("seq", seq).
		Msg("Enqueued mutation")
	return item, nil
}

// Get returns the item by id.
func (q *Queue) Get(id string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked(id)
}

// PeekNext returns the head of an entity lane, the lowest-sequence item
// still present, regardless of status. A parked head (failed, conflicted)
// blocks the lane so later mutations cannot overtake it.
func (q *Queue) PeekNext(entityKey string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pairs, err := q.kv.ListByPrefix(itemKeyPrefix + entityKey + ":")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrItemNotFound
	}
	return decodeItem(pairs[0].Value)
}

// HasSuccessor reports whether any item is queued behind the given one
// in its entity lane.
func (q *Queue) HasSuccessor(item *Item) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pairs, err := q.kv.ListByPrefix(itemKeyPrefix + item.EntityKey() + ":")
	if err != nil {
		return false, err
	}
	for _, p := range pairs {
		other, err := decodeItem(p.Value)
		if err != nil {
			return false, err
		}
		if other.Seq > item.Seq {
			return true, nil
		}
	}
	return false, nil
}

// ReadyEntities returns, in byte order, the entity lanes whose head item
// is pending. Lanes headed by an in-flight, failed, or conflicted item
// are withheld: the first is already being worked, the others wait on a
// human.
func (q *Queue) ReadyEntities() ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pairs, err := q.kv.ListByPrefix(itemKeyPrefix)
	if err != nil {
		return nil, err
	}

	var lanes []string
	seen := make(map[string]bool)
	for _, p := range pairs {
		item, err := decodeItem(p.Value)
		if err != nil {
			return nil, err
		}
		lane := item.EntityKey()
		if seen[lane] {
			continue
		}
		seen[lane] = true
		if item.Status == StatusPending {
			lanes = append(lanes, lane)
		}
	}
	return lanes, nil
}

// MarkInFlight transitions a pending item to in-flight.
func (q *Queue) MarkInFlight(id string) (*Item, error) {
	return q.transition(id, func(item *Item) error {
		if item.Status != StatusPending {
			return fmt.Errorf("mark in-flight %s: item is %s", id, item.Status)
		}
		item.Status = StatusInFlight
		return nil
	})
}

// MarkSucceeded removes a delivered item. The queue keeps no record of
// successes; the entity store holds the confirmed state.
func (q *Queue) MarkSucceeded(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.getLocked(id)
	if err != nil {
		return err
	}
	if err := q.deleteLocked(item); err != nil {
		return err
	}
	metrics.ItemOutcomes.WithLabelValues("succeeded").Inc()
	q.gauges()
	return nil
}

// MarkFailed parks an item as terminally failed. It stays in the store
// for inspection and blocks its lane until discarded.
func (q *Queue) MarkFailed(id, reason string, attempts int) (*Item, error) {
	item, err := q.transition(id, func(item *Item) error {
		item.Status = StatusFailed
		item.LastError = reason
		item.Attempts += attempts
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ItemOutcomes.WithLabelValues("failed").Inc()
	return item, nil
}

// MarkConflicted parks an item awaiting a conflict decision.
func (q *Queue) MarkConflicted(id, reason string) (*Item, error) {
	item, err := q.transition(id, func(item *Item) error {
		item.Status = StatusConflicted
		item.LastError = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ItemOutcomes.WithLabelValues("conflicted").Inc()
	return item, nil
}

// Revert returns an in-flight item to pending without consuming a retry
// budget. Used when a drain pass is cut short by a tripped breaker or a
// cancelled context rather than by the item itself failing.
func (q *Queue) Revert(id, reason string) (*Item, error) {
	item, err := q.transition(id, func(item *Item) error {
		item.Status = StatusPending
		item.LastError = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ItemOutcomes.WithLabelValues("deferred").Inc()
	return item, nil
}

// Rebase replaces an item's payload and base revision with the outcome of
// conflict resolution and returns it to pending. The idempotency key is
// reminted: the rebased mutation is a new write, not a redelivery.
func (q *Queue) Rebase(id string, payload *models.Entity, base models.Revision) (*Item, error) {
	return q.transition(id, func(item *Item) error {
		item.Payload = payload.Clone()
		item.BaseRevision = base
		item.IdempotencyKey = uuid.NewString()
		item.Status = StatusPending
		item.LastError = ""
		return nil
	})
}

// Discard deletes a parked item without delivering it, unblocking its
// lane. Only failed and conflicted items can be discarded.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.getLocked(id)
	if err != nil {
		return err
	}
	if !item.Terminal() {
		return fmt.Errorf("discard %s: item is %s", id, item.Status)
	}
	if err := q.deleteLocked(item); err != nil {
		return err
	}
	q.gauges()
	return nil
}

// List returns every item in the queue, lane by lane in sequence order.
func (q *Queue) List() ([]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pairs, err := q.kv.ListByPrefix(itemKeyPrefix)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(pairs))
	for _, p := range pairs {
		item, err := decodeItem(p.Value)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Depth returns the number of items currently queued, parked ones
// included.
func (q *Queue) Depth() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

func (q *Queue) transition(id string, mutate func(*Item) error) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.getLocked(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(item); err != nil {
		return nil, err
	}
	item.UpdatedAt = time.Now().UTC()
	if err := q.writeItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (q *Queue) getLocked(id string) (*Item, error) {
	ref, err := q.kv.Get(idKeyPrefix + id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := q.kv.Get(string(ref))
	if errors.Is(err, store.ErrKeyNotFound) {
		// The index points at a deleted item; drop the dangling entry so
		// the orphan does not accumulate.
		if derr := q.kv.Delete(idKeyPrefix + id); derr != nil {
			logging.Warn().Err(derr).Str("item_id", id).Msg("Failed to drop dangling queue index")
		}
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (q *Queue) deleteLocked(item *Item) error {
	if err := q.kv.Delete(itemKey(item.EntityKey(), item.Seq)); err != nil {
		return err
	}
	return q.kv.Delete(idKeyPrefix + item.ID)
}

func (q *Queue) writeItem(item *Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item %s: %w", item.ID, err)
	}
	return q.kv.Put(itemKey(item.EntityKey(), item.Seq), raw)
}

// peekSeq computes the next sequence number for a lane without writing
// it; Enqueue persists the advanced counter in the same batch as the
// item. The counter is durable so a restart cannot reissue a sequence
// under surviving items.
func (q *Queue) peekSeq(lane string) (uint64, error) {
	raw, err := q.kv.Get(seqKeyPrefix + lane)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		return 1, nil
	case err != nil:
		return 0, err
	}
	prev, perr := strconv.ParseUint(string(raw), 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("corrupt sequence counter for %s: %w", lane, perr)
	}
	return prev + 1, nil
}

func (q *Queue) depthLocked() (int, error) {
	pairs, err := q.kv.ListByPrefix(itemKeyPrefix)
	if err != nil {
		return 0, err
	}
	return len(pairs), nil
}

// gauges refreshes queue depth and oldest-item age. Failures here are
// logged and dropped; metrics must never fail a mutation that already
// persisted.
func (q *Queue) gauges() {
	if err := q.refreshGaugesLocked(); err != nil {
		logging.Warn().Err(err).Msg("Failed to refresh queue gauges")
	}
}

func (q *Queue) refreshGauges() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.refreshGaugesLocked()
}

func (q *Queue) refreshGaugesLocked() error {
	pairs, err := q.kv.ListByPrefix(itemKeyPrefix)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(len(pairs)))

	var oldest time.Time
	for _, p := range pairs {
		item, err := decodeItem(p.Value)
		if err != nil {
			return err
		}
		if oldest.IsZero() || item.EnqueuedAt.Before(oldest) {
			oldest = item.EnqueuedAt
		}
	}
	if oldest.IsZero() {
		metrics.QueueOldestAge.Set(0)
	} else {
		metrics.QueueOldestAge.Set(time.Since(oldest).Seconds())
	}
	return nil
}

func itemKey(lane string, seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", itemKeyPrefix, lane, seq)
}

func decodeItem(raw []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode queue item: %w", err)
	}
	return &item, nil
}
