// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fieldworks/fieldsync/internal/models"
)

const entityKeyPrefix = "entity:"

// CachedEntity is an entity as held by the local store, plus the pending
// marker that lets the presentation layer distinguish confirmed state from
// a provisional local mutation without inspecting the queue.
type CachedEntity struct {
	Entity  models.Entity `json:"entity"`
	Pending bool          `json:"pending"`
	// SyncedAt is when the entity last matched the remote authority.
	SyncedAt time.Time `json:"synced_at"`
}

// EntityStore caches entities over the KV contract. Each entity is one
// key, so a write is atomic at the KV level: the cache always holds either
// the last confirmed remote state or a whole pending local mutation, never
// a partial write.
type EntityStore struct {
	kv KV
}

// NewEntityStore creates an entity store over kv.
func NewEntityStore(kv KV) *EntityStore {
	return &EntityStore{kv: kv}
}

func entityKey(entityType, id string) string {
	return entityKeyPrefix + entityType + ":" + id
}

// Get returns the cached entity, or ErrKeyNotFound.
func (s *EntityStore) Get(entityType, id string) (*CachedEntity, error) {
	raw, err := s.kv.Get(entityKey(entityType, id))
	if err != nil {
		return nil, err
	}
	var cached CachedEntity
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("decode entity %s/%s: %w", entityType, id, err)
	}
	return &cached, nil
}

// PutConfirmed stores an entity as confirmed remote state, clearing any
// pending marker. Used when adopting the server's canonical response.
func (s *EntityStore) PutConfirmed(entity *models.Entity) error {
	return s.put(entity, false)
}

// ApplyLocal stores a provisional local mutation with the pending marker
// set. This is the optimistic write that accompanies every enqueue.
func (s *EntityStore) ApplyLocal(entity *models.Entity) error {
	return s.put(entity, true)
}

// MarkPending flips the pending marker without touching entity content.
// The manager uses it when a delivered item leaves later mutations for
// the same entity in the queue: the cached optimistic state stays
// provisional until the lane fully drains.
func (s *EntityStore) MarkPending(entityType, id string, pending bool) error {
	cached, err := s.Get(entityType, id)
	if err != nil {
		return err
	}
	cached.Pending = pending
	return s.write(entityKey(entityType, id), cached)
}

// Delete removes the cached entity.
func (s *EntityStore) Delete(entityType, id string) error {
	return s.kv.Delete(entityKey(entityType, id))
}

// ListByType returns all cached entities of the given type.
func (s *EntityStore) ListByType(entityType string) ([]*CachedEntity, error) {
	pairs, err := s.kv.ListByPrefix(entityKeyPrefix + entityType + ":")
	if err != nil {
		return nil, err
	}
	entities := make([]*CachedEntity, 0, len(pairs))
	for _, pair := range pairs {
		var cached CachedEntity
		if err := json.Unmarshal(pair.Value, &cached); err != nil {
			return nil, fmt.Errorf("decode %s: %w", pair.Key, err)
		}
		entities = append(entities, &cached)
	}
	return entities, nil
}

// ListPending returns all cached entities still carrying the pending marker.
func (s *EntityStore) ListPending() ([]*CachedEntity, error) {
	pairs, err := s.kv.ListByPrefix(entityKeyPrefix)
	if err != nil {
		return nil, err
	}
	var entities []*CachedEntity
	for _, pair := range pairs {
		if !strings.HasPrefix(pair.Key, entityKeyPrefix) {
			continue
		}
		var cached CachedEntity
		if err := json.Unmarshal(pair.Value, &cached); err != nil {
			return nil, fmt.Errorf("decode %s: %w", pair.Key, err)
		}
		if cached.Pending {
			entities = append(entities, &cached)
		}
	}
	return entities, nil
}

func (s *EntityStore) put(entity *models.Entity, pending bool) error {
	cached := &CachedEntity{Entity: *entity.Clone(), Pending: pending}
	if !pending {
		cached.SyncedAt = time.Now().UTC()
	}
	return s.write(entityKey(entity.Type, entity.ID), cached)
}

func (s *EntityStore) write(key string, cached *CachedEntity) error {
	raw, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Put(key, raw)
}
