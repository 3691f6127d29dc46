// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package store

import (
	"sort"
	"strings"
	"sync"
)

// MemoryKV is an in-process KV for tests and ephemeral runs. It honors the
// same ordering contract as BadgerKV: ListByPrefix returns keys in
// ascending byte order.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte

	// failNext, when set, makes the next mutating call fail with a
	// persistence error. Lets tests exercise the "could not save
	// locally" path without faking a full disk.
	failNext error
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// FailNextWrite arms a one-shot write failure.
func (s *MemoryKV) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Get retrieves the value for key.
func (s *MemoryKV) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores value under key.
func (s *MemoryKV) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return persistErr("put", err)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// PutAll stores every pair under one lock acquisition, so concurrent
// readers observe all of the writes or none of them.
func (s *MemoryKV) PutAll(pairs []Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return persistErr("putall", err)
	}
	for _, pair := range pairs {
		stored := make([]byte, len(pair.Value))
		copy(stored, pair.Value)
		s.data[pair.Key] = stored
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *MemoryKV) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return persistErr("delete", err)
	}
	delete(s.data, key)
	return nil
}

// ListByPrefix returns all pairs whose key starts with prefix, sorted by key.
func (s *MemoryKV) ListByPrefix(prefix string) ([]Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []Pair
	for key, value := range s.data {
		if strings.HasPrefix(key, prefix) {
			out := make([]byte, len(value))
			copy(out, value)
			pairs = append(pairs, Pair{Key: key, Value: out})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

func (s *MemoryKV) takeFailure() error {
	if s.failNext == nil {
		return nil
	}
	err := s.failNext
	s.failNext = nil
	return err
}
