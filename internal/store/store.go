// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package store

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// ErrPersistence marks local storage failures (disk unavailable, quota
// exceeded). Callers match it with errors.Is; it is always surfaced
// immediately, never swallowed, because it signals risk of data loss.
var ErrPersistence = errors.New("local persistence error")

// PersistenceError wraps an underlying storage failure with the operation
// that triggered it. errors.Is(err, ErrPersistence) matches it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistence) succeed for any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Pair is a key/value pair returned by ListByPrefix.
type Pair struct {
	Key   string
	Value []byte
}

// KV is the durable key/value contract shared by the local entity store
// and the sync queue. ListByPrefix returns pairs in ascending byte order
// of key; the queue relies on that for per-entity FIFO. PutAll applies
// its writes as one atomic unit: after a crash either all pairs are
// present or none are. The queue relies on that when one mutation spans
// several keys.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	PutAll(pairs []Pair) error
	Delete(key string) error
	ListByPrefix(prefix string) ([]Pair, error)
}

// Closer is implemented by KV backends holding OS resources.
type Closer interface {
	Close() error
}

// Open returns a KV backed by BadgerDB at path, or a process-local memory
// store when path is empty. The memory fallback keeps tests and ephemeral
// tooling off the disk.
func Open(path string) (KV, error) {
	if path == "" {
		return NewMemoryKV(), nil
	}
	return OpenBadger(path)
}
