// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/fieldworks/fieldsync/internal/logging"
)

// BadgerKV implements KV using BadgerDB for durable storage that survives
// process restarts. Writes are synchronous by default; a mobile-class sync
// core would rather pay the fsync than replay a lost mutation.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB-backed store at path.
func OpenBadger(path string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, persistErr("open", err)
	}
	return &BadgerKV{db: db}, nil
}

// NewBadgerKV wraps an already-open badger database.
func NewBadgerKV(db *badger.DB) *BadgerKV {
	return &BadgerKV{db: db}
}

// Get retrieves the value for key.
func (s *BadgerKV) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, persistErr("get", err)
	}
	return value, nil
}

// Put stores value under key.
func (s *BadgerKV) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return persistErr("put", err)
	}
	return nil
}

// PutAll stores every pair in a single badger transaction; the commit is
// all-or-nothing.
func (s *BadgerKV) PutAll(pairs []Pair) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, pair := range pairs {
			if err := txn.Set([]byte(pair.Key), pair.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("putall", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *BadgerKV) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return persistErr("delete", err)
	}
	return nil
}

// ListByPrefix returns all pairs whose key starts with prefix, in
// ascending key order (badger iterates keys in byte order).
func (s *BadgerKV) ListByPrefix(prefix string) ([]Pair, error) {
	var pairs []Pair
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pairs = append(pairs, Pair{Key: string(item.Key()), Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, persistErr("list", err)
	}
	return pairs, nil
}

// Close releases the underlying database.
func (s *BadgerKV) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog at
// debug/warn so it does not drown application output.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+format, args...)
}
