// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvConformance exercises the KV contract shared by both backends.
func kvConformance(t *testing.T, kv KV) {
	t.Helper()

	_, err := kv.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Put("queue:a:001", []byte("first")))
	require.NoError(t, kv.Put("queue:a:002", []byte("second")))
	require.NoError(t, kv.Put("queue:b:001", []byte("other")))
	require.NoError(t, kv.Put("entity:x", []byte("ent")))

	got, err := kv.Get("queue:a:001")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	// Overwrite is a plain put.
	require.NoError(t, kv.Put("queue:a:001", []byte("first-v2")))
	got, err = kv.Get("queue:a:001")
	require.NoError(t, err)
	assert.Equal(t, []byte("first-v2"), got)

	// Prefix listing is scoped and byte-ordered.
	pairs, err := kv.ListByPrefix("queue:a:")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "queue:a:001", pairs[0].Key)
	assert.Equal(t, "queue:a:002", pairs[1].Key)

	pairs, err = kv.ListByPrefix("queue:")
	require.NoError(t, err)
	assert.Len(t, pairs, 3)

	// Delete is idempotent.
	require.NoError(t, kv.Delete("queue:a:001"))
	require.NoError(t, kv.Delete("queue:a:001"))
	_, err = kv.Get("queue:a:001")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// A batched write lands every pair.
	require.NoError(t, kv.PutAll([]Pair{
		{Key: "batch:1", Value: []byte("one")},
		{Key: "batch:2", Value: []byte("two")},
		{Key: "batch:3", Value: []byte("three")},
	}))
	pairs, err = kv.ListByPrefix("batch:")
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, []byte("two"), pairs[1].Value)
}

func TestMemoryKVConformance(t *testing.T) {
	kvConformance(t, NewMemoryKV())
}

func TestBadgerKVConformance(t *testing.T) {
	kv, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, kv.Close()) }()

	kvConformance(t, kv)
}

func TestBadgerKVSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	kv, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Put("queue:item:1", []byte("payload")))
	require.NoError(t, kv.Close())

	reopened, err := OpenBadger(dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	got, err := reopened.Get("queue:item:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestMemoryKVFailNextWrite(t *testing.T) {
	kv := NewMemoryKV()
	kv.FailNextWrite(errors.New("disk full"))

	err := kv.Put("k", []byte("v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "put", perr.Op)

	// One-shot: the next write succeeds.
	assert.NoError(t, kv.Put("k", []byte("v")))

	// A failed batch writes nothing.
	kv.FailNextWrite(errors.New("disk full"))
	err = kv.PutAll([]Pair{{Key: "batch:1", Value: []byte("one")}})
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = kv.Get("batch:1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	kv, err := Open("")
	require.NoError(t, err)
	_, ok := kv.(*MemoryKV)
	assert.True(t, ok)
}
