// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/fieldsync/internal/models"
)

func entity(rev models.Revision, fields map[string]models.Field) *models.Entity {
	return &models.Entity{
		Type:     models.TypeServiceOrder,
		ID:       "so-1",
		Revision: rev,
		Fields:   fields,
	}
}

func TestRemoteWinsAdoptsRemoteKeepsLocalOnlyFields(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"status":     models.FieldString("in_progress", 2),
		"field_note": models.FieldString("gate code 4821", 2), // local-only
	})
	remote := entity(2, map[string]models.Field{
		"status": models.FieldString("cancelled", 2),
	})

	reg := NewRegistry()
	res, err := reg.Resolve(local, remote)
	require.NoError(t, err)

	assert.Equal(t, StrategyRemoteWins, res.Strategy)
	assert.False(t, res.Reapply)
	assert.Equal(t, models.Revision(2), res.Resolved.Revision)
	assert.JSONEq(t, `"cancelled"`, string(res.Resolved.Fields["status"].Value))
	assert.JSONEq(t, `"gate code 4821"`, string(res.Resolved.Fields["field_note"].Value))
}

func TestLocalWinsReappliesOverRemote(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"status": models.FieldString("completed", 2),
	})
	remote := entity(2, map[string]models.Field{
		"status":   models.FieldString("assigned", 2),
		"assignee": models.FieldString("tech-7", 2),
	})

	reg := NewRegistry()
	require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, StrategyLocalWins))

	res, err := reg.Resolve(local, remote)
	require.NoError(t, err)

	assert.Equal(t, StrategyLocalWins, res.Strategy)
	assert.True(t, res.Reapply, "local-wins must go back to the server as a new operation")
	assert.Equal(t, models.Revision(2), res.Resolved.Revision, "rebased on the remote revision")
	assert.JSONEq(t, `"completed"`, string(res.Resolved.Fields["status"].Value))
	assert.JSONEq(t, `"tech-7"`, string(res.Resolved.Fields["assignee"].Value))
}

func TestFieldMergeTakesNewerFieldRevision(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"status": models.FieldString("completed", 5), // newer locally
		"notes":  models.FieldString("old note", 1),  // older locally
	})
	remote := entity(2, map[string]models.Field{
		"status": models.FieldString("assigned", 3),
		"notes":  models.FieldString("dispatcher note", 4),
	})

	reg := NewRegistry()
	require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, StrategyFieldMerge))

	res, err := reg.Resolve(local, remote)
	require.NoError(t, err)

	assert.Equal(t, StrategyFieldMerge, res.Strategy)
	assert.JSONEq(t, `"completed"`, string(res.Resolved.Fields["status"].Value))
	assert.JSONEq(t, `"dispatcher note"`, string(res.Resolved.Fields["notes"].Value))
	assert.True(t, res.Reapply, "merge diverged from remote, must be transmitted")
}

func TestFieldMergeTiesGoToRemote(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"status": models.FieldString("completed", 3),
	})
	remote := entity(2, map[string]models.Field{
		"status": models.FieldString("assigned", 3),
	})

	reg := NewRegistry()
	require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, StrategyFieldMerge))

	res, err := reg.Resolve(local, remote)
	require.NoError(t, err)
	assert.JSONEq(t, `"assigned"`, string(res.Resolved.Fields["status"].Value))
	assert.False(t, res.Reapply, "identical to remote, nothing to transmit")
}

func TestFieldMergeCallerSuppliedFunc(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"count": {Value: []byte(`5`), Revision: 2},
	})
	remote := entity(2, map[string]models.Field{
		"count": {Value: []byte(`3`), Revision: 3},
	})

	reg := NewRegistry()
	require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, StrategyFieldMerge))
	reg.SetMergeFunc(models.TypeServiceOrder, func(name string, l, r models.Field) models.Field {
		// Inventory counts reconcile by taking the maximum.
		if string(l.Value) > string(r.Value) {
			return l
		}
		return r
	})

	res, err := reg.Resolve(local, remote)
	require.NoError(t, err)
	assert.Equal(t, `5`, string(res.Resolved.Fields["count"].Value))
}

func TestAskUserParksResolution(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, StrategyAskUser))

	res, err := reg.Resolve(entity(1, nil), entity(2, nil))
	require.NoError(t, err)
	assert.True(t, res.AwaitUser)
	assert.Nil(t, res.Resolved)
}

func TestResolveIsDeterministicAndPure(t *testing.T) {
	local := entity(1, map[string]models.Field{
		"status": models.FieldString("completed", 5),
		"note":   models.FieldString("local", 1),
	})
	remote := entity(2, map[string]models.Field{
		"status": models.FieldString("assigned", 3),
		"note":   models.FieldString("remote", 4),
	})

	for _, strategy := range []Strategy{StrategyRemoteWins, StrategyLocalWins, StrategyFieldMerge} {
		t.Run(string(strategy), func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.SetStrategy(models.TypeServiceOrder, strategy))

			localBefore := local.Clone()
			remoteBefore := remote.Clone()

			first, err := reg.Resolve(local, remote)
			require.NoError(t, err)
			second, err := reg.Resolve(local, remote)
			require.NoError(t, err)

			assert.Equal(t, first, second, "identical inputs must yield identical output")
			assert.Equal(t, localBefore, local, "inputs must not be mutated")
			assert.Equal(t, remoteBefore, remote, "inputs must not be mutated")

			// Mutating the resolution must not leak into the inputs.
			first.Resolved.Fields["status"] = models.FieldString("tampered", 99)
			assert.Equal(t, remoteBefore, remote)
		})
	}
}

func TestRegistryDefaultsAndValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, StrategyRemoteWins, reg.StrategyFor(models.TypeCustomer))

	require.NoError(t, reg.SetDefault(StrategyFieldMerge))
	assert.Equal(t, StrategyFieldMerge, reg.StrategyFor(models.TypeCustomer))

	assert.Error(t, reg.SetDefault(Strategy("newest-wins")))
	assert.Error(t, reg.SetStrategy(models.TypeCustomer, Strategy("")))

	_, err := reg.Resolve(nil, entity(1, nil))
	assert.Error(t, err)
}
