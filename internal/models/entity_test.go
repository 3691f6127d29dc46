// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationValid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpUpdate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
	assert.False(t, Operation("").Valid())
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeServiceOrder))
	assert.True(t, KnownType(TypeCustomer))
	assert.True(t, KnownType(TypeInventoryItem))
	assert.False(t, KnownType("service-order"))
}

func TestEntityKey(t *testing.T) {
	e := &Entity{Type: TypeCustomer, ID: "c-42"}
	assert.Equal(t, "customer/c-42", e.Key())
	assert.Equal(t, "customer/c-42", EntityKey(TypeCustomer, "c-42"))
}

func TestCloneIsDeep(t *testing.T) {
	original := &Entity{
		Type:     TypeServiceOrder,
		ID:       "so-1",
		Revision: 5,
		Fields: map[string]Field{
			"status": FieldString("open", 5),
		},
	}

	clone := original.Clone()
	clone.Fields["status"].Value[0] = 'X'
	clone.Fields["extra"] = FieldString("added", 6)

	assert.Equal(t, []byte(`"open"`), []byte(original.Fields["status"].Value))
	assert.NotContains(t, original.Fields, "extra")
}

func TestCloneNil(t *testing.T) {
	var e *Entity
	assert.Nil(t, e.Clone())
}

func TestRevisionNewer(t *testing.T) {
	assert.True(t, Revision(2).Newer(1))
	assert.False(t, Revision(1).Newer(1))
	assert.False(t, Revision(1).Newer(2))
}
