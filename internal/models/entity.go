// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Revision is the marker used to detect divergence between two copies of
// an entity. The remote authority increments it on every accepted write;
// the client never fabricates one.
type Revision uint64

// Newer reports whether r is strictly newer than other.
func (r Revision) Newer(other Revision) bool {
	return r > other
}

// Operation is the kind of mutation carried by a queue item.
type Operation string

// Mutation kinds accepted by Enqueue.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation kind.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Entity types currently synchronized. The set is closed at enqueue time
// so a typo cannot park an unprocessable item in the durable queue.
const (
	TypeServiceOrder  = "service_order"
	TypeCustomer      = "customer"
	TypeInventoryItem = "inventory_item"
)

// KnownTypes lists the entity types accepted by Enqueue.
var KnownTypes = []string{TypeServiceOrder, TypeCustomer, TypeInventoryItem}

// KnownType reports whether entityType is in KnownTypes.
func KnownType(entityType string) bool {
	for _, t := range KnownTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

// Field is a single attribute of an entity. Each field carries its own
// revision marker so field-level merge can compare freshness per field
// rather than per document.
type Field struct {
	Value    json.RawMessage `json:"value"`
	Revision Revision        `json:"revision"`
}

// Entity is a business record (service order, customer, inventory item)
// identified by a stable id and tagged with a revision marker. The local
// store owns the cached copy; the remote authority owns the truth.
type Entity struct {
	Type      string           `json:"type" validate:"required,entitytype"`
	ID        string           `json:"id" validate:"required"`
	Revision  Revision         `json:"revision"`
	Fields    map[string]Field `json:"fields"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Key returns the canonical "<type>/<id>" key for the entity.
func (e *Entity) Key() string {
	return EntityKey(e.Type, e.ID)
}

// EntityKey builds the canonical "<type>/<id>" key.
func EntityKey(entityType, id string) string {
	return entityType + "/" + id
}

// Clone returns a deep copy of the entity. Field values are copied so a
// caller can mutate the clone without aliasing the original's buffers.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := &Entity{
		Type:      e.Type,
		ID:        e.ID,
		Revision:  e.Revision,
		UpdatedAt: e.UpdatedAt,
	}
	if e.Fields != nil {
		clone.Fields = make(map[string]Field, len(e.Fields))
		for name, f := range e.Fields {
			value := make(json.RawMessage, len(f.Value))
			copy(value, f.Value)
			clone.Fields[name] = Field{Value: value, Revision: f.Revision}
		}
	}
	return clone
}

// FieldString is a convenience for building string-valued fields.
func FieldString(value string, rev Revision) Field {
	raw, _ := json.Marshal(value)
	return Field{Value: raw, Revision: rev}
}

// String implements fmt.Stringer for log output.
func (e *Entity) String() string {
	return fmt.Sprintf("%s@r%d", e.Key(), e.Revision)
}
