// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package conflict

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/fieldworks/fieldsync/internal/models"
)

// Strategy names a resolution policy.
type Strategy string

// Built-in strategies. AskUser parks the conflict until the presentation
// layer supplies a decision.
const (
	StrategyRemoteWins Strategy = "remote-wins"
	StrategyLocalWins  Strategy = "local-wins"
	StrategyFieldMerge Strategy = "field-merge"
	StrategyAskUser    Strategy = "ask-user"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRemoteWins, StrategyLocalWins, StrategyFieldMerge, StrategyAskUser:
		return true
	}
	return false
}

// MergeFunc merges one field present on both sides. Implementations must
// be pure; the resolver's determinism guarantee extends to them.
type MergeFunc func(name string, local, remote models.Field) models.Field

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Strategy Strategy
	// Resolved is the entity the local store should hold. Its revision
	// is always the remote revision: the remote authority stays the
	// base for any follow-up operation.
	Resolved *models.Entity
	// Reapply means the resolved state differs from the remote snapshot
	// and must be transmitted as a new operation rebased on the remote
	// revision.
	Reapply bool
	// AwaitUser means no automatic decision was made; the item stays
	// conflicted until an explicit user decision arrives.
	AwaitUser bool
}

// Record captures one detected conflict for events and diagnostics.
// Discarded once resolved.
type Record struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Local      *models.Entity `json:"local"`
	Remote     *models.Entity `json:"remote"`
	DetectedAt time.Time      `json:"detected_at"`
	Strategy   Strategy       `json:"strategy"`
	Resolved   *models.Entity `json:"resolved,omitempty"`
}

// Registry configures the strategy per entity type. Default: remote-wins.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	mergeFns   map[string]MergeFunc
	fallback   Strategy
}

// NewRegistry creates a registry with remote-wins as the default.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		mergeFns:   make(map[string]MergeFunc),
		fallback:   StrategyRemoteWins,
	}
}

// SetDefault changes the fallback strategy.
func (r *Registry) SetDefault(s Strategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown strategy %q", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = s
	return nil
}

// SetStrategy assigns a strategy to one entity type.
func (r *Registry) SetStrategy(entityType string, s Strategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown strategy %q", s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[entityType] = s
	return nil
}

// SetMergeFunc installs a caller-supplied merge function for field-merge
// on one entity type.
func (r *Registry) SetMergeFunc(entityType string, fn MergeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeFns[entityType] = fn
}

// StrategyFor returns the configured strategy for an entity type.
func (r *Registry) StrategyFor(entityType string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[entityType]; ok {
		return s
	}
	return r.fallback
}

// Resolve decides the resolution for a local/remote divergence using the
// strategy configured for the entity's type.
func (r *Registry) Resolve(local, remote *models.Entity) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("resolve requires both snapshots")
	}

	strategy := r.StrategyFor(local.Type)
	r.mu.RLock()
	mergeFn := r.mergeFns[local.Type]
	r.mu.RUnlock()

	return resolveWith(strategy, mergeFn, local, remote)
}

// ResolveWith resolves with an explicit strategy, bypassing the per-type
// configuration. Manual conflict decisions arrive this way.
func (r *Registry) ResolveWith(strategy Strategy, local, remote *models.Entity) (*Resolution, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("resolve requires both snapshots")
	}
	r.mu.RLock()
	mergeFn := r.mergeFns[local.Type]
	r.mu.RUnlock()
	return resolveWith(strategy, mergeFn, local, remote)
}

func resolveWith(strategy Strategy, mergeFn MergeFunc, local, remote *models.Entity) (*Resolution, error) {
	switch strategy {
	case StrategyRemoteWins:
		return remoteWins(local, remote), nil
	case StrategyLocalWins:
		return localWins(local, remote), nil
	case StrategyFieldMerge:
		return fieldMerge(local, remote, mergeFn), nil
	case StrategyAskUser:
		return &Resolution{Strategy: StrategyAskUser, AwaitUser: true}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// remoteWins adopts the remote snapshot and keeps fields that exist only
// locally. Nothing is re-transmitted.
func remoteWins(local, remote *models.Entity) *Resolution {
	resolved := remote.Clone()
	if resolved.Fields == nil {
		resolved.Fields = make(map[string]models.Field)
	}
	for name, f := range local.Fields {
		if _, exists := resolved.Fields[name]; !exists {
			resolved.Fields[name] = cloneField(f)
		}
	}
	return &Resolution{Strategy: StrategyRemoteWins, Resolved: resolved}
}

// localWins re-applies the local change over the remote snapshot's other
// fields; the result must go back to the server as a new operation.
func localWins(local, remote *models.Entity) *Resolution {
	resolved := remote.Clone()
	if resolved.Fields == nil {
		resolved.Fields = make(map[string]models.Field)
	}
	for name, f := range local.Fields {
		resolved.Fields[name] = cloneField(f)
	}
	return &Resolution{Strategy: StrategyLocalWins, Resolved: resolved, Reapply: true}
}

// fieldMerge takes, per field present on both sides, the value with the
// newer field revision (remote on ties), or defers to mergeFn when
// supplied. Fields unique to either side are kept.
func fieldMerge(local, remote *models.Entity, mergeFn MergeFunc) *Resolution {
	resolved := remote.Clone()
	if resolved.Fields == nil {
		resolved.Fields = make(map[string]models.Field)
	}

	for name, lf := range local.Fields {
		rf, both := remote.Fields[name]
		switch {
		case !both:
			resolved.Fields[name] = cloneField(lf)
		case mergeFn != nil:
			resolved.Fields[name] = cloneField(mergeFn(name, cloneField(lf), cloneField(rf)))
		case lf.Revision.Newer(rf.Revision):
			resolved.Fields[name] = cloneField(lf)
		}
		// Otherwise the remote value from the clone stands.
	}

	reapply := !fieldsEqual(resolved.Fields, remote.Fields)
	return &Resolution{Strategy: StrategyFieldMerge, Resolved: resolved, Reapply: reapply}
}

func cloneField(f models.Field) models.Field {
	value := make([]byte, len(f.Value))
	copy(value, f.Value)
	return models.Field{Value: value, Revision: f.Revision}
}

func fieldsEqual(a, b map[string]models.Field) bool {
	if len(a) != len(b) {
		return false
	}
	for name, fa := range a {
		fb, ok := b[name]
		if !ok || fa.Revision != fb.Revision || !bytes.Equal(fa.Value, fb.Value) {
			return false
		}
	}
	return true
}
