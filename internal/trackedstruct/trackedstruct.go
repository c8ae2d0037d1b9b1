// Package trackedstruct implements the tracked-struct ingredient of
// spec.md §4.7: identity-bearing derived values created inside queries,
// with per-field revision stamps, durability, a disambiguator so repeated
// creations with equal id-fields inside one query get distinct identities,
// and cascade delete when a query stops re-creating a struct it used to
// produce.
package trackedstruct

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
	"github.com/mayaframework/weave/internal/werr"
)

// Equals is the per-field update predicate: it fires (the field is
// considered changed) when it returns false. Defaults to "!=" via
// reflect.DeepEqual when the caller doesn't override a field.
type Equals func(old, new any) bool

func defaultEquals(a, b any) bool { return reflect.DeepEqual(a, b) }

type identityKey struct {
	creator  ingredient.DatabaseKeyIndex
	hash     uint64
	disambig uint32
}

type fieldCell struct {
	value     any
	changedAt revision.Revision
}

type row struct {
	identity   identityKey
	creator    ingredient.DatabaseKeyIndex
	createdAt  revision.Revision
	durability revision.Durability
	fields     []fieldCell
	lateSet    []bool
}

// Ingredient holds one declared tracked-struct type's table.
type Ingredient struct {
	idx        ingredient.Index
	alloc      *ids.Allocator
	numFields  int
	tracked    []bool // per-field: true if it has its own changed_at stamp
	late       []bool // per-field: true if write-once after construction
	equalsFns  []Equals
	onRemoved  func(ids.Id) // notifies every function ingredient to drop memos keyed on this id
	onEvent    event.Hook

	mu         sync.RWMutex
	rows       map[ids.Id]*row
	byIdentity map[identityKey]ids.Id
}

// Config describes one declared tracked-struct type's field layout.
type Config struct {
	NumFields int
	Tracked   []bool  // nil means every field is tracked
	Late      []bool  // nil means no field is late
	Equals    []Equals // nil entries fall back to defaultEquals
	OnRemoved func(ids.Id)
	OnEvent   event.Hook
}

// New constructs a tracked-struct ingredient per cfg.
func New(idx ingredient.Index, cfg Config) *Ingredient {
	ing := &Ingredient{
		idx:       idx,
		alloc:     ids.NewAllocator(),
		numFields: cfg.NumFields,
		tracked:   make([]bool, cfg.NumFields),
		late:      make([]bool, cfg.NumFields),
		equalsFns: make([]Equals, cfg.NumFields),
		onRemoved: cfg.OnRemoved,
		onEvent:   cfg.OnEvent,
		rows:        make(map[ids.Id]*row),
		byIdentity:  make(map[identityKey]ids.Id),
	}
	for i := 0; i < cfg.NumFields; i++ {
		ing.tracked[i] = cfg.Tracked == nil || (i < len(cfg.Tracked) && cfg.Tracked[i])
		if cfg.Late != nil && i < len(cfg.Late) {
			ing.late[i] = cfg.Late[i]
		}
		if cfg.Equals != nil && i < len(cfg.Equals) && cfg.Equals[i] != nil {
			ing.equalsFns[i] = cfg.Equals[i]
		} else {
			ing.equalsFns[i] = defaultEquals
		}
	}
	return ing
}

func (ing *Ingredient) Index() ingredient.Index { return ing.idx }

// GetOrCreate implements spec.md §4.7 steps 1-6. creator must be the
// DatabaseKeyIndex of the currently active query Q; durability must be
// Q's durability-so-far. It stamps every changed tracked field with now,
// leaves unchanged tracked fields at their prior stamp, and registers id
// as an output of Q on the calling thread's active-query frame.
func (ing *Ingredient) GetOrCreate(creator ingredient.DatabaseKeyIndex, idFieldsHash uint64, disambig uint32, values []any, durability revision.Durability, now revision.Revision) ids.Id {
	key := identityKey{creator: creator, hash: idFieldsHash, disambig: disambig}

	ing.mu.Lock()
	id, existed := ing.byIdentity[key]
	var r *row
	if existed {
		r = ing.rows[id]
		for i, v := range values {
			if !ing.equalsFns[i](r.fields[i].value, v) {
				r.fields[i] = fieldCell{value: v, changedAt: now}
			} else {
				r.fields[i].value = v
			}
		}
		r.durability = durability
		r.createdAt = now
	} else {
		id = ing.alloc.Alloc()
		fields := make([]fieldCell, len(values))
		for i, v := range values {
			fields[i] = fieldCell{value: v, changedAt: now}
		}
		r = &row{
			identity:   key,
			creator:    creator,
			createdAt:  now,
			durability: durability,
			fields:     fields,
			lateSet:    make([]bool, ing.numFields),
		}
		ing.rows[id] = r
		ing.byIdentity[key] = id
	}
	ing.mu.Unlock()

	runtime.ReportOutput(ingredient.ForId(ing.idx, id), id)
	return id
}

// Field reads a field's value and reports a tracked read with that
// field's own changed_at (or the struct's created_at, for an untracked
// field) and the struct's durability.
func (ing *Ingredient) Field(id ids.Id, field int) any {
	ing.mu.RLock()
	r, ok := ing.rows[id]
	if !ok {
		ing.mu.RUnlock()
		panic(fmt.Sprintf("trackedstruct: Field read on unknown id %s", id))
	}
	v := r.fields[field].value
	changedAt := r.fields[field].changedAt
	if !ing.tracked[field] {
		changedAt = r.createdAt
	}
	durability := r.durability
	ing.mu.RUnlock()

	runtime.ReportTrackedRead(ingredient.ForId(ing.idx, id), durability, changedAt)
	return v
}

// SetLateField assigns a write-once field after construction. Setting it
// twice, or setting it from a query other than the one that created the
// struct, is a usage error (spec.md §4.7, "Late fields").
func (ing *Ingredient) SetLateField(id ids.Id, field int, value any, setter ingredient.DatabaseKeyIndex, now revision.Revision) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	r, ok := ing.rows[id]
	if !ok {
		panic(werr.Usage("trackedstruct: SetLateField on unknown id %s", id))
	}
	if !ing.late[field] {
		panic(werr.Usage("trackedstruct: field %d of %s is not declared late", field, id))
	}
	if r.creator != setter {
		panic(werr.Usage("trackedstruct: late field of %s may only be set by its creating query", id))
	}
	if r.lateSet[field] {
		panic(werr.Usage("trackedstruct: late field %d of %s already set", field, id))
	}

	r.fields[field] = fieldCell{value: value, changedAt: now}
	r.lateSet[field] = true
}

// MaybeChangedAfter reports whether any tracked field of id (or, for
// dep.IsTable(), of any row) has changed_at > rev, or whether an
// untracked field's shared created_at stamp is > rev.
func (ing *Ingredient) MaybeChangedAfter(dep ingredient.DependencyIndex, rev revision.Revision) bool {
	ing.mu.RLock()
	defer ing.mu.RUnlock()

	if dep.IsTable() {
		for _, r := range ing.rows {
			if ing.rowChangedAfter(r, rev) {
				return true
			}
		}
		return false
	}
	r, ok := ing.rows[dep.Id]
	if !ok {
		return true // deleted: conservatively report "changed" (consumer must re-check)
	}
	return ing.rowChangedAfter(r, rev)
}

func (ing *Ingredient) rowChangedAfter(r *row, rev revision.Revision) bool {
	hasUntracked := false
	for i, f := range r.fields {
		if !ing.tracked[i] {
			hasUntracked = true
			continue
		}
		if f.changedAt > rev {
			return true
		}
	}
	return hasUntracked && r.createdAt > rev
}

// MarkValidatedOutput is a no-op here: a tracked struct's liveness is
// governed entirely by whether its creating query re-produces it
// (RemoveStaleOutput), not by a separate validation stamp.
func (ing *Ingredient) MarkValidatedOutput(ingredient.DatabaseKeyIndex, ids.Id) {}

// RemoveStaleOutput deletes id and, per spec.md invariant 6, cascades the
// deletion to every function ingredient's memos keyed on it.
func (ing *Ingredient) RemoveStaleOutput(executor ingredient.DatabaseKeyIndex, id ids.Id) {
	ing.mu.Lock()
	r, ok := ing.rows[id]
	if !ok {
		ing.mu.Unlock()
		return
	}
	delete(ing.rows, id)
	delete(ing.byIdentity, r.identity)
	ing.alloc.Free(id)
	ing.mu.Unlock()

	if ing.onEvent != nil {
		ing.onEvent(event.DiscardStaleOutput(executor, ingredient.DatabaseKeyIndex{Ingredient: ing.idx, Id: id}))
	}
	if ing.onRemoved != nil {
		ing.onRemoved(id)
	}
	if ing.onEvent != nil {
		ing.onEvent(event.Discard(ingredient.DatabaseKeyIndex{Ingredient: ing.idx, Id: id}))
	}
}

func (ing *Ingredient) FmtIndex(id ids.Id) string {
	return id.String()
}
