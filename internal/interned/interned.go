// Package interned implements the interned ingredient of spec.md §4.6: a
// hash-consed value table keyed by Go's native map equality (so any
// comparable value can be interned without a hand-rolled hash function),
// with stable identity across revisions for as long as the value remains
// reachable from a memo verified in the current revision.
package interned

import (
	"sync"

	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
)

// changedAtConst is the fixed changed_at an interned field read reports:
// an interned value, once allocated, never changes, so there is no real
// revision to report and the spec pins this to 1 (the oldest possible
// revision, meaning "always valid").
const changedAtConst = revision.Revision(1)

type entry[V comparable] struct {
	value           V
	firstInternedIn revision.Revision
	lastInternedIn  revision.Revision
}

// Ingredient is a hash-consed table for one declared interned type V.
type Ingredient[V comparable] struct {
	idx     ingredient.Index
	alloc   *ids.Allocator
	onEvent event.Hook

	mu      sync.Mutex
	byValue map[V]ids.Id
	byId    map[ids.Id]*entry[V]
}

// New constructs an interned ingredient. onEvent may be nil.
func New[V comparable](idx ingredient.Index, onEvent event.Hook) *Ingredient[V] {
	return &Ingredient[V]{
		idx:     idx,
		alloc:   ids.NewAllocator(),
		onEvent: onEvent,
		byValue: make(map[V]ids.Id),
		byId:    make(map[ids.Id]*entry[V]),
	}
}

func (ing *Ingredient[V]) Index() ingredient.Index { return ing.idx }

// Intern hashes value (via Go's map equality) and returns its stable Id,
// allocating a fresh one on first sight (spec.md §4.6 steps 1-3).
func (ing *Ingredient[V]) Intern(value V, current revision.Revision) ids.Id {
	ing.mu.Lock()
	if id, ok := ing.byValue[value]; ok {
		e := ing.byId[id]
		reinterned := e.lastInternedIn != current
		e.lastInternedIn = current
		ing.mu.Unlock()

		if reinterned && ing.onEvent != nil {
			ing.onEvent(event.ReinternValue(ing.idx, id, current))
		}
		return id
	}

	id := ing.alloc.Alloc()
	ing.byId[id] = &entry[V]{value: value, firstInternedIn: current, lastInternedIn: current}
	ing.byValue[value] = id
	ing.mu.Unlock()

	if ing.onEvent != nil {
		ing.onEvent(event.InternValue(ing.idx, id, current))
	}
	return id
}

// Value returns the interned value for id and reports a tracked read
// against the whole table with durability HIGH and changed_at = 1, since
// an interned value never changes once allocated (spec.md §4.6).
func (ing *Ingredient[V]) Value(id ids.Id) V {
	ing.mu.Lock()
	e, ok := ing.byId[id]
	ing.mu.Unlock()
	if !ok {
		panic("interned: Value on unknown id")
	}

	runtime.ReportTrackedRead(ingredient.ForTable(ing.idx), revision.High, changedAtConst)
	return e.value
}

// MaybeChangedAfter always reports false: interned values are immutable
// once allocated, so no interned dependency ever invalidates a memo.
func (ing *Ingredient[V]) MaybeChangedAfter(ingredient.DependencyIndex, revision.Revision) bool {
	return false
}

func (ing *Ingredient[V]) MarkValidatedOutput(ingredient.DatabaseKeyIndex, ids.Id) {}

func (ing *Ingredient[V]) RemoveStaleOutput(ingredient.DatabaseKeyIndex, ids.Id) {}

func (ing *Ingredient[V]) FmtIndex(id ids.Id) string {
	return id.String()
}
