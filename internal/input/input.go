// Package input implements the input ingredient of spec.md §4.5: a table
// of externally-set field values, each carrying (value, durability,
// changed_at), with set_field requiring exclusive database access and
// bumping the revision counter when a write actually changes something.
package input

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
)

// Equals compares two field values for the no-op-write check in SetField.
// Defaults to reflect.DeepEqual when the caller doesn't supply one
// (matching the teacher's Signal, which defaults to "always update" for
// types it doesn't special-case, but weave defaults to structural equality
// since every declared field type here is meant to be comparable data).
type Equals func(a, b any) bool

func defaultEquals(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

type cell struct {
	value      any
	durability revision.Durability
	changedAt  revision.Revision
}

// Ingredient holds one declared input type's table: Id -> tuple of
// fields, each an independent (value, durability, changed_at) cell.
type Ingredient struct {
	idx       ingredient.Index
	alloc     *ids.Allocator
	numFields int
	equalsFns []Equals

	mu   sync.RWMutex
	rows map[ids.Id][]cell
}

// New constructs an input ingredient for a type with numFields fields.
// equalsFns may be nil (every field uses defaultEquals) or sized to
// numFields with individual nil entries falling back to defaultEquals.
func New(idx ingredient.Index, numFields int, equalsFns []Equals) *Ingredient {
	ing := &Ingredient{
		idx:       idx,
		alloc:     ids.NewAllocator(),
		numFields: numFields,
		equalsFns: make([]Equals, numFields),
		rows:      make(map[ids.Id][]cell),
	}
	for i := 0; i < numFields; i++ {
		if equalsFns != nil && i < len(equalsFns) && equalsFns[i] != nil {
			ing.equalsFns[i] = equalsFns[i]
		} else {
			ing.equalsFns[i] = defaultEquals
		}
	}
	return ing
}

func (ing *Ingredient) Index() ingredient.Index { return ing.idx }

// NewRow allocates a fresh Id and initializes every field to its zero
// value, stamped with the given durability and creation revision. Requires
// exclusive database access (it is only ever called from a setter path).
func (ing *Ingredient) NewRow(durability revision.Durability, createdAt revision.Revision) ids.Id {
	id := ing.alloc.Alloc()
	row := make([]cell, ing.numFields)
	for i := range row {
		row[i] = cell{durability: durability, changedAt: createdAt}
	}
	ing.mu.Lock()
	ing.rows[id] = row
	ing.mu.Unlock()
	return id
}

// SetResult tells the caller (the database façade, which owns the revision
// counter) whether this write actually changed anything and, if so, at
// what durability it must bump the revision.
type SetResult struct {
	Changed bool
	BumpAt  revision.Durability
}

// SetField requires exclusive database access. It compares newValue
// against the stored value with field-specific equality; if equal and
// durability unchanged, it is a no-op (spec.md §9 open question (a)).
// Otherwise it writes the new value, stamps changed_at = now, and reports
// that the caller must bump at min(old_durability, new_durability).
func (ing *Ingredient) SetField(id ids.Id, field int, newValue any, newDurability revision.Durability, now revision.Revision) SetResult {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	row, ok := ing.rows[id]
	if !ok {
		panic(fmt.Sprintf("input: SetField on unknown id %s", id))
	}
	c := row[field]
	if ing.equalsFns[field](c.value, newValue) && c.durability == newDurability {
		return SetResult{Changed: false}
	}

	bumpAt := newDurability
	if c.durability < bumpAt {
		bumpAt = c.durability
	}
	row[field] = cell{value: newValue, durability: newDurability, changedAt: now}
	return SetResult{Changed: true, BumpAt: bumpAt}
}

// Field reads field of id and reports a tracked read on the calling
// thread's active query frame (spec.md §4.5, "Reads invoke
// report_tracked_read on the currently active frame").
func (ing *Ingredient) Field(id ids.Id, field int) any {
	ing.mu.RLock()
	row, ok := ing.rows[id]
	if !ok {
		ing.mu.RUnlock()
		panic(fmt.Sprintf("input: Field read on unknown id %s", id))
	}
	c := row[field]
	ing.mu.RUnlock()

	runtime.ReportTrackedRead(ingredient.ForId(ing.idx, id), c.durability, c.changedAt)
	return c.value
}

// MaybeChangedAfter implements ingredient.Ingredient. Input dependencies
// are recorded at row granularity (DependencyIndex carries no per-field
// slot), so this reports true if ANY field of the row changed after rev.
func (ing *Ingredient) MaybeChangedAfter(dep ingredient.DependencyIndex, rev revision.Revision) bool {
	ing.mu.RLock()
	defer ing.mu.RUnlock()

	if dep.IsTable() {
		for _, row := range ing.rows {
			for _, c := range row {
				if c.changedAt > rev {
					return true
				}
			}
		}
		return false
	}
	row, ok := ing.rows[dep.Id]
	if !ok {
		return true
	}
	for _, c := range row {
		if c.changedAt > rev {
			return true
		}
	}
	return false
}

// MarkValidatedOutput is a no-op: inputs are never produced as the output
// of a tracked function, so nothing ever calls this on an input ingredient
// in practice, but it must exist to satisfy ingredient.Ingredient.
func (ing *Ingredient) MarkValidatedOutput(ingredient.DatabaseKeyIndex, ids.Id) {}

// RemoveStaleOutput is a no-op for the same reason as MarkValidatedOutput.
func (ing *Ingredient) RemoveStaleOutput(ingredient.DatabaseKeyIndex, ids.Id) {}

func (ing *Ingredient) FmtIndex(id ids.Id) string {
	return id.String()
}
