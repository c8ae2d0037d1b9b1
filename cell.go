package weave

import (
	"github.com/mayaframework/weave/internal/database"
	"github.com/mayaframework/weave/internal/input"
)

// Cell declares one input type with a single field of type T (spec.md
// §4.5). Multi-field inputs are unusual enough in practice that weave only
// gives the common single-field case a typed wrapper; a multi-field
// input can still be declared directly against internal/input.
type Cell[T any] struct {
	db  *Database
	ing *input.Ingredient
}

// NewCell declares a new input type. equals overrides the default
// reflect.DeepEqual comparison SetField uses to detect a no-op write
// (spec.md §9 open question (a)); pass nil to keep the default.
func NewCell[T any](db *Database, name string, equals func(a, b T) bool) *Cell[T] {
	var eq input.Equals
	if equals != nil {
		eq = func(a, b any) bool {
			// A fresh row's field holds nil until New stores its first value.
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return equals(a.(T), b.(T))
		}
	}
	ing := database.RegisterInput(db.inner, name, 1, []input.Equals{eq})
	return &Cell[T]{db: db, ing: ing}
}

// New allocates a fresh cell holding value at the given durability. Must be
// called under WriteAccess.
func (c *Cell[T]) New(value T, durability Durability) Id {
	now := c.db.inner.Revisions().Current()
	id := c.ing.NewRow(durability, now)
	c.apply(id, value, durability, now)
	return id
}

// Set overwrites an existing cell's value. A no-op (per the configured
// equals) leaves the revision untouched; otherwise the database's
// revision counter is bumped at min(old durability, durability). Must be
// called under WriteAccess.
func (c *Cell[T]) Set(id Id, value T, durability Durability) {
	now := c.db.inner.Revisions().Current()
	c.apply(id, value, durability, now)
}

func (c *Cell[T]) apply(id Id, value T, durability Durability, now Revision) {
	// A changed field is stamped with the revision the bump below moves to
	// (now+1, under exclusive access), so memos verified at now see it as
	// changed after their verified_at.
	res := c.ing.SetField(id, 0, value, durability, now+1)
	if res.Changed {
		c.db.inner.Revisions().Bump(res.BumpAt)
	}
}

// Get reads the cell's current value, recording a tracked read against the
// calling thread's active query, if any.
func (c *Cell[T]) Get(id Id) T {
	return c.ing.Field(id, 0).(T)
}

// Index returns this cell type's ingredient index.
func (c *Cell[T]) Index() Index { return c.ing.Index() }
