package weave

import (
	"github.com/mayaframework/weave/internal/database"
	"github.com/mayaframework/weave/internal/interned"
)

// Interned declares a hash-consed value type V (spec.md §4.6): interning
// the same value twice returns the same stable Id, and the value never
// changes once allocated.
type Interned[V comparable] struct {
	db  *Database
	ing *interned.Ingredient[V]
}

// NewInterned declares a new interned type.
func NewInterned[V comparable](db *Database, name string) *Interned[V] {
	ing := database.RegisterInterned[V](db.inner, name)
	return &Interned[V]{db: db, ing: ing}
}

// Intern returns value's stable Id, allocating one on first sight.
func (i *Interned[V]) Intern(value V) Id {
	return i.ing.Intern(value, i.db.inner.Revisions().Current())
}

// Value returns the interned value for id, recording a tracked read
// against the whole table (interned values never change individually).
func (i *Interned[V]) Value(id Id) V {
	return i.ing.Value(id)
}

// Index returns this interned type's ingredient index.
func (i *Interned[V]) Index() Index { return i.ing.Index() }
