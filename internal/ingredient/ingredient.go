// Package ingredient defines the identifiers and the polymorphic interface
// shared by every declared entity kind (input, interned, tracked struct,
// tracked function), and the registry that maps an IngredientIndex to its
// concrete ingredient (spec.md §4.3, §6).
package ingredient

import (
	"fmt"
	"sync"

	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/werr"
)

// Index is a 32-bit tag assigned at registration time, identifying one
// ingredient.
type Index uint32

// Id re-exports ids.Id so callers of this package don't need to import
// internal/ids separately.
type Id = ids.Id

// DatabaseKeyIndex identifies one concrete call site, e.g. F(k) for some
// interned argument id.
type DatabaseKeyIndex struct {
	Ingredient Index
	Id         Id
}

func (k DatabaseKeyIndex) String() string {
	return fmt.Sprintf("DatabaseKeyIndex{ingredient=%d, id=%s}", k.Ingredient, k.Id)
}

// ToWerr adapts a DatabaseKeyIndex to werr.DatabaseKey for error reporting
// (werr can't import this package, since this package's ingredients
// construct werr errors).
func (k DatabaseKeyIndex) ToWerr() werr.DatabaseKey {
	return werr.DatabaseKey{IngredientIndex: uint32(k.Ingredient), Id: uint32(k.Id)}
}

// DependencyIndex identifies a table (Id == ids.NoId, meaning "the whole
// table", used for interned/input tables that are only invalidated
// wholesale) or a specific row within a table.
type DependencyIndex struct {
	Ingredient Index
	Id         Id // ids.NoId means "whole table"
}

// ForTable returns a DependencyIndex that names an entire ingredient's
// table rather than one row.
func ForTable(idx Index) DependencyIndex {
	return DependencyIndex{Ingredient: idx, Id: ids.NoId}
}

// ForId returns a DependencyIndex naming one row of an ingredient's table.
func ForId(idx Index, id Id) DependencyIndex {
	return DependencyIndex{Ingredient: idx, Id: id}
}

func (d DependencyIndex) IsTable() bool { return d.Id == ids.NoId }

func (d DependencyIndex) String() string {
	if d.IsTable() {
		return fmt.Sprintf("DependencyIndex{ingredient=%d, *}", d.Ingredient)
	}
	return fmt.Sprintf("DependencyIndex{ingredient=%d, id=%s}", d.Ingredient, d.Id)
}

// EdgeKind distinguishes input edges (everything a memo read) from output
// edges (tracked structs a memo created, or functions it specified).
type EdgeKind int

const (
	Input EdgeKind = iota
	Output
)

// Ingredient is the capability set every declared entity kind must
// implement so the registry can dispatch to it polymorphically given only
// a DatabaseKeyIndex/DependencyIndex (spec.md §4.3, §6). Each kind is a
// disjoint variant — input, interned, tracked-struct, function — not a
// hierarchy.
type Ingredient interface {
	// Index returns this ingredient's own registered index.
	Index() Index

	// MaybeChangedAfter reports whether the row (or, for Id == NoId, any
	// row in the whole table) named by dep could have changed after rev.
	// "Could have" because some ingredients (interned tables) only know
	// coarse per-table bounds.
	MaybeChangedAfter(dep DependencyIndex, rev revision.Revision) bool

	// MarkValidatedOutput records that id, previously produced as an
	// output of executor, is still valid as of the current revision (so
	// it survives revision-boundary cascade cleanup).
	MarkValidatedOutput(executor DatabaseKeyIndex, id Id)

	// RemoveStaleOutput deletes id (previously produced by executor but
	// not re-produced this revision) and cascades the deletion to
	// anything keyed on it.
	RemoveStaleOutput(executor DatabaseKeyIndex, id Id)

	// FmtIndex renders id for debugging/cycle-participant messages.
	FmtIndex(id Id) string
}

// Registry maps each registered ingredient's Index to its Ingredient
// implementation plus routing, so that calls arriving with only a
// DatabaseKeyIndex/DependencyIndex can be dispatched without a type switch
// at every call site.
type Registry struct {
	mu         sync.RWMutex
	byIndex    []Ingredient
	nameByIdx  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns the next free Index to ing and returns it. Called once
// per declared entity at database construction.
func (r *Registry) Register(name string, build func(Index) Ingredient) Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := Index(len(r.byIndex))
	ing := build(idx)
	r.byIndex = append(r.byIndex, ing)
	r.nameByIdx = append(r.nameByIdx, name)
	return idx
}

// Get returns the ingredient registered at idx.
func (r *Registry) Get(idx Index) Ingredient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.byIndex) {
		return nil
	}
	return r.byIndex[idx]
}

// Name returns the declared name of the ingredient at idx, for logging.
func (r *Registry) Name(idx Index) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.nameByIdx) {
		return "?"
	}
	return r.nameByIdx[idx]
}

// MaybeChangedAfter routes to the ingredient named by dep.Ingredient.
func (r *Registry) MaybeChangedAfter(dep DependencyIndex, rev revision.Revision) bool {
	ing := r.Get(dep.Ingredient)
	if ing == nil {
		return true // unknown ingredient: conservatively assume changed
	}
	return ing.MaybeChangedAfter(dep, rev)
}

// RemoveStaleOutput routes to the ingredient that owns id.
func (r *Registry) RemoveStaleOutput(executor DatabaseKeyIndex, target DatabaseKeyIndex) {
	ing := r.Get(target.Ingredient)
	if ing == nil {
		return
	}
	ing.RemoveStaleOutput(executor, target.Id)
}

// MarkValidatedOutput routes to the ingredient that owns id.
func (r *Registry) MarkValidatedOutput(executor DatabaseKeyIndex, target DatabaseKeyIndex) {
	ing := r.Get(target.Ingredient)
	if ing == nil {
		return
	}
	ing.MarkValidatedOutput(executor, target.Id)
}

// FmtIndex renders a DatabaseKeyIndex for debugging by routing to the
// owning ingredient's FmtIndex.
func (r *Registry) FmtIndex(key DatabaseKeyIndex) string {
	ing := r.Get(key.Ingredient)
	if ing == nil {
		return key.String()
	}
	return fmt.Sprintf("%s(%s)", r.Name(key.Ingredient), ing.FmtIndex(key.Id))
}
