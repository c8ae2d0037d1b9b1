// Package database implements the storage façade of spec.md §4.10: the
// single owner of the ingredient registry, the revision counter, the
// cross-thread wait-for graph, and the event hook, exposing shared
// (read/query) and exclusive (write) access the way the teacher's top
// level maya.go owns its Signal/Memo/Effect registries and batching state.
package database

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mayaframework/weave/internal/depgraph"
	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/function"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/input"
	"github.com/mayaframework/weave/internal/interned"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
	"github.com/mayaframework/weave/internal/trackedstruct"
	"github.com/mayaframework/weave/internal/werr"
	"github.com/mayaframework/weave/internal/wlog"
)

// Database owns every ingredient table plus the revision/graph/event state
// shared across them (spec.md §4.10). The zero value is not usable; build
// one with New.
type Database struct {
	id uuid.UUID

	registry  *ingredient.Registry
	revisions *revision.Counter
	depGraph  *depgraph.Graph
	events    event.Hook

	access    sync.RWMutex // shared (read) / exclusive (write) borrow, spec.md invariant 1
	cancelled atomic.Bool

	mu         sync.Mutex
	dependents map[ingredient.Index][]*function.Ingredient // struct ingredient index -> functions keyed by it
}

// Option configures a Database at construction.
type Option func(*Database)

// WithEventHook installs a hook invoked for every event.Event the engine
// emits (spec.md §6). Events are also opportunistically mirrored to wlog
// regardless of whether a hook is installed.
func WithEventHook(hook event.Hook) Option {
	return func(db *Database) { db.events = hook }
}

// New constructs an empty database, ready to have ingredients registered
// against it.
func New(opts ...Option) *Database {
	db := &Database{
		id:         uuid.New(),
		registry:   ingredient.NewRegistry(),
		revisions:  revision.NewCounter(),
		depGraph:   depgraph.New(),
		dependents: make(map[ingredient.Index][]*function.Ingredient),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// ID returns the database's process-unique identity. The engine does not
// attach it to log lines or events.
func (db *Database) ID() uuid.UUID { return db.id }

const logCategory = "ENGINE"

func (db *Database) emit(e event.Event) {
	wlog.Trace(logCategory, wlog.Fields{"event": e.Kind.String(), "key": e.Key.String()}, "event")
	if db.events != nil {
		db.events(e)
	}
}

// Cancel raises the cancellation flag: every Fetch that starts afterwards
// unwinds with werr.Cancelled (spec.md §4.9, §7). Cancel does not wake a
// Fetch already blocked on another goroutine's claim; that Fetch observes
// the flag when a released claim next wakes it.
func (db *Database) Cancel() {
	db.cancelled.Store(true)
	db.emit(event.SetCancellationFlag())
}

// ResetCancellation clears the flag, e.g. before reusing a database handle
// for a fresh top-level call after a prior one was cancelled.
func (db *Database) ResetCancellation() { db.cancelled.Store(false) }

func (db *Database) isCancelled() bool { return db.cancelled.Load() }

// Registry exposes the underlying ingredient registry for ingredients
// that need to look up dependencies by index (mirrors spec.md §4.3).
func (db *Database) Registry() *ingredient.Registry { return db.registry }

// Revisions exposes the revision counter.
func (db *Database) Revisions() *revision.Counter { return db.revisions }

// Attach associates db with the calling goroutine for the dynamic extent
// of a top-level call, then detaches it when fn returns, even if fn
// panics. A re-entrant Attach of the same database leaves the outer
// call's attachment in place.
func (db *Database) Attach(fn func()) {
	fresh := runtime.AttachedDB() == nil
	runtime.Attach(db)
	if fresh {
		defer runtime.Detach()
	}
	fn()
}

// ReadAccess takes a shared borrow on db for the duration of fn: any
// number of goroutines may hold this concurrently (spec.md invariant 1's
// "any number of readers"), but WriteAccess waits for all of them to
// finish before proceeding.
func (db *Database) ReadAccess(fn func()) {
	db.access.RLock()
	defer db.access.RUnlock()
	fn()
}

// WriteAccess takes the exclusive borrow required by every input setter.
// Per spec.md §4.10/§5, obtaining exclusive access IS raising the cancel
// flag and waiting for every outstanding shared handle to drop: raising
// it here is what lets in-flight Fetch calls observe "a writer wants in"
// and unwind cooperatively instead of running to natural completion.
// Once the exclusive lock is acquired, the flag is cleared again (unless
// some other caller had already raised it via Cancel, in which case that
// caller's intent is left alone) so fn can call Fetch without every read
// immediately unwinding as cancelled.
func (db *Database) WriteAccess(fn func()) {
	alreadyCancelled := db.cancelled.Swap(true)
	if !alreadyCancelled {
		db.emit(event.SetCancellationFlag())
	}
	db.access.Lock()
	defer db.access.Unlock()
	if !alreadyCancelled {
		db.cancelled.Store(false)
	}
	fn()
}

// SyntheticWrite performs spec.md's "synthetic write": it bumps the
// revision counter at durability d without any real input changing,
// forcing re-validation of everything at or below d on the next query.
// Must be called under WriteAccess.
func (db *Database) SyntheticWrite(d revision.Durability) revision.Revision {
	return db.revisions.Synthetic(d)
}

// RegisterInput declares a new input ingredient type.
func RegisterInput(db *Database, name string, numFields int, equalsFns []input.Equals) *input.Ingredient {
	var ing *input.Ingredient
	db.registry.Register(name, func(idx ingredient.Index) ingredient.Ingredient {
		ing = input.New(idx, numFields, equalsFns)
		return ing
	})
	return ing
}

// RegisterInterned declares a new interned value type V. Go forbids
// generic methods, so this is a package-level function rather than a
// Database method (the same shape the teacher's generic Signal[T]
// constructor uses at call sites).
func RegisterInterned[V comparable](db *Database, name string) *interned.Ingredient[V] {
	var ing *interned.Ingredient[V]
	db.registry.Register(name, func(idx ingredient.Index) ingredient.Ingredient {
		ing = interned.New[V](idx, db.emit)
		return ing
	})
	return ing
}

// RegisterTrackedStruct declares a new tracked-struct type. cfg.OnRemoved
// and cfg.OnEvent are overwritten: cascade delete is wired automatically
// to every function ingredient later registered as KeyedBy this struct's
// ingredient index, and events flow through the database's own hook.
func RegisterTrackedStruct(db *Database, name string, cfg trackedstruct.Config) *trackedstruct.Ingredient {
	var ing *trackedstruct.Ingredient
	db.registry.Register(name, func(idx ingredient.Index) ingredient.Ingredient {
		cfg.OnEvent = db.emit
		cfg.OnRemoved = func(id ids.Id) {
			db.mu.Lock()
			fns := append([]*function.Ingredient(nil), db.dependents[idx]...)
			db.mu.Unlock()
			executor := ingredient.DatabaseKeyIndex{Ingredient: idx, Id: id}
			for _, fn := range fns {
				fn.RemoveStaleOutput(executor, id)
			}
		}
		ing = trackedstruct.New(idx, cfg)
		return ing
	})
	return ing
}

// RegisterFunction declares a new tracked function. keyedBy names the
// tracked-struct ingredients (if any) whose ids this function is called
// with, so RemoveStaleOutput is cascaded to it when one of those structs
// is deleted (spec.md §4.7 invariant 6).
func RegisterFunction(db *Database, name string, cfg function.Config, keyedBy ...ingredient.Index) *function.Ingredient {
	cfg.Registry = db.registry
	cfg.Revisions = db.revisions
	cfg.DepGraph = db.depGraph
	cfg.Events = db.emit
	cfg.Cancelled = db.isCancelled

	var fn *function.Ingredient
	db.registry.Register(name, func(idx ingredient.Index) ingredient.Ingredient {
		fn = function.New(idx, cfg)
		return fn
	})

	db.mu.Lock()
	for _, structIdx := range keyedBy {
		db.dependents[structIdx] = append(db.dependents[structIdx], fn)
	}
	db.mu.Unlock()
	return fn
}

// IsCancelledError reports whether err unwound from a Fetch because this
// database's cancellation flag was raised.
func IsCancelledError(err error) bool { return werr.IsCancelled(err) }
