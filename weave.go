// Package weave is an incremental recomputation engine: declare inputs,
// interned values, tracked structs, and tracked functions against a
// Database, and the engine memoizes every tracked function call, replaying
// only the calls whose dependencies actually changed between revisions.
//
// The internal/ packages implement each component against the engine's
// own untyped (ids.Id, any) vocabulary; this package is the typed surface
// applications are meant to import, mirroring the generic Signal[T]/
// TextSignal[T] constructors the engine's reactive ancestor exposed at its
// own package root.
package weave

import (
	"github.com/mayaframework/weave/internal/database"
	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
	"github.com/mayaframework/weave/internal/werr"
)

// Re-exported vocabulary so application code never needs to import an
// internal/ package directly.
type (
	Id         = ids.Id
	Index      = ingredient.Index
	Revision   = revision.Revision
	Durability = revision.Durability
	Event      = event.Event
	Hook       = event.Hook
)

const (
	Low    = revision.Low
	Medium = revision.Medium
	High   = revision.High
)

// Database is the engine's storage façade (spec.md §4.10): the single
// owner of every declared ingredient's table, the revision counter, the
// cross-thread wait-for graph, and the event hook.
type Database struct {
	inner *database.Database
}

// Option configures a Database at construction time.
type Option = database.Option

// WithEventHook installs a hook invoked synchronously for every Event the
// engine emits (spec.md §6). Installing a hook does not disable the
// engine's own wlog tracing; both fire.
func WithEventHook(hook Hook) Option {
	return database.WithEventHook(hook)
}

// NewDatabase constructs an empty database, ready to have ingredients
// declared against it with NewCell, NewInterned, NewTrackedStruct, and
// NewFunction.
func NewDatabase(opts ...Option) *Database {
	return &Database{inner: database.New(opts...)}
}

// ID returns the database's process-unique identity. The engine does not
// attach it to log lines or events.
func (db *Database) ID() string { return db.inner.ID().String() }

// Cancel raises the cancellation flag: every Fetch that starts afterwards,
// including nested Fetch calls made by a query already running, unwinds
// with an error satisfying IsCancelled. A Fetch already blocked on another
// goroutine's claim observes the flag only when a released claim wakes it.
func (db *Database) Cancel() { db.inner.Cancel() }

// ResetCancellation clears the flag raised by Cancel.
func (db *Database) ResetCancellation() { db.inner.ResetCancellation() }

// Attach associates db with the calling goroutine for the dynamic extent
// of fn, so ingredient hooks like FmtIndex can reach it without an
// explicit parameter at every call site. Re-entrant for the same database.
func (db *Database) Attach(fn func()) { db.inner.Attach(fn) }

// ReadAccess takes a shared borrow on db: any number of goroutines may
// hold this concurrently, but WriteAccess waits for all of them to return.
// Tracked function Fetch calls belong here.
func (db *Database) ReadAccess(fn func()) { db.inner.ReadAccess(fn) }

// WriteAccess takes the exclusive borrow every input setter requires.
func (db *Database) WriteAccess(fn func()) { db.inner.WriteAccess(fn) }

// SyntheticWrite bumps the revision counter at durability d without any
// real input changing, forcing re-validation of everything at or below d
// on the next query. Must be called from within WriteAccess.
func (db *Database) SyntheticWrite(d Durability) Revision {
	return db.inner.SyntheticWrite(d)
}

// Current returns the current revision.
func (db *Database) Current() Revision { return db.inner.Revisions().Current() }

// Backtrace returns the calling goroutine's active query stack, bottom to
// top, as a debugging aid (spec.md §6, "capture a backtrace of the current
// query stack").
func Backtrace() []DatabaseKeyIndex {
	trace := runtime.Backtrace()
	out := make([]DatabaseKeyIndex, len(trace))
	for i, k := range trace {
		out[i] = DatabaseKeyIndex(k)
	}
	return out
}

// DatabaseKeyIndex names one concrete tracked-function call site, e.g.
// F(k).
type DatabaseKeyIndex = ingredient.DatabaseKeyIndex

// IsCancelled reports whether err unwound from a Fetch because a
// database's cancellation flag was raised.
func IsCancelled(err error) bool { return werr.IsCancelled(err) }

// AsCycle extracts the cycle-participant list from err if it is a cycle
// error (spec.md §7).
func AsCycle(err error) ([]werr.DatabaseKey, bool) { return werr.AsCycle(err) }
