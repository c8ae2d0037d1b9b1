package weave

import (
	"github.com/mayaframework/weave/internal/database"
	"github.com/mayaframework/weave/internal/function"
)

// CycleStrategy selects how a tracked function recovers from a dependency
// cycle (spec.md §4.8.6).
type CycleStrategy = function.CycleStrategy

const (
	CyclePanic           = function.CyclePanic
	CycleFallback        = function.CycleFallback
	CycleFixpointIterate = function.CycleFixpointIterate
)

// RecoverAction is returned by a FunctionConfig.Recover callback during
// cycle iteration.
type RecoverAction = function.RecoverAction

const (
	Iterate   = function.Iterate
	Converged = function.Converged
)

// FunctionConfig configures one declared tracked function of result type
// V (spec.md §4.8).
type FunctionConfig[V any] struct {
	// Compute runs the function body for key. It may call Fetch on other
	// Function handles, read Cell/Interned/TrackedStruct values, and call
	// GetOrCreate on a TrackedStruct it owns.
	Compute func(key Id) V

	// Equals drives backdating (spec.md §9 open question (a)) and, for
	// CycleFixpointIterate, convergence. Defaults to reflect.DeepEqual.
	Equals func(old, new V) bool

	// Backdate disables (if false) carrying forward the previous
	// changed_at when Equals reports no change.
	Backdate bool

	CycleStrategy CycleStrategy
	Initial       func(key Id) V
	Recover       func(last V, iteration int, key Id) RecoverAction
	MaxIterations int

	// LRUCapacity bounds the number of memoized keys kept hot; 0 means
	// unbounded. ForceInvalidateOnEviction controls whether an evicted
	// memo is fully discarded or only stripped of its cached value while
	// keeping enough metadata to shallow-verify a later re-fetch.
	LRUCapacity               int
	ForceInvalidateOnEviction bool

	// SpecifyAllowed permits another query to set this function's result
	// directly via Specify, skipping Compute (spec.md §4.8.7).
	SpecifyAllowed bool
}

// Function is one declared tracked function's memo table and executor.
type Function[V any] struct {
	ing *function.Ingredient
}

// NewFunction declares a new tracked function. keyedBy names the
// tracked-struct ingredients (if any) whose ids this function is called
// with, so its memos are cascade-deleted when one of those structs is
// removed (spec.md §4.7 invariant 6).
func NewFunction[V any](db *Database, name string, cfg FunctionConfig[V], keyedBy ...Index) *Function[V] {
	fc := function.Config{
		Compute:                   func(key Id) any { return cfg.Compute(key) },
		Backdate:                  cfg.Backdate,
		CycleStrategy:             cfg.CycleStrategy,
		MaxIterations:             cfg.MaxIterations,
		LRUCapacity:               cfg.LRUCapacity,
		ForceInvalidateOnEviction: cfg.ForceInvalidateOnEviction,
		SpecifyAllowed:            cfg.SpecifyAllowed,
	}
	if cfg.Equals != nil {
		fc.Equals = func(a, b any) bool { return cfg.Equals(a.(V), b.(V)) }
	}
	if cfg.Initial != nil {
		fc.Initial = func(key Id) any { return cfg.Initial(key) }
	}
	if cfg.Recover != nil {
		fc.Recover = func(last any, iteration int, key Id) RecoverAction {
			var v V
			if last != nil {
				v = last.(V)
			}
			return cfg.Recover(v, iteration, key)
		}
	}
	ing := database.RegisterFunction(db.inner, name, fc, keyedBy...)
	return &Function[V]{ing: ing}
}

// Fetch returns the memoized result for key, computing or revalidating it
// first per spec.md §4.8.1. Panics with an error satisfying IsCancelled,
// errors.As-able to a cycle via AsCycle, or wrapping a Compute panic,
// instead of returning an error — see spec.md §7.
func (f *Function[V]) Fetch(key Id) V {
	return f.ing.Fetch(key).(V)
}

// Specify sets this function's result at key directly, skipping Compute,
// from within another tracked function's body (spec.md §4.8.7). Requires
// FunctionConfig.SpecifyAllowed.
func (f *Function[V]) Specify(key Id, value V) {
	specifier := activeFrame("Function.Specify")
	f.ing.Specify(specifier.Key, key, value, specifier.Durability(), specifier.ChangedAt())
}

// Index returns this function's ingredient index.
func (f *Function[V]) Index() Index { return f.ing.Index() }

// MemoSnapshot is a read-only view of one cached call (spec.md §6,
// "enumerate all memos for introspection").
type MemoSnapshot = function.MemoSnapshot

// Memos returns a snapshot of every memo currently held by f.
func (f *Function[V]) Memos() []MemoSnapshot { return f.ing.Memos() }

// Resize changes this function's LRU capacity at runtime (spec.md §6,
// "change LRU capacities at runtime"). A capacity of 0 or less disables
// eviction.
func (f *Function[V]) Resize(newCapacity int) { f.ing.Resize(newCapacity) }
