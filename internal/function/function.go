// Package function implements the function ingredient of spec.md §4.8 —
// the heart of the engine: per-query memo map, single-flight claims, LRU,
// fetch/execute/validate/backdate logic, and cycle handling. The
// concurrency shape (a caching executor backed by a sharded map with a
// bounded-parallelism claim table) is grounded on the pack's own
// incremental-query executor (the bufbuild reference implementation under
// other_examples), generalized from "one task per URL" to "one memo per
// (function, key)" with validation instead of a pure rebuild-or-reuse
// choice.
package function

import (
	"reflect"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mayaframework/weave/internal/depgraph"
	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/runtime"
	"github.com/mayaframework/weave/internal/werr"
)

// CycleStrategy selects how this function recovers from a dependency
// cycle (spec.md §4.8.6).
type CycleStrategy int

const (
	CyclePanic CycleStrategy = iota
	CycleFallback
	CycleFixpointIterate
)

// RecoverAction is returned by a Config.Recover callback during cycle
// iteration.
type RecoverAction int

const (
	Iterate RecoverAction = iota
	Converged
)

const defaultMaxIterations = 100

// Config configures one declared tracked function.
type Config struct {
	// Compute runs the function body for key, reading dependencies via
	// whatever ingredients the closure captures. It must not be called
	// directly by applications; only Fetch calls it.
	Compute func(key ids.Id) any

	// Equals is used both for backdating (P1) and, for CycleFixpointIterate,
	// as the convergence predicate. Defaults to reflect.DeepEqual.
	Equals func(old, new any) bool

	// Backdate disables (if false) carrying forward the previous
	// changed_at when Equals reports no change. Per-type backdate can be
	// disabled per spec.md §4.8.4 step 4.
	Backdate bool

	CycleStrategy CycleStrategy
	Initial       func(key ids.Id) any
	Recover       func(last any, iteration int, key ids.Id) RecoverAction
	MaxIterations int

	LRUCapacity               int
	ForceInvalidateOnEviction bool
	SpecifyAllowed            bool

	Registry  *ingredient.Registry
	Revisions *revision.Counter
	DepGraph  *depgraph.Graph
	Events    event.Hook
	Cancelled func() bool
}

// Memo is the cached result of one call (spec.md §3, "Memo").
type Memo struct {
	value         any
	present       bool
	verifiedAt    revision.Revision
	changedAt     revision.Revision
	durability    revision.Durability
	cycleHeads    []ingredient.DatabaseKeyIndex
	edges         []runtime.Edge
	untrackedRead bool
}

type claim struct {
	thread uint64
}

// cycleState is shared, process-wide, across every function ingredient's
// instance, keyed by the cycle head's DatabaseKeyIndex. Its presence means
// "this head is still mid-iteration"; any memo whose CycleHeads names a
// key present in this map is provisional and must not shallow- or
// deep-verify successfully (spec.md §4.8.6, "Consumers outside the cycle
// must... verify that every cycle head has finalized").
type cycleState struct {
	mu        sync.Mutex
	iteration int
	lastValue any
}

var cycleStates sync.Map // ingredient.DatabaseKeyIndex -> *cycleState

// Ingredient is one declared tracked function's memo table and executor.
type Ingredient struct {
	idx ingredient.Index
	cfg Config

	memos  sync.Map // ids.Id -> *atomic.Pointer[Memo]
	claims sync.Map // ids.Id -> *claim

	lruMu sync.RWMutex
	lru   *lru.Cache[ids.Id, struct{}]
}

// New constructs a function ingredient. cfg.Registry/Revisions/DepGraph
// must be set (normally by the database façade at registration time).
func New(idx ingredient.Index, cfg Config) *Ingredient {
	if cfg.Equals == nil {
		cfg.Equals = func(a, b any) bool { return reflect.DeepEqual(a, b) }
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Cancelled == nil {
		cfg.Cancelled = func() bool { return false }
	}
	ing := &Ingredient{idx: idx, cfg: cfg}
	if cfg.LRUCapacity > 0 {
		c, _ := lru.NewWithEvict[ids.Id, struct{}](cfg.LRUCapacity, ing.onEvict)
		ing.lru = c
	}
	return ing
}

func (ing *Ingredient) Index() ingredient.Index { return ing.idx }

func (ing *Ingredient) key(id ids.Id) ingredient.DatabaseKeyIndex {
	return ingredient.DatabaseKeyIndex{Ingredient: ing.idx, Id: id}
}

func (ing *Ingredient) loadMemoPtr(id ids.Id) *atomic.Pointer[Memo] {
	v, ok := ing.memos.Load(id)
	if !ok {
		return nil
	}
	return v.(*atomic.Pointer[Memo])
}

func (ing *Ingredient) loadMemo(id ids.Id) *Memo {
	ptr := ing.loadMemoPtr(id)
	if ptr == nil {
		return nil
	}
	return ptr.Load()
}

func (ing *Ingredient) storeMemo(id ids.Id, m *Memo) {
	v, _ := ing.memos.LoadOrStore(id, &atomic.Pointer[Memo]{})
	ptr := v.(*atomic.Pointer[Memo])
	ptr.Store(m)
}

func (ing *Ingredient) touchLRU(id ids.Id) {
	ing.lruMu.RLock()
	defer ing.lruMu.RUnlock()
	if ing.lru != nil {
		ing.lru.Add(id, struct{}{})
	}
}

func (ing *Ingredient) onEvict(id ids.Id, _ struct{}) {
	m := ing.loadMemo(id)
	if m == nil || !m.present {
		return
	}
	if ing.cfg.ForceInvalidateOnEviction {
		ing.memos.Delete(id)
		return
	}
	evicted := *m
	evicted.value = nil
	evicted.present = false
	ing.storeMemo(id, &evicted)
}

// isProvisional reports whether any of m's cycle heads is still mid
// iteration (spec.md §4.8.6).
func isProvisional(m *Memo) bool {
	for _, h := range m.cycleHeads {
		if _, active := cycleStates.Load(h); active {
			return true
		}
	}
	return false
}

// shallowVerify implements spec.md §4.8.2.
func (ing *Ingredient) shallowVerify(id ids.Id, m *Memo) bool {
	if isProvisional(m) {
		return false
	}
	now := ing.cfg.Revisions.Current()
	if m.verifiedAt == now {
		return true
	}
	if ing.cfg.Revisions.LastChanged(m.durability) <= m.verifiedAt {
		stamped := *m
		stamped.verifiedAt = now
		ing.storeMemo(id, &stamped)
		return true
	}
	return false
}

// deepVerify implements spec.md §4.8.3.
func (ing *Ingredient) deepVerify(m *Memo) bool {
	if m.untrackedRead || isProvisional(m) {
		return false
	}
	for _, e := range m.edges {
		if e.Kind != ingredient.Input {
			continue
		}
		if ing.cfg.Registry.MaybeChangedAfter(e.Dep, m.verifiedAt) {
			return false
		}
	}
	return true
}

func (ing *Ingredient) markDeepVerified(dbKey ingredient.DatabaseKeyIndex, m *Memo) {
	now := ing.cfg.Revisions.Current()
	stamped := *m
	stamped.verifiedAt = now
	ing.storeMemo(dbKey.Id, &stamped)
	for _, e := range m.edges {
		if e.Kind != ingredient.Output {
			continue
		}
		ing.cfg.Registry.MarkValidatedOutput(dbKey, ingredient.DatabaseKeyIndex{Ingredient: e.Dep.Ingredient, Id: e.Dep.Id})
	}
	if ing.cfg.Events != nil {
		ing.cfg.Events(event.ValidateMemoized(dbKey, now))
	}
}

func (ing *Ingredient) recordRead(dbKey ingredient.DatabaseKeyIndex, m *Memo) {
	if m == nil {
		return
	}
	runtime.ReportTrackedRead(ingredient.ForId(ing.idx, dbKey.Id), m.durability, m.changedAt)
}

// Fetch implements spec.md §4.8.1. It panics with a *werr.Error
// (Cancelled, Cycle, UsagePanic, or PanicFromUserBody) instead of
// returning an error, so that user Compute bodies — which call other
// ingredients' Fetch directly and have no error-aware return path — still
// propagate these conditions through ordinary Go panic/recover, matching
// spec.md §7 ("propagation is mandatory").
func (ing *Ingredient) Fetch(key ids.Id) any {
	dbKey := ing.key(key)

	if ing.cfg.Events != nil {
		ing.cfg.Events(event.CheckCancellation())
	}
	if ing.cfg.Cancelled() {
		panic(werr.Cancelled())
	}

restart:
	if m := ing.loadMemo(key); m != nil && m.present && ing.shallowVerify(key, m) {
		ing.recordRead(dbKey, m)
		ing.touchLRU(key)
		return m.value
	}

	if participants, found := runtime.InStack(dbKey); found {
		return ing.handleReentrantCycle(dbKey, key, participants)
	}

	cl := &claim{thread: runtime.CurrentThreadID()}
	actual, loaded := ing.claims.LoadOrStore(key, cl)
	if loaded {
		other := actual.(*claim)
		if ing.cfg.Events != nil {
			ing.cfg.Events(event.BlockOn(dbKey, other.thread))
		}
		outcome, err := ing.cfg.DepGraph.BlockOnOrUnwind(runtime.CurrentThreadID(), other.thread, dbKey, ing.cfg.Cancelled)
		if err != nil {
			panic(err)
		}
		switch outcome {
		case depgraph.Panicked:
			panic(werr.Usage("propagated panic while waiting on %s", dbKey))
		case depgraph.Cancelled:
			panic(werr.Cancelled())
		}
		goto restart
	}

	ing.cfg.DepGraph.Claim(dbKey)
	outcome := depgraph.Completed
	defer func() {
		ing.claims.Delete(key)
		ing.cfg.DepGraph.Release(dbKey, outcome)
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = depgraph.Panicked
			if _, ok := r.(*werr.Error); ok {
				panic(r)
			}
			panic(werr.FromRecover(r))
		}
	}()

	value := ing.fetchColdPath(dbKey, key)
	ing.recordRead(dbKey, ing.loadMemo(key))
	ing.touchLRU(key)
	return value
}

func (ing *Ingredient) fetchColdPath(dbKey ingredient.DatabaseKeyIndex, key ids.Id) any {
	if existing := ing.loadMemo(key); existing != nil && existing.present && ing.deepVerify(existing) {
		ing.markDeepVerified(dbKey, existing)
		return existing.value
	}
	return ing.execute(dbKey, key)
}

// handleReentrantCycle implements spec.md §4.8.6 for the thread that
// discovers (via runtime.InStack) that it has re-entered a key already on
// its own active-query stack.
func (ing *Ingredient) handleReentrantCycle(dbKey ingredient.DatabaseKeyIndex, key ids.Id, participants []ingredient.DatabaseKeyIndex) any {
	switch ing.cfg.CycleStrategy {
	case CycleFallback, CycleFixpointIterate:
		runtime.AddCycleHead(dbKey)
		if st, ok := cycleStates.Load(dbKey); ok {
			cs := st.(*cycleState)
			cs.mu.Lock()
			v := cs.lastValue
			cs.mu.Unlock()
			return v
		}
		var initial any
		if ing.cfg.Initial != nil {
			initial = ing.cfg.Initial(key)
		}
		cycleStates.Store(dbKey, &cycleState{iteration: 0, lastValue: initial})
		return initial
	default:
		keys := make([]werr.DatabaseKey, len(participants))
		for i, p := range participants {
			keys[i] = p.ToWerr()
		}
		panic(werr.Cycle(keys))
	}
}

// execute implements spec.md §4.8.4, wrapping the body in the fixpoint
// iteration loop of §4.8.6 when a cycle back to this same key was
// triggered during the call.
func (ing *Ingredient) execute(dbKey ingredient.DatabaseKeyIndex, key ids.Id) any {
	if ing.cfg.Events != nil {
		ing.cfg.Events(event.Execute(dbKey))
	}
	prev := ing.loadMemo(key)

	iteration := 0
	var value any
	var qr runtime.QueryRevisions
	wasCyclic := false

	for {
		g := runtime.PushQuery(dbKey)
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.Pop() // keep the active-query stack consistent on panic
					panic(r)
				}
			}()
			value = ing.cfg.Compute(key)
		}()
		qr = g.Pop()

		st, cyclic := cycleStates.Load(dbKey)
		if !cyclic {
			break
		}
		wasCyclic = true
		cs := st.(*cycleState)
		cs.mu.Lock()
		last := cs.lastValue
		cs.mu.Unlock()

		converged := false
		if ing.cfg.Recover != nil {
			converged = ing.cfg.Recover(last, iteration, key) == Converged
		}
		if !converged && ing.cfg.CycleStrategy == CycleFixpointIterate && iteration > 0 && ing.cfg.Equals(last, value) {
			converged = true
		}
		if converged {
			cycleStates.Delete(dbKey)
			if ing.cfg.Events != nil {
				ing.cfg.Events(event.FinalizeCycle(dbKey, uint32(iteration)))
			}
			break
		}
		iteration++
		if iteration > ing.cfg.MaxIterations {
			cycleStates.Delete(dbKey)
			panic(werr.Usage("fixpoint cycle at %s failed to converge after %d iterations", dbKey, iteration))
		}
		cs.mu.Lock()
		cs.lastValue = value
		cs.iteration = iteration
		cs.mu.Unlock()
		if ing.cfg.Events != nil {
			ing.cfg.Events(event.IterateCycle(dbKey, uint32(iteration)))
		}
	}

	changedAt := qr.ChangedAt
	backdated := ing.cfg.Backdate && prev != nil && prev.present && prev.durability >= qr.Durability && ing.cfg.Equals(prev.value, value)
	if backdated {
		changedAt = prev.changedAt
	}
	if changedAt == revision.Zero {
		changedAt = ing.cfg.Revisions.Current()
	}

	if prev != nil {
		newOutputs := make(map[ingredient.DependencyIndex]bool, len(qr.Outputs))
		for _, e := range qr.Edges {
			if e.Kind == ingredient.Output {
				newOutputs[e.Dep] = true
			}
		}
		for _, e := range prev.edges {
			if e.Kind != ingredient.Output {
				continue
			}
			if !newOutputs[e.Dep] {
				ing.cfg.Registry.RemoveStaleOutput(dbKey, ingredient.DatabaseKeyIndex{Ingredient: e.Dep.Ingredient, Id: e.Dep.Id})
			}
		}
	}

	cycleHeads := qr.CycleHeads
	if wasCyclic {
		cycleHeads = nil // this key finalized; it is no longer provisional
	}

	newMemo := &Memo{
		value:         value,
		present:       true,
		verifiedAt:    ing.cfg.Revisions.Current(),
		changedAt:     changedAt,
		durability:    qr.Durability,
		cycleHeads:    cycleHeads,
		edges:         qr.Edges,
		untrackedRead: qr.UntrackedRead,
	}
	ing.storeMemo(key, newMemo)
	return value
}

// MaybeChangedAfter implements ingredient.Ingredient. For a specific id
// with no memo at all (never computed, or discarded by cascade delete or
// forced LRU invalidation) it reports true without executing anything.
// Otherwise it first ensures the memo reflects the current revision
// (shallow- or deep-verifying it, or executing it, exactly as Fetch would)
// and then compares its changed_at against rev — this is how a dependent
// memo can transitively validate through a chain of tracked-function calls.
func (ing *Ingredient) MaybeChangedAfter(dep ingredient.DependencyIndex, rev revision.Revision) bool {
	if dep.IsTable() {
		changed := false
		ing.memos.Range(func(_, v any) bool {
			m := v.(*atomic.Pointer[Memo]).Load()
			if m != nil && m.present && m.changedAt > rev {
				changed = true
				return false
			}
			return true
		})
		return changed
	}
	if ing.loadMemo(dep.Id) == nil {
		return true
	}
	ing.Fetch(dep.Id)
	m := ing.loadMemo(dep.Id)
	if m == nil || !m.present {
		return true
	}
	return m.changedAt > rev
}

// MarkValidatedOutput confirms that id's memo (a specify target) remains
// valid because its specifying query, executor, was itself validated.
func (ing *Ingredient) MarkValidatedOutput(executor ingredient.DatabaseKeyIndex, id ids.Id) {
	m := ing.loadMemo(id)
	if m == nil {
		return
	}
	stamped := *m
	stamped.verifiedAt = ing.cfg.Revisions.Current()
	ing.storeMemo(id, &stamped)
}

// RemoveStaleOutput drops the memo at id: either id was a specify target
// no longer produced by executor, or id is a tracked-struct being cascade
// deleted and this function took it as a key.
func (ing *Ingredient) RemoveStaleOutput(executor ingredient.DatabaseKeyIndex, id ids.Id) {
	ing.memos.Delete(id)
	ing.claims.Delete(id)
	ing.lruMu.RLock()
	if ing.lru != nil {
		ing.lru.Remove(id)
	}
	ing.lruMu.RUnlock()
	if ing.cfg.Events != nil {
		ing.cfg.Events(event.Discard(ing.key(id)))
	}
}

func (ing *Ingredient) FmtIndex(id ids.Id) string {
	return id.String()
}

// MemoSnapshot is a read-only view of one cached call, returned by Memos
// for introspection (spec.md §6, "enumerate all memos").
type MemoSnapshot struct {
	Key        ids.Id
	Value      any
	Present    bool
	VerifiedAt revision.Revision
	ChangedAt  revision.Revision
	Durability revision.Durability
}

// Memos returns a snapshot of every memo currently held by this
// ingredient, in no particular order.
func (ing *Ingredient) Memos() []MemoSnapshot {
	var out []MemoSnapshot
	ing.memos.Range(func(k, v any) bool {
		id := k.(ids.Id)
		m := v.(*atomic.Pointer[Memo]).Load()
		if m == nil {
			return true
		}
		out = append(out, MemoSnapshot{
			Key:        id,
			Value:      m.value,
			Present:    m.present,
			VerifiedAt: m.verifiedAt,
			ChangedAt:  m.changedAt,
			Durability: m.durability,
		})
		return true
	})
	return out
}

// Resize changes the LRU capacity at runtime (spec.md §6, "change LRU
// capacities at runtime"). A newCapacity of 0 or less disables eviction
// entirely — memos accumulate without bound until cascade-deleted. Calling
// this on a function built with LRUCapacity == 0 turns eviction on; it was
// previously impossible to enable once the ingredient was constructed
// without one.
func (ing *Ingredient) Resize(newCapacity int) {
	ing.lruMu.Lock()
	defer ing.lruMu.Unlock()
	if newCapacity <= 0 {
		ing.lru = nil
		return
	}
	if ing.lru == nil {
		c, _ := lru.NewWithEvict[ids.Id, struct{}](newCapacity, ing.onEvict)
		ing.lru = c
		return
	}
	ing.lru.Resize(newCapacity)
}

// Specify implements spec.md §4.8.7: a query that created tracked struct T
// may set another function's memoized result at key T directly, skipping
// that function's body. Per spec.md §9 open question (b), this registers
// an Output edge from the specifying query to the specified function (so
// the specified memo is cascade-deleted if the specifying query stops
// specifying it) but registers no Input edge back from other readers of
// the specified function to the specifier — that asymmetry is preserved
// by simply never calling runtime.ReportTrackedRead here.
func (ing *Ingredient) Specify(specifier ingredient.DatabaseKeyIndex, key ids.Id, value any, durability revision.Durability, changedAt revision.Revision) {
	if !ing.cfg.SpecifyAllowed {
		panic(werr.Usage("specify is not enabled for %s", ing.key(key)))
	}
	runtime.ReportOutput(ingredient.ForId(ing.idx, key), key)
	ing.storeMemo(key, &Memo{
		value:      value,
		present:    true,
		verifiedAt: ing.cfg.Revisions.Current(),
		changedAt:  changedAt,
		durability: durability,
	})
}
