// Package runtime implements the per-thread state described in spec.md
// §4.4: the active-query stack, dependency accumulation, and the
// attached-database handle. It is the per-goroutine analogue of the
// teacher's reactive.effectStack / getCurrentEffect machinery, generalized
// from "current effect" to "current active-query frame" and extended with
// durability/changed-at accumulation and disambiguation.
package runtime

import (
	"sort"
	"sync"

	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/werr"
)

// Edge is one entry of a memo's edge list: an input (something this query
// read) or an output (a tracked struct this query created, or a function
// it specified).
type Edge struct {
	Kind ingredient.EdgeKind
	Dep  ingredient.DependencyIndex
}

// Frame is one in-progress call on a thread's active-query stack
// (spec.md §3, "Active query frame").
type Frame struct {
	Key           ingredient.DatabaseKeyIndex
	durability    revision.Durability
	changedAt     revision.Revision
	deps          []Edge
	depSeen       map[ingredient.DependencyIndex]bool
	outputs       map[ids.Id]bool
	cycleHeads    map[ingredient.DatabaseKeyIndex]bool
	disambig      map[uint64]uint32
	untrackedRead bool
}

func newFrame(key ingredient.DatabaseKeyIndex) *Frame {
	return &Frame{
		Key:        key,
		durability: revision.High, // min-so-far starts at the top of the lattice
		changedAt:  revision.Zero,
		depSeen:    make(map[ingredient.DependencyIndex]bool),
		outputs:    make(map[ids.Id]bool),
		cycleHeads: make(map[ingredient.DatabaseKeyIndex]bool),
		disambig:   make(map[uint64]uint32),
	}
}

// QueryRevisions is what a Frame reduces to once its query finishes
// (spec.md §3, "Memo.revisions" plus the edge/output lists that feed
// Memo.edges).
type QueryRevisions struct {
	ChangedAt     revision.Revision
	Durability    revision.Durability
	Edges         []Edge
	Outputs       []ids.Id
	CycleHeads    []ingredient.DatabaseKeyIndex
	UntrackedRead bool
}

type threadState struct {
	mu    sync.Mutex
	stack []*Frame
	db    interface{}
}

var (
	statesMu sync.Mutex
	states   = make(map[uint64]*threadState)
)

func myState() *threadState {
	gid := goroutineID()
	statesMu.Lock()
	st, ok := states[gid]
	if !ok {
		st = &threadState{}
		states[gid] = st
	}
	statesMu.Unlock()
	return st
}

// Attach associates db with the calling thread for the dynamic extent of a
// top-level call. Re-entrant attach of the same database is a no-op;
// attaching a second, different database while one is already attached is
// a usage error.
func Attach(db interface{}) {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.db == nil {
		st.db = db
		return
	}
	if st.db != db {
		panic(werr.Usage("attach: database already attached to this thread, cannot attach a different one"))
	}
}

// Detach clears the attached database for the calling thread. It must be
// called exactly once per successful Attach of a fresh (not re-entrant)
// call.
func Detach() {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.db = nil
}

// AttachedDB returns the database attached to the calling thread, or nil.
func AttachedDB() interface{} {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.db
}

// Guard represents one pushed active-query frame. Dropping it (calling
// Pop) always pops the frame, even if the query panicked, so a panic
// unwinding through the Guard still leaves the stack consistent.
type Guard struct {
	st    *threadState
	frame *Frame
}

// PushQuery pushes a fresh frame for key onto the calling thread's active
// query stack and returns a Guard. If key is already present on the
// thread's own stack, this is a direct cycle: the caller is responsible
// for checking InStack before pushing if it wants to detect this (push
// itself does not check, since some callers intentionally want the frame
// pushed before deciding how to react).
func PushQuery(key ingredient.DatabaseKeyIndex) *Guard {
	st := myState()
	st.mu.Lock()
	f := newFrame(key)
	st.stack = append(st.stack, f)
	st.mu.Unlock()
	return &Guard{st: st, frame: f}
}

// InStack reports whether key is already on the calling thread's active
// query stack, and if so returns the index of cycle participants from
// that point down (inclusive), used to build a Cycle error's participant
// list for direct (same-thread) re-entrancy.
func InStack(key ingredient.DatabaseKeyIndex) ([]ingredient.DatabaseKeyIndex, bool) {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, f := range st.stack {
		if f.Key == key {
			participants := make([]ingredient.DatabaseKeyIndex, 0, len(st.stack)-i)
			for _, f2 := range st.stack[i:] {
				participants = append(participants, f2.Key)
			}
			return participants, true
		}
	}
	return nil, false
}

// Backtrace returns a snapshot of the calling thread's active query stack,
// bottom to top. This is the reduced stand-in for the full symbolized
// backtraces that debug-printing surfaces (out of scope per spec.md §1)
// would offer.
func Backtrace() []ingredient.DatabaseKeyIndex {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]ingredient.DatabaseKeyIndex, len(st.stack))
	for i, f := range st.stack {
		out[i] = f.Key
	}
	return out
}

// Current returns the topmost frame on the calling thread's stack, or nil
// if no query is active.
func Current() *Frame {
	st := myState()
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.stack) == 0 {
		return nil
	}
	return st.stack[len(st.stack)-1]
}

// Pop removes g's frame from the stack (which must be the top frame — a
// Guard can only be popped in LIFO order, matching lexical query nesting)
// and returns the accumulated QueryRevisions.
func (g *Guard) Pop() QueryRevisions {
	g.st.mu.Lock()
	n := len(g.st.stack)
	if n == 0 || g.st.stack[n-1] != g.frame {
		g.st.mu.Unlock()
		panic(werr.Usage("runtime: Guard popped out of order"))
	}
	g.st.stack = g.st.stack[:n-1]
	g.st.mu.Unlock()

	f := g.frame
	outputs := make([]ids.Id, 0, len(f.outputs))
	for id := range f.outputs {
		outputs = append(outputs, id)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i] < outputs[j] })

	heads := make([]ingredient.DatabaseKeyIndex, 0, len(f.cycleHeads))
	for h := range f.cycleHeads {
		heads = append(heads, h)
	}

	return QueryRevisions{
		ChangedAt:     f.changedAt,
		Durability:    f.durability,
		Edges:         f.deps,
		Outputs:       outputs,
		CycleHeads:    heads,
		UntrackedRead: f.untrackedRead,
	}
}

// ReportTrackedRead records dep as a dependency of the top frame on the
// calling thread's stack, if any, widening the frame's running durability
// minimum and changed-at maximum. A no-op outside of an active query
// (top-level reads by the application itself aren't tracked).
func ReportTrackedRead(dep ingredient.DependencyIndex, durability revision.Durability, changedAt revision.Revision) {
	f := Current()
	if f == nil {
		return
	}
	if !f.depSeen[dep] {
		f.depSeen[dep] = true
		f.deps = append(f.deps, Edge{Kind: ingredient.Input, Dep: dep})
	}
	if durability < f.durability {
		f.durability = durability
	}
	if changedAt > f.changedAt {
		f.changedAt = changedAt
	}
}

// ReportUntrackedRead marks the top frame as having performed a read that
// cannot be tracked precisely (e.g. reading ambient, non-database state).
// This forces the resulting memo to be re-executed on every revision: deep
// verify always fails for a memo with UntrackedRead set.
func ReportUntrackedRead() {
	f := Current()
	if f == nil {
		return
	}
	f.untrackedRead = true
	f.durability = revision.Low
}

// ReportOutput records id as an output (tracked struct, or specify target)
// of the top frame.
func ReportOutput(dep ingredient.DependencyIndex, id ids.Id) {
	f := Current()
	if f == nil {
		return
	}
	f.outputs[id] = true
	f.deps = append(f.deps, Edge{Kind: ingredient.Output, Dep: dep})
}

// Disambiguate returns the next counter value for hash on the top frame,
// giving two tracked-struct creations with equal id-fields but different
// call order within the same query distinct identities (spec.md §4.4,
// §4.7 step 2).
func Disambiguate(hash uint64) uint32 {
	f := Current()
	if f == nil {
		return 0
	}
	v := f.disambig[hash]
	f.disambig[hash] = v + 1
	return v
}

// AddCycleHead marks head as a cycle head the top frame participates in.
// Only the top frame is marked; the head is not propagated to the frames
// below it or merged with heads recorded for other cycles.
func AddCycleHead(head ingredient.DatabaseKeyIndex) {
	f := Current()
	if f == nil {
		return
	}
	f.cycleHeads[head] = true
}

// CurrentThreadID returns the process-local identifier for the calling
// goroutine, used by the function ingredient and depgraph to name the
// thread holding a claim.
func CurrentThreadID() uint64 {
	return goroutineID()
}

// Durability returns the top frame's running durability minimum.
func (f *Frame) Durability() revision.Durability { return f.durability }

// ChangedAt returns the top frame's running changed-at maximum.
func (f *Frame) ChangedAt() revision.Revision { return f.changedAt }
