// Package depgraph implements the cross-thread wait-for graph of spec.md
// §4.9: a table of thread_id -> {waiting_on, held_by}, genuinely cyclic at
// the moment of cycle detection. Detection is a pointer-walk under a
// single mutex, following the teacher's internal/graph DFS-based cycle
// check (graph.go's hasCycle), generalized from "would adding this edge
// create a cycle in a DAG" to "does this thread's held_by chain loop back
// to me right now".
package depgraph

import (
	"sync"

	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/werr"
)

// Outcome is what a blocked thread observes when the claim it was waiting
// on is released.
type Outcome int

const (
	Completed Outcome = iota
	Panicked
	Cancelled
)

type waitEntry struct {
	waitingOn ingredient.DatabaseKeyIndex
	heldBy    uint64
}

// Graph is the process-wide wait-for table plus the per-key completion
// signal waiters block on.
type Graph struct {
	mu        sync.Mutex
	cond      *sync.Cond
	blocked   map[uint64]waitEntry
	completed map[ingredient.DatabaseKeyIndex]Outcome
}

// New returns an empty wait-for graph.
func New() *Graph {
	g := &Graph{
		blocked:   make(map[uint64]waitEntry),
		completed: make(map[ingredient.DatabaseKeyIndex]Outcome),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// BlockOnOrUnwind is called by a thread that wants to wait for another
// thread's in-progress claim on key. If following other's held_by chain
// loops back to self, a cross-thread cycle exists and this returns a Cycle
// error naming the participants found along the chain (spec.md §4.9 step
// 2) instead of blocking. Otherwise it records the wait edge and blocks on
// a condition variable until the claim is released or isCancelled starts
// reporting true.
func (g *Graph) BlockOnOrUnwind(self, other uint64, key ingredient.DatabaseKeyIndex, isCancelled func() bool) (Outcome, error) {
	g.mu.Lock()

	if participants, found := g.chainLoopsBackTo(other, self, key); found {
		g.mu.Unlock()
		keys := make([]werr.DatabaseKey, len(participants))
		for i, p := range participants {
			keys[i] = p.ToWerr()
		}
		return Cancelled, werr.Cycle(keys)
	}

	g.blocked[self] = waitEntry{waitingOn: key, heldBy: other}
	defer func() {
		g.mu.Lock()
		delete(g.blocked, self)
		g.mu.Unlock()
	}()

	for {
		if outcome, ok := g.completed[key]; ok {
			g.mu.Unlock()
			return outcome, nil
		}
		if isCancelled() {
			g.mu.Unlock()
			return Cancelled, werr.Cancelled()
		}
		g.cond.Wait()
	}
}

// chainLoopsBackTo walks the held_by chain starting at cur, collecting the
// keys each link is waiting on, and reports whether it ever reaches
// target. The participant list returned on success is ordered from the
// thread about to block (key) through the chain to the point the cycle
// closes, mirroring the DFS walk in the teacher's graph.hasCycle.
func (g *Graph) chainLoopsBackTo(cur, target uint64, firstKey ingredient.DatabaseKeyIndex) ([]ingredient.DatabaseKeyIndex, bool) {
	participants := []ingredient.DatabaseKeyIndex{firstKey}
	seen := make(map[uint64]bool)
	for {
		if cur == target {
			return participants, true
		}
		if seen[cur] {
			return nil, false // a cycle exists, but not one involving target
		}
		seen[cur] = true
		entry, ok := g.blocked[cur]
		if !ok {
			return nil, false
		}
		participants = append(participants, entry.waitingOn)
		cur = entry.heldBy
	}
}

// Release marks key's claim as finished with the given outcome and wakes
// every thread blocked anywhere in the graph so they can re-check whether
// it was the key they were waiting for. The outcome is sticky until the
// next Claim, so every current waiter on key observes it regardless of
// wake order.
func (g *Graph) Release(key ingredient.DatabaseKeyIndex, outcome Outcome) {
	g.mu.Lock()
	g.completed[key] = outcome
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Claim clears any stale completion outcome left over from a previous
// claim on key. The function ingredient calls this when it successfully
// claims a key, before executing, so a late waiter from a prior round
// never observes this round's in-progress claim as already complete.
func (g *Graph) Claim(key ingredient.DatabaseKeyIndex) {
	g.mu.Lock()
	delete(g.completed, key)
	g.mu.Unlock()
}
