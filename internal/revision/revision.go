// Package revision implements the monotonic revision counter and the
// per-durability "last changed" table described in spec.md §4.1.
package revision

import (
	"sync/atomic"
)

// Revision is a strictly monotonic, non-zero point in the database's
// history. It increases by one on every write that invalidates at least
// one memo.
type Revision uint64

// Zero is never a valid observed revision; the database starts at Start.
const Zero Revision = 0

// Start is the first revision a freshly constructed database is in.
const Start Revision = 1

// Durability is a coarse hint about how often an input changes. Lower
// values change more often. Ordering matters: LOW < MEDIUM < HIGH.
type Durability uint8

const (
	Low Durability = iota
	Medium
	High

	// durabilityCount is the number of declared durability levels.
	durabilityCount = int(High) + 1
)

func (d Durability) String() string {
	switch d {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return "Durability(?)"
	}
}

// Counter holds the current revision and, for each durability, the most
// recent revision at which a value of that durability changed. It is safe
// for concurrent use; bump assumes the caller already holds exclusive
// access to the database (spec.md invariant 1), so it does not itself
// serialize against other bumps.
type Counter struct {
	current     atomic.Uint64
	lastChanged [durabilityCount]atomic.Uint64
}

// NewCounter returns a counter initialized to Start with every durability
// level's last-changed revision also at Start (matching a freshly
// constructed database where every input "changed" when it was declared).
func NewCounter() *Counter {
	c := &Counter{}
	c.current.Store(uint64(Start))
	for d := 0; d < durabilityCount; d++ {
		c.lastChanged[d].Store(uint64(Start))
	}
	return c
}

// Current returns the database's current revision.
func (c *Counter) Current() Revision {
	return Revision(c.current.Load())
}

// LastChanged returns the most recent revision at which a value of the
// given durability changed.
func (c *Counter) LastChanged(d Durability) Revision {
	return Revision(c.lastChanged[d].Load())
}

// Bump raises the current revision and records it as the last-changed
// revision for d and every less-durable level (invariant 2:
// last_changed[HIGH] <= last_changed[MEDIUM] <= last_changed[LOW] <=
// current). Returns the new current revision.
func (c *Counter) Bump(d Durability) Revision {
	next := c.current.Add(1)
	r := Revision(next)
	for level := Low; level <= d; level++ {
		c.lastChanged[level].Store(next)
	}
	return r
}

// Synthetic performs a "synthetic write": it bumps the revision at
// durability d without any real input changing. Used by tests and by
// callers that want to force re-validation of everything at or below d.
func (c *Counter) Synthetic(d Durability) Revision {
	return c.Bump(d)
}
