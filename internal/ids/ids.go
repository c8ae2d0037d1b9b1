// Package ids implements the compact identifier allocator described in
// spec.md §4.2: fixed-size pages of slots, an Id that decomposes into
// (page, slot), and O(1) allocation from an atomic counter, with a short
// per-allocator mutex guarding the free list.
package ids

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PageBits controls how many low bits of an Id are reserved for the slot
// within a page. 1024 slots per page, matching the size spec.md suggests.
const PageBits = 10
const PageSize = 1 << PageBits
const slotMask = PageSize - 1

// Id is a 32-bit opaque identifier, unique within one ingredient. The zero
// value is reserved to let Option[Id]-shaped code (an int32 with -1/0
// sentinel) fit in 32 bits, matching the "one niche reserved" requirement;
// callers should treat NoId (0) as absent.
type Id uint32

// NoId is the reserved sentinel for "no id" (the one niche the spec
// requires Option<Id> to fit into 32 bits).
const NoId Id = 0

// Page returns the page index this Id belongs to.
func (id Id) Page() uint32 { return uint32(id) >> PageBits }

// Slot returns the slot within the Id's page.
func (id Id) Slot() uint32 { return uint32(id) & slotMask }

func (id Id) String() string {
	if id == NoId {
		return "Id(none)"
	}
	return fmt.Sprintf("Id(%d:%d)", id.Page(), id.Slot())
}

func fromPageSlot(page, slot uint32) Id {
	return Id(page<<PageBits | slot)
}

// Allocator hands out fresh Ids for one ingredient's paged table. Ids are a
// linear counter decomposed into (page, slot) on read; pages are therefore
// implicitly append-only and never reused, which is what lets inputs and
// interned values keep their Ids unique for the process lifetime. The
// counter starts at 1 so 0 stays free for NoId. Tracked-struct ingredients
// additionally track a free list so cascade-deleted Ids can be reused
// (spec.md §4.2) via Free below.
type Allocator struct {
	next     atomic.Uint32
	mu       sync.Mutex
	freeList []Id
}

// NewAllocator returns an allocator starting at Id 1.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.next.Store(uint32(NoId) + 1)
	return a
}

// Alloc returns a fresh Id, reusing one from the free list if present
// (only tracked-struct ingredients call Free, so only they ever see reuse).
func (a *Allocator) Alloc() Id {
	a.mu.Lock()
	if n := len(a.freeList); n > 0 {
		id := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.mu.Unlock()
		return id
	}
	a.mu.Unlock()
	return Id(a.next.Add(1) - 1)
}

// Free returns id to the allocator's free list for later reuse. Only
// meaningful for ingredients whose invariants permit Id reuse (tracked
// structs, after a cascade delete); inputs and interned values must never
// call this.
func (a *Allocator) Free(id Id) {
	a.mu.Lock()
	a.freeList = append(a.freeList, id)
	a.mu.Unlock()
}
