package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocIsUniqueAndDecomposes(t *testing.T) {
	a := NewAllocator()
	seen := make(map[Id]bool)
	for i := 0; i < PageSize*3+5; i++ {
		id := a.Alloc()
		assert.False(t, seen[id], "id %v allocated twice", id)
		assert.Equal(t, id, fromPageSlot(id.Page(), id.Slot()))
		seen[id] = true
	}
}

func TestIdPageSlotRoundTrip(t *testing.T) {
	id := fromPageSlot(2, 17)
	assert.Equal(t, uint32(2), id.Page())
	assert.Equal(t, uint32(17), id.Slot())
}

func TestFreeAllowsReuse(t *testing.T) {
	a := NewAllocator()
	id := a.Alloc()
	a.Free(id)
	reused := a.Alloc()
	assert.Equal(t, id, reused)
}

func TestNoIdIsZero(t *testing.T) {
	assert.Equal(t, Id(0), NoId)
}
