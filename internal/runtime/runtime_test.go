package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
)

func key(i uint32, id ids.Id) ingredient.DatabaseKeyIndex {
	return ingredient.DatabaseKeyIndex{Ingredient: ingredient.Index(i), Id: id}
}

func TestPushQueryAccumulatesDependencies(t *testing.T) {
	g := PushQuery(key(1, 10))
	ReportTrackedRead(ingredient.ForId(2, 20), revision.Low, revision.Revision(5))
	ReportTrackedRead(ingredient.ForId(3, 30), revision.High, revision.Revision(7))
	qr := g.Pop()

	assert.Equal(t, revision.Low, qr.Durability)
	assert.Equal(t, revision.Revision(7), qr.ChangedAt)
	require.Len(t, qr.Edges, 2)
}

func TestReportUntrackedReadForcesLowDurability(t *testing.T) {
	g := PushQuery(key(1, 11))
	ReportUntrackedRead()
	qr := g.Pop()
	assert.True(t, qr.UntrackedRead)
	assert.Equal(t, revision.Low, qr.Durability)
}

func TestDisambiguateIncrementsPerHash(t *testing.T) {
	g := PushQuery(key(1, 12))
	a := Disambiguate(42)
	b := Disambiguate(42)
	c := Disambiguate(43)
	g.Pop()
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, uint32(0), c)
}

func TestInStackDetectsDirectCycle(t *testing.T) {
	k := key(1, 13)
	g := PushQuery(k)
	participants, found := InStack(k)
	require.True(t, found)
	assert.Equal(t, []ingredient.DatabaseKeyIndex{k}, participants)
	g.Pop()

	_, found = InStack(k)
	assert.False(t, found)
}

func TestPopOutOfOrderPanics(t *testing.T) {
	g1 := PushQuery(key(1, 14))
	g2 := PushQuery(key(1, 15))
	assert.Panics(t, func() { g1.Pop() })
	g2.Pop()
	g1.Pop()
}

func TestAttachDetach(t *testing.T) {
	type fakeDB struct{}
	db1 := &fakeDB{}
	Attach(db1)
	Attach(db1) // re-entrant attach of same db is a no-op
	assert.Equal(t, db1, AttachedDB())
	Detach()
	assert.Nil(t, AttachedDB())
}

func TestAttachDifferentDatabasePanics(t *testing.T) {
	type fakeDB struct{}
	db1, db2 := &fakeDB{}, &fakeDB{}
	Attach(db1)
	defer Detach()
	assert.Panics(t, func() { Attach(db2) })
}

func TestOutputsAreSortedAndDeduped(t *testing.T) {
	g := PushQuery(key(1, 16))
	ReportOutput(ingredient.ForId(5, 3), ids.Id(3))
	ReportOutput(ingredient.ForId(5, 1), ids.Id(1))
	ReportOutput(ingredient.ForId(5, 1), ids.Id(1))
	qr := g.Pop()
	assert.Equal(t, []ids.Id{1, 3}, qr.Outputs)
}
