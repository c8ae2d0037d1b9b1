package input

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
)

func TestNewRowInitializesFields(t *testing.T) {
	ing := New(ingredient.Index(0), 2, nil)
	id := ing.NewRow(revision.High, revision.Start)
	assert.Equal(t, nil, ing.Field(id, 0))
}

func TestSetFieldNoopOnEqualValue(t *testing.T) {
	ing := New(ingredient.Index(0), 1, nil)
	id := ing.NewRow(revision.High, revision.Start)

	r1 := ing.SetField(id, 0, 42, revision.High, revision.Revision(2))
	assert.True(t, r1.Changed)

	r2 := ing.SetField(id, 0, 42, revision.High, revision.Revision(3))
	assert.False(t, r2.Changed)
}

func TestSetFieldChangedReportsMinDurability(t *testing.T) {
	ing := New(ingredient.Index(0), 1, nil)
	id := ing.NewRow(revision.High, revision.Start)

	r := ing.SetField(id, 0, 1, revision.Low, revision.Revision(2))
	assert.True(t, r.Changed)
	assert.Equal(t, revision.Low, r.BumpAt)
}

func TestMaybeChangedAfterRowGranularity(t *testing.T) {
	ing := New(ingredient.Index(0), 2, nil)
	id := ing.NewRow(revision.High, revision.Revision(1))
	ing.SetField(id, 1, "x", revision.High, revision.Revision(5))

	dep := ingredient.ForId(0, id)
	assert.True(t, ing.MaybeChangedAfter(dep, revision.Revision(4)))
	assert.False(t, ing.MaybeChangedAfter(dep, revision.Revision(5)))
}

func TestMaybeChangedAfterWholeTable(t *testing.T) {
	ing := New(ingredient.Index(0), 1, nil)
	id := ing.NewRow(revision.High, revision.Revision(1))
	ing.SetField(id, 0, "y", revision.High, revision.Revision(9))

	table := ingredient.ForTable(0)
	assert.True(t, ing.MaybeChangedAfter(table, revision.Revision(8)))
	assert.False(t, ing.MaybeChangedAfter(table, revision.Revision(9)))
}
