package interned

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mayaframework/weave/internal/event"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
)

func TestInternSameValueReturnsSameId(t *testing.T) {
	ing := New[string](ingredient.Index(0), nil)
	a := ing.Intern("hello", revision.Start)
	b := ing.Intern("hello", revision.Start)
	assert.Equal(t, a, b)
}

func TestInternDistinctValuesGetDistinctIds(t *testing.T) {
	ing := New[string](ingredient.Index(0), nil)
	a := ing.Intern("hello", revision.Start)
	b := ing.Intern("world", revision.Start)
	assert.NotEqual(t, a, b)
}

func TestReinternEmitsEvent(t *testing.T) {
	var events []event.Event
	ing := New[int](ingredient.Index(0), func(e event.Event) { events = append(events, e) })

	ing.Intern(7, revision.Revision(1))
	ing.Intern(7, revision.Revision(2))

	assert.Len(t, events, 2)
	assert.Equal(t, event.DidInternValue, events[0].Kind)
	assert.Equal(t, event.DidReinternValue, events[1].Kind)
}

func TestValueNeverReportsChanged(t *testing.T) {
	ing := New[string](ingredient.Index(0), nil)
	id := ing.Intern("x", revision.Start)
	assert.False(t, ing.MaybeChangedAfter(ingredient.ForId(0, id), revision.Revision(0)))
}
