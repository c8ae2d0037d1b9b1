package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayaframework/weave/internal/function"
	"github.com/mayaframework/weave/internal/ids"
	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/revision"
	"github.com/mayaframework/weave/internal/trackedstruct"
)

func TestRegisterFunctionReadsThroughRegisterInput(t *testing.T) {
	db := New()
	calls := 0

	in := RegisterInput(db, "cell", 1, nil)
	id := in.NewRow(revision.Low, db.Revisions().Current())
	in.SetField(id, 0, 2, revision.Low, db.Revisions().Current())

	doubled := RegisterFunction(db, "doubled", function.Config{
		Compute: func(key ids.Id) any {
			calls++
			return in.Field(id, 0).(int) * 2
		},
	})

	assert.Equal(t, 4, doubled.Fetch(id))
	assert.Equal(t, 4, doubled.Fetch(id))
	assert.Equal(t, 1, calls, "second fetch should hit the memo, not recompute")

	db.Revisions().Bump(revision.Low)
	in.SetField(id, 0, 10, revision.Low, db.Revisions().Current())

	assert.Equal(t, 20, doubled.Fetch(id))
	assert.Equal(t, 2, calls, "changed input should force recompute")
}

func TestTrackedStructRemovalCascadesToKeyedFunction(t *testing.T) {
	db := New()

	structs := RegisterTrackedStruct(db, "node", trackedstruct.Config{NumFields: 1})
	summarize := RegisterFunction(db, "summarize", function.Config{
		Compute: func(key ids.Id) any {
			return structs.Field(key, 0)
		},
	}, structs.Index())

	creator := ingredient.DatabaseKeyIndex{Ingredient: ingredient.Index(99), Id: ids.Id(1)}
	id := structs.GetOrCreate(creator, 7, 0, []any{"payload"}, revision.High, db.Revisions().Current())

	assert.Equal(t, "payload", summarize.Fetch(id))

	structs.RemoveStaleOutput(creator, id)

	assert.True(t, structs.MaybeChangedAfter(ingredient.ForId(structs.Index(), id), revision.Zero))
	// the cascaded RemoveStaleOutput call must have discarded summarize's memo too.
	assert.True(t, summarize.MaybeChangedAfter(ingredient.ForId(summarize.Index(), id), revision.Zero))
}

func TestCancelUnwindsPendingFetch(t *testing.T) {
	db := New()

	fn := RegisterFunction(db, "noop", function.Config{
		Compute: func(key ids.Id) any { return int(key) },
	})

	db.Cancel()
	assert.Panics(t, func() {
		fn.Fetch(ids.Id(1))
	})

	db.ResetCancellation()
	assert.NotPanics(t, func() {
		fn.Fetch(ids.Id(1))
	})
}

func TestReadAccessAllowsConcurrentReadersWriteAccessIsExclusive(t *testing.T) {
	db := New()
	done := make(chan struct{})

	db.ReadAccess(func() {
		go func() {
			db.ReadAccess(func() {})
			close(done)
		}()
		<-done
	})

	var ran bool
	db.WriteAccess(func() { ran = true })
	assert.True(t, ran)
}

func TestRegisterInternedRoundTrips(t *testing.T) {
	db := New()
	strings := RegisterInterned[string](db, "strings")

	a := strings.Intern("hello", db.Revisions().Current())
	b := strings.Intern("hello", db.Revisions().Current())
	require.Equal(t, a, b)
	assert.Equal(t, "hello", strings.Value(a))
}

func TestSyntheticWriteBumpsRevision(t *testing.T) {
	db := New()
	before := db.Revisions().Current()
	db.WriteAccess(func() {
		db.SyntheticWrite(revision.High)
	})
	assert.Greater(t, db.Revisions().Current(), before)
}

func TestIDIsStableAcrossCalls(t *testing.T) {
	db := New()
	assert.Equal(t, db.ID(), db.ID())
}

func TestIsCancelledError(t *testing.T) {
	db := New()
	fn := RegisterFunction(db, "identity", function.Config{
		Compute: func(key ids.Id) any { return key },
	})
	db.Cancel()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn.Fetch(ids.Id(1))
	}()
	require.NotNil(t, recovered)

	err, ok := recovered.(error)
	require.True(t, ok, "cancellation must unwind as an error value, not an arbitrary panic")
	assert.True(t, IsCancelledError(err))
}
