package weave

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mayaframework/weave/internal/ingredient"
)

func TestHelloWorldMemoizationRecomputesOnChange(t *testing.T) {
	db := NewDatabase()
	calls := 0

	name := NewCell[string](db, "name", nil)
	var id Id
	db.WriteAccess(func() {
		id = name.New("ada", Low)
	})

	greeting := NewFunction[string](db, "greeting", FunctionConfig[string]{
		Compute: func(key Id) string {
			calls++
			return "hello, " + name.Get(key)
		},
		Backdate: true,
	})

	assert.Equal(t, "hello, ada", greeting.Fetch(id))
	assert.Equal(t, "hello, ada", greeting.Fetch(id))
	assert.Equal(t, 1, calls, "second fetch should hit the memo")

	before := greeting.Memos()[0].ChangedAt

	db.WriteAccess(func() {
		name.Set(id, "ADA", Low)
	})
	// Same computed greeting text after case-folding wouldn't happen here
	// since Compute preserves case, so this bump should force a real
	// recompute and a new changed_at.
	assert.Equal(t, "hello, ADA", greeting.Fetch(id))
	assert.Equal(t, 2, calls)
	assert.Greater(t, greeting.Memos()[0].VerifiedAt, Revision(0))
	assert.Greater(t, greeting.Memos()[0].ChangedAt, before)
}

func TestLRUEvictionForcesRecomputeOnRefetch(t *testing.T) {
	db := NewDatabase()
	calls := 0

	cell := NewCell[int](db, "n", nil)
	var a, b Id
	db.WriteAccess(func() {
		a = cell.New(1, Low)
		b = cell.New(2, Low)
	})

	square := NewFunction[int](db, "square", FunctionConfig[int]{
		Compute: func(key Id) int {
			calls++
			return cell.Get(key) * cell.Get(key)
		},
		LRUCapacity:               1,
		ForceInvalidateOnEviction: false,
	})

	assert.Equal(t, 1, square.Fetch(a))
	assert.Equal(t, 4, square.Fetch(b)) // evicts a's cached value, keeps metadata
	assert.Equal(t, 2, calls)

	// a's memo was stripped of its value but kept its verified_at. With the
	// cached value gone, the next Fetch must run Compute again to have
	// something to return.
	assert.Equal(t, 1, square.Fetch(a))
	assert.Equal(t, 3, calls)
}

func TestCycleFixpointIterateConverges(t *testing.T) {
	db := NewDatabase()

	var a, b *Function[int]
	a = NewFunction[int](db, "a", FunctionConfig[int]{
		Compute: func(key Id) int {
			return b.Fetch(key)
		},
		CycleStrategy: CycleFixpointIterate,
		Initial:       func(Id) int { return 0 },
		Recover: func(last int, iteration int, key Id) RecoverAction {
			if last >= 5 {
				return Converged
			}
			return Iterate
		},
	})
	b = NewFunction[int](db, "b", FunctionConfig[int]{
		Compute: func(key Id) int {
			v := a.Fetch(key) + 1
			if v > 5 {
				v = 5
			}
			return v
		},
	})

	assert.Equal(t, 5, a.Fetch(Id(1)))
	assert.Equal(t, 5, b.Fetch(Id(1)))
}

func TestCrossThreadCycleDetectionUnwinds(t *testing.T) {
	db := NewDatabase()

	var x, y *Function[int]
	ready := make(chan struct{}, 2)
	release := make(chan struct{})

	x = NewFunction[int](db, "x", FunctionConfig[int]{
		Compute: func(key Id) int {
			ready <- struct{}{}
			<-release
			return y.Fetch(key)
		},
	})
	y = NewFunction[int](db, "y", FunctionConfig[int]{
		Compute: func(key Id) int {
			ready <- struct{}{}
			<-release
			return x.Fetch(key)
		},
	})

	var g errgroup.Group
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = nil // participation in the detected cycle: either side may unwind
			}
		}()
		x.Fetch(Id(1))
		return nil
	})
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = nil
			}
		}()
		y.Fetch(Id(1))
		return nil
	})

	<-ready
	<-ready
	close(release)

	require.NoError(t, g.Wait())
}

func TestCascadeDeleteRemovesDependentMemo(t *testing.T) {
	db := NewDatabase()

	nodes := NewTrackedStruct(db, "node", TrackedStructConfig{NumFields: 1})
	owner := NewFunction[Id](db, "owner", FunctionConfig[Id]{
		Compute: func(key Id) Id {
			return nodes.GetOrCreate(HashFields(key), "payload")
		},
	})
	summarize := NewFunction[any](db, "summarize", FunctionConfig[any]{
		Compute: func(key Id) any {
			return nodes.Field(key, 0)
		},
	}, nodes.Index())

	nodeID := owner.Fetch(Id(1))
	assert.Equal(t, "payload", summarize.Fetch(nodeID))

	// Bump the revision without re-deriving node for key 1 so owner stops
	// producing it, simulating the owning query's output set shrinking.
	db.WriteAccess(func() {
		db.SyntheticWrite(High)
	})
	db.inner.Registry().RemoveStaleOutput(DatabaseKeyIndex{Ingredient: owner.Index(), Id: Id(1)}, DatabaseKeyIndex{Ingredient: nodes.Index(), Id: nodeID})

	assert.True(t, summarize.ing.MaybeChangedAfter(ingredient.ForId(summarize.Index(), nodeID), 0))
}

func TestDurabilityCutoffSkipsShallowVerifyAcrossUnrelatedBumps(t *testing.T) {
	db := NewDatabase()
	calls := 0

	highCell := NewCell[int](db, "stable", nil)
	lowCell := NewCell[int](db, "volatile", nil)

	var stableID, volatileID Id
	db.WriteAccess(func() {
		stableID = highCell.New(1, High)
		volatileID = lowCell.New(1, Low)
	})

	fn := NewFunction[int](db, "fn", FunctionConfig[int]{
		Compute: func(key Id) int {
			calls++
			return highCell.Get(stableID)
		},
	})

	assert.Equal(t, 1, fn.Fetch(Id(1)))
	assert.Equal(t, 1, calls)

	// A low-durability write elsewhere must not force fn to recompute: its
	// only dependency is the high-durability cell, so shallow verify
	// should succeed purely from LastChanged(High) <= verifiedAt.
	db.WriteAccess(func() {
		lowCell.Set(volatileID, 2, Low)
	})

	assert.Equal(t, 1, fn.Fetch(Id(1)))
	assert.Equal(t, 1, calls, "a lower-durability write must not invalidate a high-durability-only memo")
}

func TestSpecifySkipsComputeAndRequiresSpecifyAllowed(t *testing.T) {
	db := NewDatabase()
	calls := 0

	target := NewFunction[int](db, "target", FunctionConfig[int]{
		Compute: func(key Id) int {
			calls++
			return -1
		},
		SpecifyAllowed: true,
	})

	specifier := NewFunction[int](db, "specifier", FunctionConfig[int]{
		Compute: func(key Id) int {
			target.Specify(key, 42)
			return 0
		},
	})

	specifier.Fetch(Id(1))
	assert.Equal(t, 42, target.Fetch(Id(1)))
	assert.Equal(t, 0, calls, "Specify must let the specified function skip Compute")

	notAllowed := NewFunction[int](db, "notAllowed", FunctionConfig[int]{
		Compute: func(key Id) int { return 0 },
	})
	refusing := NewFunction[int](db, "refusing", FunctionConfig[int]{
		Compute: func(key Id) int {
			notAllowed.Specify(key, 1)
			return 0
		},
	})
	assert.Panics(t, func() { refusing.Fetch(Id(1)) })
}

func TestIngredientBuilderAssemblesEveryKind(t *testing.T) {
	db := NewDatabase()
	b := NewIngredientBuilder(db)

	cell := BuildCell[int](b, "n", nil)
	strings := BuildInterned[string](b, "strings")
	nodes := BuildTrackedStruct(b, "node", TrackedStructConfig{NumFields: 1})
	doubled := BuildFunction[int](b, "doubled", FunctionConfig[int]{
		Compute: func(key Id) int { return cell.Get(key) * 2 },
	})

	var id Id
	db.WriteAccess(func() {
		id = cell.New(3, Low)
	})

	assert.Equal(t, 6, doubled.Fetch(id))
	s := strings.Intern("x")
	assert.Equal(t, "x", strings.Value(s))
	assert.Equal(t, db, b.Database())
	_ = nodes.Index()
}

func TestConcurrentReadersDoNotRace(t *testing.T) {
	db := NewDatabase()
	cell := NewCell[int](db, "n", nil)
	var id Id
	db.WriteAccess(func() {
		id = cell.New(7, Low)
	})
	doubled := NewFunction[int](db, "doubled", FunctionConfig[int]{
		Compute: func(key Id) int { return cell.Get(id) * 2 },
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.ReadAccess(func() {
				assert.Equal(t, 14, doubled.Fetch(id))
			})
		}()
	}
	wg.Wait()
}
