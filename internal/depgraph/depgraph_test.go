package depgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayaframework/weave/internal/ingredient"
	"github.com/mayaframework/weave/internal/werr"
)

func key(i uint32, id uint32) ingredient.DatabaseKeyIndex {
	return ingredient.DatabaseKeyIndex{Ingredient: ingredient.Index(i), Id: ingredient.Id(id)}
}

func notCancelled() bool { return false }

func TestBlockOnWakesWithOutcome(t *testing.T) {
	g := New()
	k := key(1, 1)

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := g.BlockOnOrUnwind(2, 1, k, notCancelled)
		require.NoError(t, err)
		done <- outcome
	}()

	time.Sleep(10 * time.Millisecond)
	g.Release(k, Completed)

	select {
	case outcome := <-done:
		assert.Equal(t, Completed, outcome)
	case <-time.After(time.Second):
		t.Fatal("blocked thread never woke")
	}
}

func TestDirectCycleDetected(t *testing.T) {
	g := New()
	ka := key(1, 1)
	kb := key(1, 2)

	// Thread 2 is waiting on thread 1 for key kb.
	go func() {
		_, _ = g.BlockOnOrUnwind(2, 1, kb, notCancelled)
	}()
	time.Sleep(10 * time.Millisecond)

	// Now thread 1 tries to block on thread 2 for key ka: this closes the
	// cycle 1 -> 2 -> 1.
	_, err := g.BlockOnOrUnwind(1, 2, ka, notCancelled)
	require.Error(t, err)

	participants, ok := werr.AsCycle(err)
	require.True(t, ok)
	assert.Contains(t, participants, ka.ToWerr())
	assert.Contains(t, participants, kb.ToWerr())

	g.Release(kb, Cancelled)
}

func TestCancelledWhileBlocked(t *testing.T) {
	g := New()
	k := key(3, 1)
	cancelled := false
	isCancelled := func() bool { return cancelled }

	done := make(chan error, 1)
	go func() {
		_, err := g.BlockOnOrUnwind(5, 4, k, isCancelled)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancelled = true
	g.cond.Broadcast()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked thread never observed cancellation")
	}
}

func ingredientCycleParticipants(err error) ([]interface{}, bool) {
	type cycleErr interface {
		Error() string
	}
	_ = cycleErr(nil)
	keys, ok := werr.AsCycle(err)
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, ok
}
