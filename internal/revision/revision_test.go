package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCounterStartsAtOne(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, Start, c.Current())
	assert.Equal(t, Start, c.LastChanged(Low))
	assert.Equal(t, Start, c.LastChanged(Medium))
	assert.Equal(t, Start, c.LastChanged(High))
}

func TestBumpLowOnlyTouchesLow(t *testing.T) {
	c := NewCounter()
	r := c.Bump(Low)
	assert.Equal(t, r, c.Current())
	assert.Equal(t, r, c.LastChanged(Low))
	assert.Equal(t, Start, c.LastChanged(Medium))
	assert.Equal(t, Start, c.LastChanged(High))
}

func TestBumpHighTouchesAllLevels(t *testing.T) {
	c := NewCounter()
	r := c.Bump(High)
	assert.Equal(t, r, c.LastChanged(Low))
	assert.Equal(t, r, c.LastChanged(Medium))
	assert.Equal(t, r, c.LastChanged(High))
}

func TestDurabilityOrderingInvariant(t *testing.T) {
	c := NewCounter()
	c.Bump(Medium)
	c.Bump(Low)
	assert.LessOrEqual(t, c.LastChanged(High), c.LastChanged(Medium))
	assert.LessOrEqual(t, c.LastChanged(Medium), c.LastChanged(Low))
	assert.LessOrEqual(t, c.LastChanged(Low), c.Current())
}

func TestSyntheticBumpsRevision(t *testing.T) {
	c := NewCounter()
	before := c.Current()
	after := c.Synthetic(Medium)
	assert.Greater(t, after, before)
}
