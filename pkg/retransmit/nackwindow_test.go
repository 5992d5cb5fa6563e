package retransmit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGapMarksMissingThenPromotesToNacked(t *testing.T) {
	w := NewNackWindow(160, 50, 1000)

	w.OnReceive(1, 0)
	w.OnReceive(4, 0) // 2, 3 go MISSING

	st, ok := w.State(2)
	require.True(t, ok)
	assert.Equal(t, StateMissing, st)

	// before RTT elapses, no promotion yet
	assert.Empty(t, w.Tick(10))

	nacked := w.Tick(60)
	assert.ElementsMatch(t, []uint16{2, 3}, nacked)

	st, _ = w.State(2)
	assert.Equal(t, StateNacked, st)
}

func TestLateArrivalMarksRecved(t *testing.T) {
	w := NewNackWindow(160, 50, 1000)
	w.OnReceive(1, 0)
	w.OnReceive(4, 0)
	w.Tick(60) // 2,3 -> NACKED

	w.OnReceive(2, 70) // retransmit arrives
	st, ok := w.State(2)
	require.True(t, ok)
	assert.Equal(t, StateRecved, st)
}

func TestNackedGivesUpAfterMaxWait(t *testing.T) {
	w := NewNackWindow(160, 50, 200)
	w.OnReceive(1, 0)
	w.OnReceive(3, 0) // 2 -> MISSING
	w.Tick(60)        // 2 -> NACKED

	assert.Empty(t, w.Tick(100)) // not yet 200ms since NACKED
	w.Tick(300)                  // >= 200ms since NACKED at t=60
	st, _ := w.State(2)
	assert.Equal(t, StateGiveup, st)
}
