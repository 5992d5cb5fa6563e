package skew

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// I4: returns 0 during the 15-second warm-up regardless of input.
func TestWarmupAlwaysReturnsZero(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(48000, start)

	ts := uint32(0)
	arrival := start
	for i := 0; i < 100; i++ {
		// even with a huge jump, warm-up suppresses any correction
		assert.Equal(t, 0, c.Update(ts, arrival))
		ts += 48000 // +1s of RTP time
		arrival = arrival.Add(100 * time.Millisecond)
	}
	assert.True(t, arrival.Before(start.Add(WarmupDuration)))
}

// Scenario 4 from spec §8: 60s of 48kHz audio where every packet
// arrives 2ms later (relative to its predecessor) than the RTP clock
// alone would predict; eventually active delay exceeds 40ms and the
// compensator reports N >= 1.
func TestDriftEventuallyTriggersPositiveCorrection(t *testing.T) {
	start := time.Unix(0, 0)
	c := New(48000, start)
	c.SetFrameIntervalMS(20)

	ts := uint32(0)
	arrival := start
	// drive through warm-up first
	for arrival.Before(start.Add(WarmupDuration)) {
		c.Update(ts, arrival)
		ts += 960 // 20ms at 48kHz
		arrival = arrival.Add(20 * time.Millisecond)
	}

	var got int
	for i := 0; i < 60*50; i++ { // up to 60s more of 20ms frames
		got = c.Update(ts, arrival)
		ts += 960
		arrival = arrival.Add(22 * time.Millisecond) // 2ms slower cadence than RTP predicts
		if got > 0 {
			break
		}
	}
	require.Greater(t, got, 0)
}

func TestUnknownClockRateDisablesCompensation(t *testing.T) {
	c := New(0, time.Unix(0, 0))
	assert.Equal(t, 0, c.Update(12345, time.Unix(1000, 0)))
}
