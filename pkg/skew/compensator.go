// Package skew implements the per-direction, per-media clock-skew
// detector of spec §4.3: it compares each packet's RTP timestamp,
// projected forward from a reference pair captured after warm-up,
// against the packet's actual monotonic arrival time, and reports how
// many silent sequence numbers to insert (sender running slow relative
// to us) or packets to drop (sender running fast).
//
// No direct teacher analog exists for this exact contract; the shape
// (a small stateful detector fed one packet at a time, with an
// exponentially smoothed signal) follows the idiom the teacher uses
// throughout pkg/sfu for per-packet accounting (e.g. rtpstats.go's
// jitter/loss smoothing), generalized to the warm-up + threshold
// contract spec §4.3 spells out.
package skew

import (
	"time"
)

const (
	// WarmupDuration is the settle window during which compensation is
	// disabled outright, per spec §4.3 (prevents false positives while
	// ICE/DTLS is still settling).
	WarmupDuration = 15 * time.Second

	// ThresholdMS is the +/- active-delay threshold that triggers
	// correction.
	ThresholdMS = 40.0

	// smoothing is the exponential smoothing factor applied to the raw
	// per-packet delay to produce "active delay".
	smoothing = 0.1

	// DefaultFrameIntervalMS is used when the caller doesn't know the
	// actual frame cadence.
	DefaultFrameIntervalMS = 20.0
)

// Compensator tracks skew for one direction of one media lane.
type Compensator struct {
	clockRate       uint32
	frameIntervalMS float64
	warmupUntil     time.Time

	haveRef bool
	refTS   uint32
	refTime time.Time

	haveActiveDelay bool
	activeDelayMS   float64
}

// New returns a Compensator whose warm-up window starts at now.
// clockRate is the negotiated RTP clock rate (48000 for audio, 90000
// for video); pass 0 if unknown to disable compensation entirely.
func New(clockRate uint32, now time.Time) *Compensator {
	return &Compensator{
		clockRate:       clockRate,
		frameIntervalMS: DefaultFrameIntervalMS,
		warmupUntil:     now.Add(WarmupDuration),
	}
}

// SetFrameIntervalMS overrides the assumed frame cadence used to turn
// excess delay into a packet count.
func (c *Compensator) SetFrameIntervalMS(ms float64) {
	if ms > 0 {
		c.frameIntervalMS = ms
	}
}

// Update reports a packet's RTP timestamp and monotonic arrival time.
// It returns 0 during warm-up or when the clock rate is unknown (§I4),
// +N when the sender is slow (insert N silent sequence numbers), -N
// when the sender is fast (drop this packet), or 0 otherwise.
func (c *Compensator) Update(ts uint32, arrival time.Time) int {
	if c.clockRate == 0 {
		return 0
	}
	if arrival.Before(c.warmupUntil) {
		return 0
	}
	if !c.haveRef {
		c.refTS = ts
		c.refTime = arrival
		c.haveRef = true
		return 0
	}

	elapsedTicks := int32(ts - c.refTS)
	expected := c.refTime.Add(time.Duration(float64(elapsedTicks) / float64(c.clockRate) * float64(time.Second)))
	rawDelayMS := arrival.Sub(expected).Seconds() * 1000

	if !c.haveActiveDelay {
		c.activeDelayMS = rawDelayMS
		c.haveActiveDelay = true
	} else {
		c.activeDelayMS = c.activeDelayMS*(1-smoothing) + rawDelayMS*smoothing
	}

	switch {
	case c.activeDelayMS > ThresholdMS:
		n := int((c.activeDelayMS - ThresholdMS) / c.frameIntervalMS)
		if n < 1 {
			n = 1
		}
		c.activeDelayMS -= float64(n) * c.frameIntervalMS
		return n
	case c.activeDelayMS < -ThresholdMS:
		n := int((-c.activeDelayMS - ThresholdMS) / c.frameIntervalMS)
		if n < 1 {
			n = 1
		}
		c.activeDelayMS += float64(n) * c.frameIntervalMS
		return -n
	default:
		return 0
	}
}

// ActiveDelayMS exposes the current smoothed delay estimate, mostly for
// tests and stats reporting.
func (c *Compensator) ActiveDelayMS() float64 { return c.activeDelayMS }
