// Package rewrite implements the per-lane rewrite context of spec §4.2:
// the state machine that makes a downstream receiver see one continuous
// RTP stream per media lane even as the upstream SSRC changes under a
// plugin source switch, a simulcast layer change, or an ICE restart.
//
// Grounded on the teacher's pkg/sfu/rtpmunger.go (RTPMunger), trimmed to
// the exact contract spec §4.2 describes: base/prev sequence and
// timestamp bookkeeping plus seq/ts offsets, without the teacher's
// range-map-based out-of-order cache (not required by the spec's
// contract, which only promises monotonic *output* per §I1).
package rewrite

import (
	"time"
)

// DefaultStep is used when the negotiated clock rate is unknown; the
// spec calls for "1" in that case.
const DefaultStep = 1

// Context tracks continuity for one media lane (audio, or one video
// simulcast layer) across SSRC changes.
type Context struct {
	initialized bool
	lastSSRC    uint32

	baseSeq     uint16
	baseSeqPrev uint16
	baseTS      uint32
	baseTSPrev  uint32

	seqOffset uint16
	tsOffset  uint32

	lastSeq  uint16
	lastTS   uint32
	lastTime time.Time

	newSSRC  bool
	seqReset bool

	// Step is the timestamp increment applied to a fresh SSRC's first
	// packet when no better estimate is available (one frame at the
	// negotiated clock rate). Defaults to DefaultStep.
	Step uint32
}

// New returns a Context ready for its first Update.
func New() *Context {
	return &Context{Step: DefaultStep}
}

// Result carries what Update did, for callers that want to log or count
// transitions without re-deriving them from Context state.
type Result struct {
	NewSSRC  bool
	SeqReset bool
}

// Update rewrites seq and ts in place given the incoming SSRC/seq/ts,
// per spec §4.2. Callers must serialize calls per lane (the stream
// mutex, per §4.2 "Ordering").
func (c *Context) Update(ssrc uint32, seq *uint16, ts *uint32, now time.Time) Result {
	c.newSSRC = false
	c.seqReset = false

	incomingSeq := *seq
	incomingTS := *ts

	if !c.initialized {
		c.initialized = true
		c.lastSSRC = ssrc
		c.baseSeq = incomingSeq
		c.baseSeqPrev = incomingSeq
		c.baseTS = incomingTS
		c.baseTSPrev = incomingTS
		c.seqOffset = 0
		c.tsOffset = 0
		c.lastSeq = incomingSeq
		c.lastTS = incomingTS
		c.lastTime = now
		return Result{}
	}

	if ssrc != c.lastSSRC {
		c.newSSRC = true
		c.lastSSRC = ssrc

		c.baseTSPrev = c.baseTS
		c.baseTS = incomingTS
		c.baseSeqPrev = c.baseSeq
		c.baseSeq = incomingSeq

		// outgoing seq must be lastSeq+1: seq_offset = incomingSeq - (lastSeq+1)
		c.seqOffset = incomingSeq - (c.lastSeq + 1)
		// outgoing ts must be lastTS+step: ts_offset = incomingTS - (lastTS+step)
		c.tsOffset = incomingTS - (c.lastTS + c.Step)
	} else if seqWrapped(c.lastSeq+c.seqOffset, incomingSeq) {
		c.seqReset = true
		c.baseSeqPrev = c.baseSeq
		c.baseSeq = incomingSeq
		c.seqOffset = incomingSeq - (c.lastSeq + 1)
	}

	outSeq := incomingSeq - c.seqOffset
	outTS := incomingTS - c.tsOffset

	*seq = outSeq
	*ts = outTS

	c.lastSeq = outSeq
	c.lastTS = outTS
	c.lastTime = now

	return Result{NewSSRC: c.newSSRC, SeqReset: c.seqReset}
}

// maxSeqReorder bounds how far a sequence number may fall behind
// the last incoming one before it reads as a peer-side reset rather than ordinary
// misordering. Comparable in spirit to RFC 3550 Appendix A.1's
// MAX_MISORDER, just looser since this lane has no RTCP-driven probation
// step to fall back on.
const maxSeqReorder = 3000

// seqWrapped reports a peer-side reset without an SSRC change: an
// incoming sequence number that has fallen behind lastInSeq (the
// previous packet's incoming sequence number, i.e. the last rewritten
// one plus the current offset) by more than ordinary misordering
// accounts for looks like a restart rather than routine reordering. The
// comparison is modular (mirroring pkg/rtcpengine's seqGreater), so a
// legitimate 65535->0 rollover, which is forward progress by exactly
// one, is never mistaken for a reset.
func seqWrapped(lastInSeq, incomingSeq uint16) bool {
	delta := int16(incomingSeq - lastInSeq)
	return delta < -maxSeqReorder
}

// LastSeq and LastTS expose the current continuity anchors, e.g. for
// generating padding/silence between real packets.
func (c *Context) LastSeq() uint16    { return c.lastSeq }
func (c *Context) LastTS() uint32     { return c.lastTS }
func (c *Context) LastSSRC() uint32   { return c.lastSSRC }
func (c *Context) SeqOffset() uint16  { return c.seqOffset }
func (c *Context) TSOffset() uint32   { return c.tsOffset }

// BumpSeq advances the continuity anchor by n without a real packet,
// used by the skew compensator (§4.3) to emit silent sequence numbers.
// It widens seqOffset so the next real packet's rewrite stays
// consistent with the gap just introduced.
func (c *Context) BumpSeq(n uint16) {
	c.lastSeq += n
	c.seqOffset -= n
}
