package retransmit

import "sync"

// NackState is the state of one inbound sequence-number slot, per spec
// §4.4 second paragraph.
type NackState int

const (
	StateRecved NackState = iota
	StateMissing
	StateNacked
	StateGiveup
)

// DefaultWindowSize is the fixed window length ("last 160 received
// sequence numbers per media") from spec §4.4.
const DefaultWindowSize = 160

// DefaultGiveUpAfterMS bounds how long a NACKED slot waits for a
// retransmit before giving up, per spec §4.4 ("default 1 second").
const DefaultGiveUpAfterMS = 1000

type nackSlot struct {
	seq      uint16
	state    NackState
	sinceSeq int64 // monotonic "now" marker (ms) when the slot entered its current state
	occupied bool
}

// NackWindow tracks, per media lane, the last DefaultWindowSize inbound
// sequence numbers and promotes gaps through
// MISSING -> NACKED -> GIVEUP on a timer, generating NACKs along the
// way. Grounded on the teacher's pkg/sfu/sequencer.go ring-buffer idiom
// (fixed-size slot array indexed by sequence number modulo window
// size, slots recycled in FIFO order as sequence numbers advance); the
// state machine itself has no teacher analog (pion/webrtc's interceptor
// chain does this invisibly) and is built directly from the spec's
// literal MISSING/NACKED/GIVEUP/RECVED contract.
type NackWindow struct {
	mu sync.Mutex

	size        int
	slots       []nackSlot
	rttMS       int64
	giveUpAfter int64

	highest    uint16
	hasHighest bool
}

// NewNackWindow constructs a window. rttMS is the current RTT estimate
// used to delay MISSING->NACKED promotion; giveUpAfterMS bounds
// NACKED->GIVEUP (0 uses DefaultGiveUpAfterMS). size<=0 uses
// DefaultWindowSize.
func NewNackWindow(size int, rttMS int64, giveUpAfterMS int64) *NackWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if giveUpAfterMS <= 0 {
		giveUpAfterMS = DefaultGiveUpAfterMS
	}
	return &NackWindow{
		size:        size,
		slots:       make([]nackSlot, size),
		rttMS:       rttMS,
		giveUpAfter: giveUpAfterMS,
	}
}

// SetRTT updates the RTT estimate used for MISSING->NACKED promotion.
func (w *NackWindow) SetRTT(rttMS int64) {
	w.mu.Lock()
	w.rttMS = rttMS
	w.mu.Unlock()
}

func seqGreater(a, b uint16) bool { return int16(a-b) > 0 }

// OnReceive records an inbound sequence number arriving at monotonic
// time nowMS. Any intermediate, not-yet-seen sequence numbers between
// the previous highest and seq enter MISSING.
func (w *NackWindow) OnReceive(seq uint16, nowMS int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasHighest {
		w.setSlot(seq, StateRecved, nowMS)
		w.highest = seq
		w.hasHighest = true
		return
	}

	if seqGreater(seq, w.highest) {
		for s := w.highest + 1; s != seq; s++ {
			w.setSlot(s, StateMissing, nowMS)
		}
		w.setSlot(seq, StateRecved, nowMS)
		w.highest = seq
	} else {
		// late arrival of a previously-missing (or reordered) sequence.
		w.setSlot(seq, StateRecved, nowMS)
	}
}

func (w *NackWindow) setSlot(seq uint16, state NackState, nowMS int64) {
	idx := int(seq) % w.size
	w.slots[idx] = nackSlot{seq: seq, state: state, sinceSeq: nowMS, occupied: true}
}

// Tick advances timers and returns the sequence numbers that just
// crossed MISSING->NACKED (i.e. should be NACKed now).
func (w *NackWindow) Tick(nowMS int64) []uint16 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var toNack []uint16
	for i := range w.slots {
		s := &w.slots[i]
		if !s.occupied {
			continue
		}
		switch s.state {
		case StateMissing:
			if nowMS-s.sinceSeq >= w.rttMS {
				s.state = StateNacked
				s.sinceSeq = nowMS
				toNack = append(toNack, s.seq)
			}
		case StateNacked:
			if nowMS-s.sinceSeq >= w.giveUpAfter {
				s.state = StateGiveup
				s.sinceSeq = nowMS
			}
		}
	}
	return toNack
}

// State reports the current state of seq, if it's still within the
// window (false if it was recycled out).
func (w *NackWindow) State(seq uint16) (NackState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := int(seq) % w.size
	s := w.slots[idx]
	if s.occupied && s.seq == seq {
		return s.state, true
	}
	return 0, false
}
