// Package retransmit implements the outbound NACK/RTX retransmit cache
// and the inbound NACK-generation window of spec §4.4.
//
// Buffer is grounded on the teacher's pkg/sfu/sequencer.go (a bounded
// ring of per-sequence packet metadata with a dedup/rate-limit field
// per slot) combined with pkg/sfu/nacklist.go's FIFO dedup-by-time-
// window idiom, generalized to the spec's literal RFC 4588 wrap
// contract (OSN prefix, rtx SSRC/PT, monotonically increasing rtx
// sequence number).
package retransmit

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pkg/errors"

	"github.com/rtcgate/rtcgate/pkg/rtpio"
)

// DefaultCapacity is the default bound on packets retained per
// media lane per direction (spec §3 invariant (d)).
const DefaultCapacity = 300

// DedupWindow is how long a given sequence number's retransmission is
// deduplicated for, per spec §4.4 ("(seq, 10ms)").
const DedupWindow = 10 * time.Millisecond

var ErrNotFound = errors.New("retransmit: sequence number not in buffer")

type stored struct {
	seq     uint16
	payload []byte // full serialized RTP packet, post-rewrite
	valid   bool
}

// Buffer is the outbound retransmit cache for one media lane in one
// direction.
type Buffer struct {
	mu sync.Mutex

	capacity int
	slots    []stored
	bySeq    map[uint16]int // seq -> slot index, only for seqs currently valid

	dedup map[uint16]time.Time

	rfc4588  bool
	rtxPT    uint8
	rtxSSRC  uint32
	nextRtxSeq uint16

	logSuppressUntil time.Time
}

// NewBuffer constructs a Buffer with the given capacity (0 uses
// DefaultCapacity). rfc4588 selects whether hits are wrapped in an rtx
// packet (PT=rtxPT, SSRC=rtxSSRC) or resent unchanged.
func NewBuffer(capacity int, rfc4588 bool, rtxPT uint8, rtxSSRC uint32) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		slots:    make([]stored, capacity),
		bySeq:    make(map[uint16]int, capacity),
		dedup:    make(map[uint16]time.Time),
		rfc4588:  rfc4588,
		rtxPT:    rtxPT,
		rtxSSRC:  rtxSSRC,
	}
}

// Push records a sent RTP packet (already rewritten) for possible later
// retransmission. Evicts the oldest occupant of the target slot.
func (b *Buffer) Push(seq uint16, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot := int(seq) % b.capacity
	if old := b.slots[slot]; old.valid {
		delete(b.bySeq, old.seq)
	}
	cp := append([]byte(nil), payload...)
	b.slots[slot] = stored{seq: seq, payload: cp, valid: true}
	b.bySeq[seq] = slot
}

// OnNack processes one (PID, BLP) report pair per spec §4.4/§8 scenario
// 3: PID is the first missing sequence number, BLP's bit i (0-indexed)
// additionally reports PID+1+i as missing. Returns the wire-ready
// packets to send, in ascending sequence order, skipping sequences not
// present in the buffer and sequences retransmitted within DedupWindow.
func (b *Buffer) OnNack(pid uint16, blp uint16, now time.Time) [][]byte {
	seqs := seqsFromNack(pid, blp)

	b.mu.Lock()
	defer b.mu.Unlock()

	var out [][]byte
	for _, seq := range seqs {
		slot, ok := b.bySeq[seq]
		if !ok {
			continue
		}
		s := b.slots[slot]
		if !s.valid || s.seq != seq {
			continue
		}
		if last, seen := b.dedup[seq]; seen && now.Sub(last) < DedupWindow {
			continue
		}
		b.dedup[seq] = now

		pkt, err := b.buildRetransmission(s.payload)
		if err != nil {
			continue
		}
		out = append(out, pkt)
	}
	pruneDedup(b.dedup, now)
	return out
}

func (b *Buffer) buildRetransmission(original []byte) ([]byte, error) {
	if !b.rfc4588 {
		return append([]byte(nil), original...), nil
	}

	parsed, err := rtpio.Parse(original)
	if err != nil {
		return nil, err
	}

	osn := parsed.Header.SequenceNumber
	rtxPayload := make([]byte, 2+len(parsed.Payload))
	rtxPayload[0] = byte(osn >> 8)
	rtxPayload[1] = byte(osn)
	copy(rtxPayload[2:], parsed.Payload)

	b.nextRtxSeq++
	rtxHeader := parsed.Header
	rtxHeader.PayloadType = b.rtxPT
	rtxHeader.SSRC = b.rtxSSRC
	rtxHeader.SequenceNumber = b.nextRtxSeq

	pkt := &rtpio.Packet{Header: rtxHeader, Payload: rtxPayload}
	return pkt.Marshal()
}

func seqsFromNack(pid uint16, blp uint16) []uint16 {
	seqs := make([]uint16, 0, 17)
	seqs = append(seqs, pid)
	for i := 0; i < 16; i++ {
		if blp&(1<<uint(i)) != 0 {
			seqs = append(seqs, pid+1+uint16(i))
		}
	}
	return seqs
}

func pruneDedup(m map[uint16]time.Time, now time.Time) {
	if len(m) < 4096 {
		return
	}
	for seq, t := range m {
		if now.Sub(t) > 10*DedupWindow {
			delete(m, seq)
		}
	}
}

// FromRTCPNack flattens a pion/rtcp TransportLayerNack into the (pid,
// blp) pairs its Nacks field carries, for callers that parse RTCP
// compound packets with pion/rtcp (spec §4.5).
func FromRTCPNack(n *rtcp.TransportLayerNack) []struct {
	PID uint16
	BLP uint16
} {
	out := make([]struct {
		PID uint16
		BLP uint16
	}, 0, len(n.Nacks))
	for _, p := range n.Nacks {
		out = append(out, struct {
			PID uint16
			BLP uint16
		}{PID: p.PacketID, BLP: uint16(p.LostPackets)})
	}
	return out
}

// ShouldLog rate-limits "retransmission" log lines to at most once per
// interval, per spec §4.4 ("rate-limited by a per-log counter to avoid
// log flooding").
func (b *Buffer) ShouldLog(now time.Time, interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.logSuppressUntil) {
		return false
	}
	b.logSuppressUntil = now.Add(interval)
	return true
}
