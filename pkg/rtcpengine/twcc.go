package rtcpengine

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/gammazero/deque"
	"github.com/pion/rtcp"
)

// TWCC feedback generation follows the wire layout RFC draft
// draft-holmer-rmcat-transport-wide-cc-extensions mandates: a header
// (base seq/count/reference time), a run of run-length or status-vector
// chunks, then a delta block in quarter-millisecond units. The chunk/
// delta packing below is grounded on the teacher's pkg/sfu/twcc
// Responder for that wire shape, restructured around this package's
// per-lane Context: cadence thresholds are Context fields rather than
// package constants, and chunk emission is split into its own type
// instead of living directly on the report builder.
const (
	headerSeqOffset  = 8
	headerCountOffset = 10
	headerRefTimeOffset = 12

	deltaUnitUS   = 250   // one TWCC delta tick, in microseconds (250us)
	refTimeUnitUS = 64000 // reference-time tick, in microseconds (64ms)
)

// defaultReportCadence holds the fallback thresholds a fresh Context
// uses until SetTWCCCadence overrides them.
var defaultReportCadence = twccCadence{
	minBeforeReport:  20,
	maxBeforeReport:  100,
	interval:         100 * time.Millisecond,
	intervalOnMarker: 50 * time.Millisecond,
}

type twccCadence struct {
	minBeforeReport  int
	maxBeforeReport  int
	interval         time.Duration
	intervalOnMarker time.Duration
}

// SetTWCCCadence overrides the default reporting thresholds for a lane,
// e.g. to report more aggressively on a lane carrying a low-latency
// data channel. Zero fields keep their default.
func (c *Context) SetTWCCCadence(minBeforeReport, maxBeforeReport int, interval, intervalOnMarker time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cad := &c.twcc.cadence
	if *cad == (twccCadence{}) {
		*cad = defaultReportCadence
	}
	if minBeforeReport > 0 {
		cad.minBeforeReport = minBeforeReport
	}
	if maxBeforeReport > 0 {
		cad.maxBeforeReport = maxBeforeReport
	}
	if interval > 0 {
		cad.interval = interval
	}
	if intervalOnMarker > 0 {
		cad.intervalOnMarker = intervalOnMarker
	}
}

// arrival is one transport-wide sequence number's recorded receipt.
type arrival struct {
	extSeq    uint32
	recvAtUS  int64 // microseconds; 0 means a gap-filled "not received" slot
}

// chunkWriter accumulates the header/chunk/delta bytes of one TWCC
// feedback packet as they're produced, kept separate from the sequence-
// bookkeeping half of twccState so the byte-packing logic can be read
// (and adapted) on its own.
type chunkWriter struct {
	header    [100]byte
	headerLen uint16
	deltas    [200]byte
	deltaLen  uint16
	bits      uint16
}

func (w *chunkWriter) writeHeader(baseSeq, count uint16, refTimeTicks uint32, feedbackCount uint8, senderSSRC, mediaSSRC uint32) {
	binary.BigEndian.PutUint32(w.header[0:], senderSSRC)
	binary.BigEndian.PutUint32(w.header[4:], mediaSSRC)
	binary.BigEndian.PutUint16(w.header[headerSeqOffset:], baseSeq)
	binary.BigEndian.PutUint16(w.header[headerCountOffset:], count)
	binary.BigEndian.PutUint32(w.header[headerRefTimeOffset:], refTimeTicks<<8|uint32(feedbackCount))
	w.headerLen = 16
}

func (w *chunkWriter) writeRunLength(symbol, runLength uint16) {
	binary.BigEndian.PutUint16(w.header[w.headerLen:], symbol<<13|runLength)
	w.headerLen += 2
}

// packSymbol folds one status symbol into the in-progress vector chunk
// at slot i; width is 1 for a one-bit chunk, 2 for a two-bit chunk.
func (w *chunkWriter) packSymbol(width, symbol uint16, i int) {
	bitWidth := width + 1
	w.bits = setBits(w.bits, bitWidth, bitWidth*uint16(i)+2, symbol)
}

// flushSymbolChunk writes the vector-chunk marker bits and commits the
// accumulated chunk to the header buffer.
func (w *chunkWriter) flushSymbolChunk(width uint16) {
	w.bits = setBits(w.bits, 1, 0, 1)
	w.bits = setBits(w.bits, 1, 1, width)
	binary.BigEndian.PutUint16(w.header[w.headerLen:], w.bits)
	w.bits = 0
	w.headerLen += 2
}

// popSymbols drains exactly n statuses off the front of list into a
// vector chunk of the given width.
func (w *chunkWriter) popSymbols(width uint16, n int, list *deque.Deque[any]) {
	for i := 0; i < n; i++ {
		w.packSymbol(width, list.PopFront().(uint16), i)
	}
	w.flushSymbolChunk(width)
}

func (w *chunkWriter) writeDelta(kind, delta uint16) {
	if kind == rtcp.TypeTCCPacketReceivedSmallDelta {
		w.deltas[w.deltaLen] = byte(delta)
		w.deltaLen++
		return
	}
	binary.BigEndian.PutUint16(w.deltas[w.deltaLen:], delta)
	w.deltaLen += 2
}

func setBits(dst, width, offset, val uint16) uint16 {
	if offset+width > 16 {
		return 0
	}
	val &= (1 << width) - 1
	return dst | (val << (16 - width - offset))
}

// twccState is the per-lane transport-wide-congestion-control feedback
// accumulator embedded in Context.
type twccState struct {
	cadence twccCadence

	pending      []arrival
	highWaterExt uint32

	reportedAtNS int64
	cycles       uint32
	rawLastSeq   uint16
	sawFirstSeq  bool
	feedbackCount uint8
	feedbackSSRC  uint32

	chunkWriter
}

// RecordArrival pushes one transport-wide sequence number read off the
// RFC 5285 extension of an inbound RTP packet, per spec §4.5 ("stored
// for our own feedback generation"). Returns a ready-to-send TWCC
// feedback packet once the lane's reporting cadence is reached.
func (c *Context) RecordArrival(transportSeq uint16, nowNS int64, marker bool) rtcp.RawPacket {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &c.twcc
	if t.cadence == (twccCadence{}) {
		t.cadence = defaultReportCadence
	}
	if t.feedbackSSRC == 0 {
		t.feedbackSSRC = rand.Uint32()
	}

	if !t.sawFirstSeq {
		t.sawFirstSeq = true
	} else if transportSeq < 0x0fff && (t.rawLastSeq&0xffff) > 0xf000 {
		t.cycles += 1 << 16
	}
	t.rawLastSeq = transportSeq

	t.pending = append(t.pending, arrival{
		extSeq:   t.cycles | uint32(transportSeq),
		recvAtUS: nowNS / 1e3,
	})
	if t.reportedAtNS == 0 {
		t.reportedAtNS = nowNS
	}

	elapsed := nowNS - t.reportedAtNS
	due := elapsed >= t.cadence.interval.Nanoseconds() ||
		len(t.pending) > t.cadence.maxBeforeReport ||
		(marker && elapsed >= t.cadence.intervalOnMarker.Nanoseconds())

	if len(t.pending) <= t.cadence.minBeforeReport || !due {
		return nil
	}

	pkt := t.build(c.lastExtMediaSSRC)
	if pkt != nil {
		t.reportedAtNS = nowNS
	}
	return pkt
}

// SetMediaSSRC records the "SSRC of media source" field TWCC feedback
// headers should carry; set by the caller before the first
// RecordArrival. Defaults to 0 if never set (some senders tolerate that).
func (c *Context) SetMediaSSRC(ssrc uint32) {
	c.mu.Lock()
	c.lastExtMediaSSRC = ssrc
	c.mu.Unlock()
}

// fillSequenceGaps sorts the pending arrivals and inserts a synthetic
// "not received" placeholder for every extended sequence number skipped
// since the last report, so the status vector below covers every
// transport-wide sequence number in range rather than just the ones we
// actually saw.
func (t *twccState) fillSequenceGaps() []arrival {
	sort.Slice(t.pending, func(i, j int) bool { return t.pending[i].extSeq < t.pending[j].extSeq })

	out := make([]arrival, 0, int(float64(len(t.pending))*1.2))
	for _, rec := range t.pending {
		if rec.extSeq < t.highWaterExt {
			continue
		}
		if t.highWaterExt != 0 {
			for gap := t.highWaterExt + 1; gap < rec.extSeq; gap++ {
				out = append(out, arrival{extSeq: gap})
			}
		}
		t.highWaterExt = rec.extSeq
		out = append(out, rec)
	}
	t.pending = t.pending[:0]
	return out
}

// statusRun tracks the run of pending status symbols the encoder hasn't
// yet committed to a chunk: whether they're still all one status
// (uniform run-length candidate) or have diverged (needs a status-vector
// chunk instead).
type statusRun struct {
	items    deque.Deque[any]
	uniform  bool
	lastKind uint16
	maxKind  uint16
}

func newStatusRun() *statusRun {
	r := &statusRun{uniform: true, lastKind: rtcp.TypeTCCPacketReceivedWithoutDelta}
	r.items.SetMinCapacity(3)
	return r
}

func (r *statusRun) reset() {
	r.items.Clear()
	r.uniform = true
	r.lastKind = rtcp.TypeTCCPacketReceivedWithoutDelta
	r.maxKind = rtcp.TypeTCCPacketNotReceived
}

// rescan recomputes uniform/lastKind/maxKind over whatever is left in
// items after a partial flush, since a vector-chunk flush only drains
// the symbols it needed and the rest still need their run state folded.
func (r *statusRun) rescan() {
	r.lastKind = rtcp.TypeTCCPacketReceivedWithoutDelta
	r.maxKind = rtcp.TypeTCCPacketNotReceived
	r.uniform = true
	for i := 0; i < r.items.Len(); i++ {
		kind := r.items.At(i).(uint16)
		if kind > r.maxKind {
			r.maxKind = kind
		}
		if r.uniform && r.lastKind != rtcp.TypeTCCPacketReceivedWithoutDelta && kind != r.lastKind {
			r.uniform = false
		}
		r.lastKind = kind
	}
}

func (t *twccState) build(mediaSSRC uint32) rtcp.RawPacket {
	records := t.fillSequenceGaps()
	if len(records) == 0 {
		return nil
	}

	run := newStatusRun()
	firstRecv := false
	var refTimeUS int64

	for _, rec := range records {
		kind := rtcp.TypeTCCPacketNotReceived
		if rec.recvAtUS != 0 {
			if !firstRecv {
				firstRecv = true
				refTick := rec.recvAtUS / refTimeUnitUS
				refTimeUS = refTick * refTimeUnitUS
				t.writeHeader(uint16(records[0].extSeq), uint16(len(records)), uint32(refTick), t.feedbackCount, t.feedbackSSRC, mediaSSRC)
				t.feedbackCount++
			}
			kind = t.emitDelta(rec.recvAtUS, &refTimeUS)
		}

		if run.uniform && kind != run.lastKind && run.lastKind != rtcp.TypeTCCPacketReceivedWithoutDelta {
			if run.items.Len() > 7 {
				t.writeRunLength(run.lastKind, uint16(run.items.Len()))
				run.reset()
			} else {
				run.uniform = false
			}
		}
		run.items.PushBack(kind)
		if kind > run.maxKind {
			run.maxKind = kind
		}
		run.lastKind = kind

		switch {
		case !run.uniform && run.maxKind == rtcp.TypeTCCPacketReceivedLargeDelta && run.items.Len() > 6:
			t.popSymbols(rtcp.TypeTCCSymbolSizeTwoBit, 7, &run.items)
			run.rescan()
		case !run.uniform && run.items.Len() > 13:
			t.popSymbols(rtcp.TypeTCCSymbolSizeOneBit, 14, &run.items)
			run.reset()
		}
	}

	t.flushRemainder(run)

	if !firstRecv {
		t.deltaLen = 0
		return nil
	}
	return t.assemblePacket()
}

// emitDelta writes the quarter-millisecond receive delta for one
// arrival relative to *refTimeUS (the feedback packet's reference time
// for the first received arrival, the previous received arrival after
// that), returning the status kind it used.
func (t *twccState) emitDelta(recvAtUS int64, refTimeUS *int64) uint16 {
	d := (recvAtUS - *refTimeUS) / deltaUnitUS
	*refTimeUS = recvAtUS

	if d < 0 || d > 255 {
		clamped := int16(d)
		if int64(clamped) != d {
			if clamped > 0 {
				clamped = math.MaxInt16
			} else {
				clamped = math.MinInt16
			}
		}
		t.writeDelta(rtcp.TypeTCCPacketReceivedLargeDelta, uint16(clamped))
		return rtcp.TypeTCCPacketReceivedLargeDelta
	}
	t.writeDelta(rtcp.TypeTCCPacketReceivedSmallDelta, uint16(d))
	return rtcp.TypeTCCPacketReceivedSmallDelta
}

// flushRemainder commits whatever status run is left once every record
// has been folded in, choosing a run-length or vector chunk the same
// way the per-record loop does.
func (t *twccState) flushRemainder(run *statusRun) {
	switch {
	case run.items.Len() == 0:
		return
	case run.uniform:
		t.writeRunLength(run.lastKind, uint16(run.items.Len()))
	case run.maxKind == rtcp.TypeTCCPacketReceivedLargeDelta:
		t.popSymbols(rtcp.TypeTCCSymbolSizeTwoBit, run.items.Len(), &run.items)
	default:
		t.popSymbols(rtcp.TypeTCCSymbolSizeOneBit, run.items.Len(), &run.items)
	}
}

func (t *twccState) assemblePacket() rtcp.RawPacket {
	bodyLen := t.headerLen + t.deltaLen + 4
	needsPad := bodyLen%4 != 0
	var padSize uint8
	for bodyLen%4 != 0 {
		padSize++
		bodyLen++
	}
	hdr := rtcp.Header{
		Padding: needsPad,
		Length:  (bodyLen / 4) - 1,
		Count:   rtcp.FormatTCC,
		Type:    rtcp.TypeTransportSpecificFeedback,
	}
	hb, _ := hdr.Marshal()

	pkt := make(rtcp.RawPacket, bodyLen)
	copy(pkt, hb)
	copy(pkt[4:], t.header[:t.headerLen])
	copy(pkt[4+t.headerLen:], t.deltas[:t.deltaLen])
	if needsPad {
		pkt[len(pkt)-1] = padSize
	}
	t.headerLen = 0
	t.deltaLen = 0
	return pkt
}
