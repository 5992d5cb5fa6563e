package retransmit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcgate/rtcgate/pkg/rtpio"
)

func packetFor(seq uint16) []byte {
	pkt := &rtpio.Packet{
		Header: rtpio.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 160,
			SSRC:           0x1234,
		},
		Payload: []byte{byte(seq), byte(seq >> 8)},
	}
	b, _ := pkt.Marshal()
	return b
}

// Scenario 3 from spec §8, decoded per RFC 4585 BLP semantics (bit i,
// 0-indexed from the LSB, reports sequence PID+1+i as also lost): PID=42
// with BLP=0x0005 requests {42, 43, 45}. Of those, only 42 is present in
// a buffer holding {42, 44, 47} — 43 and 45 were never cached (already
// evicted or never sent), so only 42 is retransmitted.
func TestNackRetransmitsOnlyBufferedRequestedSeqs(t *testing.T) {
	buf := NewBuffer(300, false, 0, 0)
	buf.Push(42, packetFor(42))
	buf.Push(44, packetFor(44))
	buf.Push(47, packetFor(47))

	out := buf.OnNack(42, 0x0005, time.Unix(0, 0))
	require.Len(t, out, 1)

	parsed, err := rtpio.Parse(out[0])
	require.NoError(t, err)
	assert.EqualValues(t, 42, parsed.Header.SequenceNumber)
}

// A NACK that requests exactly what's buffered retransmits all of it.
func TestNackRetransmitsAllBufferedRequested(t *testing.T) {
	buf := NewBuffer(300, false, 0, 0)
	buf.Push(10, packetFor(10))
	buf.Push(11, packetFor(11))
	buf.Push(13, packetFor(13))

	// PID=10, bit0 -> 11, bit2 -> 13
	out := buf.OnNack(10, 0x0005, time.Unix(0, 0))
	require.Len(t, out, 3)
}

// I2: retransmission payload is identical to the original, and under
// RFC 4588 the OSN equals the requested sequence number.
func TestRFC4588WrapsWithOSN(t *testing.T) {
	buf := NewBuffer(300, true, 110, 0xFEED)
	original := packetFor(7)
	buf.Push(7, original)

	out := buf.OnNack(7, 0, time.Unix(0, 0))
	require.Len(t, out, 1)

	parsed, err := rtpio.Parse(out[0])
	require.NoError(t, err)
	assert.EqualValues(t, 110, parsed.Header.PayloadType)
	assert.EqualValues(t, 0xFEED, parsed.Header.SSRC)

	osn := uint16(parsed.Payload[0])<<8 | uint16(parsed.Payload[1])
	assert.EqualValues(t, 7, osn)

	origParsed, _ := rtpio.Parse(original)
	assert.Equal(t, origParsed.Payload, parsed.Payload[2:])
}

func TestDedupSuppressesRepeatWithinWindow(t *testing.T) {
	buf := NewBuffer(300, false, 0, 0)
	buf.Push(5, packetFor(5))

	now := time.Unix(0, 0)
	out1 := buf.OnNack(5, 0, now)
	require.Len(t, out1, 1)

	out2 := buf.OnNack(5, 0, now.Add(5*time.Millisecond))
	assert.Len(t, out2, 0, "same seq requested again within dedup window should be suppressed")

	out3 := buf.OnNack(5, 0, now.Add(11*time.Millisecond))
	assert.Len(t, out3, 1, "after dedup window elapses, retransmission resumes")
}

func TestCapacityBoundEvictsOldest(t *testing.T) {
	buf := NewBuffer(4, false, 0, 0)
	for seq := uint16(0); seq < 4; seq++ {
		buf.Push(seq, packetFor(seq))
	}
	// seq 4 lands on the same slot as seq 0 (4 % 4 == 0) and evicts it.
	buf.Push(4, packetFor(4))

	out := buf.OnNack(0, 0, time.Unix(0, 0))
	assert.Empty(t, out)

	out = buf.OnNack(4, 0, time.Unix(0, 0))
	require.Len(t, out, 1)
}
