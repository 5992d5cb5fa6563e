package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcgate/rtcgate/pkg/rtpio"
)

func TestClassifyFirstByteMatchesRFC7983(t *testing.T) {
	assert.Equal(t, ClassSTUN, ClassifyFirstByte(0))
	assert.Equal(t, ClassSTUN, ClassifyFirstByte(3))
	assert.Equal(t, ClassZRTPOrTURN, ClassifyFirstByte(16))
	assert.Equal(t, ClassDTLS, ClassifyFirstByte(20))
	assert.Equal(t, ClassDTLS, ClassifyFirstByte(63))
	assert.Equal(t, ClassTURNChannel, ClassifyFirstByte(64))
	assert.Equal(t, ClassRTPOrRTCP, ClassifyFirstByte(128))
	assert.Equal(t, ClassRTPOrRTCP, ClassifyFirstByte(191))
	assert.Equal(t, ClassUnknown, ClassifyFirstByte(200))
}

func rtpBytes(ssrc uint32, seq uint16, ts uint32, payload []byte) []byte {
	pkt := &rtpio.Packet{
		Header: rtpio.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	b, _ := pkt.Marshal()
	return b
}

func TestProcessInboundRTPClassifiesAudioAndUnwrapsRTX(t *testing.T) {
	s := NewStream()
	s.PeerSSRCs.Audio = 0xA001
	s.PeerSSRCs.Video[LayerHigh] = 0xB001
	s.PeerSSRCs.VideoRTX[LayerHigh] = 0xB0FF

	comp := NewComponent()
	now := time.Now()
	comp.Lane("audio", 0, false, 0, 0, 48000, now)
	comp.Lane("video-2", 0, true, 97, 0xCAFE, 90000, now)

	audioPkt := rtpBytes(0xA001, 10, 1000, []byte{1, 2, 3})
	got, err := s.ProcessInboundRTP(comp, audioPkt, now, ReceiveCallbacks{})
	require.NoError(t, err)
	assert.False(t, got.Video)
	assert.False(t, got.IsRTX)
	assert.Equal(t, []byte{1, 2, 3}, got.Payload)

	rtxPayload := append([]byte{0, 42}, []byte{9, 9}...) // OSN=42
	rtxPkt := rtpBytes(0xB0FF, 500, 9000, rtxPayload)
	got2, err := s.ProcessInboundRTP(comp, rtxPkt, now, ReceiveCallbacks{})
	require.NoError(t, err)
	assert.True(t, got2.Video)
	assert.True(t, got2.IsRTX)
	assert.EqualValues(t, 42, got2.OSN)
	assert.Equal(t, []byte{9, 9}, got2.Payload)
}

func TestSlowLinkFiresOnceAboveThresholdPerSecond(t *testing.T) {
	d := NewSlowLinkDetector(3)
	now := time.Now()

	assert.False(t, d.RecordNack(now))
	assert.False(t, d.RecordNack(now))
	assert.False(t, d.RecordNack(now))
	assert.True(t, d.RecordNack(now), "4th NACK within the window crosses the threshold")
	assert.False(t, d.RecordNack(now.Add(10*time.Millisecond)), "re-notify suppressed within 1s")
	// A fresh one-second window needs more than Threshold NACKs again.
	assert.False(t, d.RecordNack(now.Add(1100*time.Millisecond)))
	assert.False(t, d.RecordNack(now.Add(1100*time.Millisecond)))
	assert.False(t, d.RecordNack(now.Add(1100*time.Millisecond)))
	assert.True(t, d.RecordNack(now.Add(1100*time.Millisecond)))
}
