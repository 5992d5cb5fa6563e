package rtcpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordArrivalEmitsFeedbackAfterHundredPending(t *testing.T) {
	ctx := NewContext(90000)
	ctx.SetMediaSSRC(0xCAFE)

	var pkt []byte
	for i := uint16(0); i < 101; i++ {
		if p := ctx.RecordArrival(i, int64(i)*1e6, false); p != nil {
			pkt = p
		}
	}
	require.NotNil(t, pkt, "expected a TWCC feedback packet once pending exceeds 100")
	assert.Greater(t, len(pkt), 16, "feedback packet should carry at least the fixed header")
}

func TestRecordArrivalRespectsMarkerCadence(t *testing.T) {
	ctx := NewContext(90000)
	ctx.SetMediaSSRC(1)

	for i := uint16(0); i < 25; i++ {
		ctx.RecordArrival(i, int64(i)*1e6, false)
	}
	// Past 20 pending and past the marker threshold (50ms), a marker
	// packet should force a report out even though the 100ms/100-packet
	// thresholds haven't been reached.
	pkt := ctx.RecordArrival(25, 55e6, true)
	assert.NotNil(t, pkt)
}
