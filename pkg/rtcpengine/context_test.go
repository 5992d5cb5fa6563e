package rtcpengine

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceptionReportTracksLossAcrossReports(t *testing.T) {
	ctx := NewContext(90000)
	base := time.Unix(0, 0)

	for _, seq := range []uint16{1, 2, 4, 5} { // 3 is lost
		ctx.OnReceive(seq, uint32(seq)*3000, base.Add(time.Duration(seq)*time.Millisecond))
	}

	rr := ctx.BuildReceptionReport(0xAAAA)
	assert.EqualValues(t, 0xAAAA, rr.SSRC)
	assert.EqualValues(t, 1, rr.TotalLost)
	assert.NotZero(t, rr.FractionLost)

	// A second report window with no further loss reports zero lost in
	// the interval even though TotalLost (cumulative) stays nonzero.
	for _, seq := range []uint16{6, 7} {
		ctx.OnReceive(seq, uint32(seq)*3000, base.Add(time.Duration(seq)*time.Millisecond))
	}
	rr2 := ctx.BuildReceptionReport(0xAAAA)
	assert.EqualValues(t, 0, rr2.FractionLost)
}

func TestSenderReportOnlyEmittedWhileSending(t *testing.T) {
	ctx := NewContext(48000)
	assert.Nil(t, ctx.BuildSenderReport(1, time.Now()))

	ctx.RecordSend(160, 48000)
	sr := ctx.BuildSenderReport(1, time.Now())
	require.NotNil(t, sr)
	assert.EqualValues(t, 1, sr.PacketCount)
	assert.EqualValues(t, 160, sr.OctetCount)
}

func TestSplitDecompoundsRTCP(t *testing.T) {
	pli := BuildPLI(1, 2)
	fir := BuildFIR(1, 2, 0)
	buf, err := rtcp.Marshal([]rtcp.Packet{pli, fir})
	require.NoError(t, err)

	pkts, err := Split(buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2)
}
