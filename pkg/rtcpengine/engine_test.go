package rtcpengine

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesPLIAndNack(t *testing.T) {
	var pliSSRC uint32
	var nackPID, nackBLP uint16
	var nackSSRC uint32

	cb := Callbacks{
		OnPictureLossIndication: func(ssrc uint32) { pliSSRC = ssrc },
		OnNack: func(mediaSSRC uint32, pid, blp uint16) {
			nackSSRC, nackPID, nackBLP = mediaSSRC, pid, blp
		},
	}

	pli := &rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 99}
	nack := &rtcp.TransportLayerNack{
		SenderSSRC: 1,
		MediaSSRC:  77,
		Nacks:      []rtcp.NackPair{{PacketID: 42, LostPackets: 0x0005}},
	}
	buf, err := rtcp.Marshal([]rtcp.Packet{pli, nack})
	require.NoError(t, err)

	require.NoError(t, Dispatch(buf, nil, cb))
	assert.EqualValues(t, 99, pliSSRC)
	assert.EqualValues(t, 77, nackSSRC)
	assert.EqualValues(t, 42, nackPID)
	assert.EqualValues(t, 0x0005, nackBLP)
}

func TestDispatchUpdatesSenderReportOnContext(t *testing.T) {
	ctx := NewContext(90000)
	sr := &rtcp.SenderReport{SSRC: 5, NTPTime: 123456, RTPTime: 7890}
	buf, err := rtcp.Marshal([]rtcp.Packet{sr})
	require.NoError(t, err)

	resolve := func(ssrc uint32) *Context { return ctx }
	require.NoError(t, Dispatch(buf, resolve, Callbacks{}))
	assert.True(t, ctx.haveLastSR)
	assert.EqualValues(t, 123456, ctx.lastSRNTP)
}

func TestBuildCompoundReportIncludesRRAndSRWhenSending(t *testing.T) {
	ctx := NewContext(90000)
	ctx.OnReceive(1, 3000, time.Now())
	ctx.RecordSend(200, 3000)

	buf, err := BuildCompoundReport(ctx, 0x1, time.Now())
	require.NoError(t, err)

	pkts, err := rtcp.Unmarshal(buf)
	require.NoError(t, err)
	require.Len(t, pkts, 2)
}
