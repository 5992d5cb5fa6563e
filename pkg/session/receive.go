package session

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rtcgate/rtcgate/pkg/rtcpengine"
	"github.com/rtcgate/rtcgate/pkg/rtpio"
)

var errRTXPayloadTooShort = errors.New("session: rtx payload shorter than the 2-byte osn prefix")

// PacketClass identifies what the RFC 7983 first-byte demultiplex
// decided, per spec §4.8's first sentence.
type PacketClass int

const (
	ClassSTUN PacketClass = iota
	ClassZRTPOrTURN
	ClassDTLS
	ClassTURNChannel
	ClassRTPOrRTCP
	ClassUnknown
)

// ClassifyFirstByte implements the RFC 7983 demultiplex table the
// spec spells out literally: 0..3 STUN, 16..19 ZRTP/TURN, 20..63 DTLS,
// 64..79 TURN-channel, 128..191 RTP/RTCP.
func ClassifyFirstByte(b byte) PacketClass {
	switch {
	case b <= 3:
		return ClassSTUN
	case b >= 16 && b <= 19:
		return ClassZRTPOrTURN
	case b >= 20 && b <= 63:
		return ClassDTLS
	case b >= 64 && b <= 79:
		return ClassTURNChannel
	case b >= 128 && b <= 191:
		return ClassRTPOrRTCP
	default:
		return ClassUnknown
	}
}

// ReceiveCallbacks are the plugin/core hooks the receive path invokes,
// per spec §4.8's last sentence and §4.9's slow-link paragraph.
type ReceiveCallbacks struct {
	IncomingRTP   func(video bool, payload []byte)
	SlowLink      func(uplink bool, video bool)
	OnReplayDrop  func()
}

// ReceivedRTP is what ProcessInboundRTP hands back once classification
// and rewriting are done, for the caller to forward/log/meter.
type ReceivedRTP struct {
	Video     bool
	Layer     VideoLayer
	IsRTX     bool
	OSN       uint16
	Seq       uint16
	Timestamp uint32
	NewSSRC   bool
	SeqReset  bool
	Payload   []byte
	SkewDelta int
}

// ProcessInboundRTP implements spec §4.8's RTP branch: SSRC
// classification (audio/video-layer/rtx), RFC 4588 OSN unwrap if rtx,
// skew compensation, NACK-window update, stats.
func (s *Stream) ProcessInboundRTP(comp *Component, raw []byte, now time.Time, cb ReceiveCallbacks) (*ReceivedRTP, error) {
	pkt, err := rtpio.Parse(raw)
	if err != nil {
		return nil, err
	}

	video, layer, isRTX := s.classifySSRC(pkt.Header.SSRC)
	payload := pkt.Payload
	seq := pkt.Header.SequenceNumber
	ts := pkt.Header.Timestamp
	ssrc := pkt.Header.SSRC

	var osn uint16
	if isRTX {
		if len(payload) < 2 {
			return nil, errRTXPayloadTooShort
		}
		osn = uint16(payload[0])<<8 | uint16(payload[1])
		payload = payload[2:]
		seq = osn
		// The unwrapped packet continues the lane under its base SSRC.
		if video {
			ssrc = s.PeerSSRCs.Video[layer]
		} else {
			ssrc = s.PeerSSRCs.Audio
		}
	}

	laneKey := laneKeyFor(video, layer)

	// Continuity rewrite runs between SSRC classification and everything
	// downstream (skew, NACK window, plugin callback), per the data-flow
	// this package's package doc describes: the rest of the receive path
	// must see one continuous sequence/timestamp space per lane even
	// across the SSRC changes classifySSRC just resolved.
	rewriteResult := s.RewriteFor(video, layer).Update(ssrc, &seq, &ts, now)

	skewDelta := 0
	if sk := comp.Skew(laneKey); sk != nil {
		skewDelta = sk.Update(ts, now)
	}

	if nw := comp.NackWindow(laneKey); nw != nil {
		nw.OnReceive(seq, now.UnixMilli())
	}

	comp.RecordIn(len(raw))

	if cb.IncomingRTP != nil {
		cb.IncomingRTP(video, payload)
	}

	return &ReceivedRTP{
		Video:     video,
		Layer:     layer,
		IsRTX:     isRTX,
		OSN:       osn,
		Seq:       seq,
		Timestamp: ts,
		NewSSRC:   rewriteResult.NewSSRC,
		SeqReset:  rewriteResult.SeqReset,
		Payload:   payload,
		SkewDelta: skewDelta,
	}, nil
}

// ProcessInboundRTCP implements spec §4.8's RTCP handling by deferring
// to pkg/rtcpengine.Dispatch against the Stream's per-layer RTCP
// contexts, routing each NACK to the Component's outbound retransmit
// buffer for the NACKed lane via Buffer.OnNack. The retransmission
// packets OnNack returns are not sent from here; they are discarded.
func (s *Stream) ProcessInboundRTCP(comp *Component, raw []byte, cb ReceiveCallbacks) error {
	now := time.Now()
	resolve := func(ssrc uint32) *rtcpengine.Context {
		video, layer, _ := s.classifySSRC(ssrc)
		if !video {
			return s.AudioRTCP
		}
		return s.VideoRTCP[layer]
	}
	return rtcpengine.Dispatch(raw, resolve, rtcpengine.Callbacks{
		OnNack: func(mediaSSRC uint32, pid, blp uint16) {
			video, layer, _ := s.classifySSRC(mediaSSRC)
			key := laneKeyFor(video, layer)
			if buf := comp.Outbound(key); buf != nil {
				buf.OnNack(pid, blp, now)
			}
		},
	})
}

func laneKeyFor(video bool, layer VideoLayer) string {
	if !video {
		return "audio"
	}
	switch layer {
	case LayerLow:
		return "video-0"
	case LayerMid:
		return "video-1"
	default:
		return "video-2"
	}
}

func (s *Stream) classifySSRC(ssrc uint32) (video bool, layer VideoLayer, isRTX bool) {
	if ssrc == s.PeerSSRCs.Audio || ssrc == s.PeerSSRCs.AudioRTX {
		return false, 0, ssrc == s.PeerSSRCs.AudioRTX
	}
	for i, v := range s.PeerSSRCs.Video {
		if ssrc == v {
			return true, VideoLayer(i), false
		}
	}
	for i, v := range s.PeerSSRCs.VideoRTX {
		if ssrc == v {
			return true, VideoLayer(i), true
		}
	}
	return true, LayerHigh, false
}
