package session

import (
	"sync"

	"github.com/rtcgate/rtcgate/pkg/rewrite"
	"github.com/rtcgate/rtcgate/pkg/rtcpengine"
)

// VideoLayer indexes simulcast quality layers, per spec §3's Stream
// entry ("peer SSRCs... plus up to three simulcast layers").
type VideoLayer int

const (
	LayerLow VideoLayer = iota
	LayerMid
	LayerHigh
	numVideoLayers
)

// SSRCSet holds the negotiated SSRCs for one media kind, per spec §3.
type SSRCSet struct {
	Audio      uint32
	AudioRTX   uint32
	Video      [numVideoLayers]uint32
	VideoRTX   [numVideoLayers]uint32
}

// KeyframeDetector reports whether payload starts a new keyframe, for
// the negotiated video codec (VP8/VP9/H264/AV1 each parse differently;
// the Stream holds whichever closure matches what was negotiated).
type KeyframeDetector func(payload []byte) bool

// Stream is the bundled audio+video+data media lane under one Handle,
// per spec §3's Stream entry. Grounded on the teacher's participant.go
// (per-track SSRC/payload-type bookkeeping) generalized into the
// spec's single-bundled-transport model (the teacher instead gives
// each simulcast layer its own ICE transport in some configurations).
type Stream struct {
	mu sync.Mutex

	OurSSRCs  SSRCSet
	PeerSSRCs SSRCSet

	AudioRewrite *rewrite.Context
	VideoRewrite [numVideoLayers]*rewrite.Context

	AudioPT     uint8
	VideoPT     [numVideoLayers]uint8
	RTXToBasePT map[uint8]uint8

	AudioRTCP *rtcpengine.Context
	VideoRTCP [numVideoLayers]*rtcpengine.Context

	NackSent     map[uint16]bool
	NackReceived map[uint16]bool

	SendAudio, RecvAudio bool
	SendVideo, RecvVideo bool

	KeyframeDetector KeyframeDetector

	DTLSRole        int
	RemoteFingerprint string
	FingerprintHash   string
	RemoteICEUfrag    string
	RemoteICEPwd      string

	Component *Component
}

// NewStream constructs a Stream with its rewrite contexts ready, per
// spec §3 ("three RTP rewrite contexts: audio, one-or-up-to-three
// video").
func NewStream() *Stream {
	s := &Stream{
		AudioRewrite: rewrite.New(),
		RTXToBasePT:  make(map[uint8]uint8),
		NackSent:     make(map[uint16]bool),
		NackReceived: make(map[uint16]bool),
	}
	for i := range s.VideoRewrite {
		s.VideoRewrite[i] = rewrite.New()
	}
	return s
}

// RewriteFor returns the rewrite context for a video layer, or
// the audio context if video is false.
func (s *Stream) RewriteFor(video bool, layer VideoLayer) *rewrite.Context {
	if !video {
		return s.AudioRewrite
	}
	return s.VideoRewrite[layer]
}
