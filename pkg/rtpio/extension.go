package rtpio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Well-known extension URIs, per spec §4.1. These map one-to-one to the
// wire IDs negotiated in the SDP extmap (pkg/ice's MediaSection.ExtMap).
const (
	URISSRCAudioLevel    = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	URITransmissionOffset = "urn:ietf:params:rtp-hdrext:toffset"
	URIAbsSendTime       = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	URIVideoOrientation  = "urn:3gpp:video-orientation"
	URITransportWideCC   = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	URIPlayoutDelay      = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	URIRID               = "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
)

var ErrExtensionTooSmall = errors.New("rtp: extension payload too small")

// AudioLevel decodes the one-byte ssrc-audio-level extension: high bit
// is voice-activity, low 7 bits are level in -dBov.
type AudioLevel struct {
	Voice bool
	Level uint8
}

func ParseAudioLevel(payload []byte) (AudioLevel, error) {
	if len(payload) < 1 {
		return AudioLevel{}, ErrExtensionTooSmall
	}
	return AudioLevel{Voice: payload[0]&0x80 != 0, Level: payload[0] & 0x7F}, nil
}

func (a AudioLevel) Marshal() []byte {
	b := a.Level & 0x7F
	if a.Voice {
		b |= 0x80
	}
	return []byte{b}
}

// TransmissionOffset is the 24-bit signed offset (in negotiated clock
// rate units) between capture and transmission time.
func ParseTransmissionOffset(payload []byte) (int32, error) {
	if len(payload) < 3 {
		return 0, ErrExtensionTooSmall
	}
	v := int32(payload[0])<<16 | int32(payload[1])<<8 | int32(payload[2])
	if v&0x800000 != 0 { // sign-extend 24-bit
		v |= ^0xFFFFFF
	}
	return v, nil
}

// AbsSendTime is a 24-bit fixed-point (6.18) NTP-style timestamp.
func ParseAbsSendTime(payload []byte) (uint32, error) {
	if len(payload) < 3 {
		return 0, ErrExtensionTooSmall
	}
	return uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2]), nil
}

func MarshalAbsSendTime(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// VideoOrientation decodes the C/F/R1/R0 bits of the coordination-of-
// video-orientation extension.
type VideoOrientation struct {
	CameraBack     bool // C
	FlippedHoriz   bool // F
	Rotation       uint16 // R1R0: 0, 90, 180, 270 degrees
}

func ParseVideoOrientation(payload []byte) (VideoOrientation, error) {
	if len(payload) < 1 {
		return VideoOrientation{}, ErrExtensionTooSmall
	}
	b := payload[0]
	rotBits := b & 0x03
	var rotation uint16
	switch rotBits {
	case 0:
		rotation = 0
	case 1:
		rotation = 90
	case 2:
		rotation = 180
	case 3:
		rotation = 270
	}
	return VideoOrientation{
		CameraBack:   b&0x08 != 0,
		FlippedHoriz: b&0x04 != 0,
		Rotation:     rotation,
	}, nil
}

// TransportWideSequenceNumber decodes the 16-bit TWCC sequence counter.
func ParseTransportWideSequenceNumber(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, ErrExtensionTooSmall
	}
	return binary.BigEndian.Uint16(payload), nil
}

func MarshalTransportWideSequenceNumber(sn uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, sn)
	return b
}

// PlayoutDelay decodes the two 12-bit min/max fields, in 10ms units on
// the wire (returned here already scaled to milliseconds).
type PlayoutDelay struct {
	MinMS uint16
	MaxMS uint16
}

func ParsePlayoutDelay(payload []byte) (PlayoutDelay, error) {
	if len(payload) < 3 {
		return PlayoutDelay{}, ErrExtensionTooSmall
	}
	min := (uint16(payload[0])<<4 | uint16(payload[1])>>4) * 10
	max := (uint16(payload[1]&0x0F)<<8 | uint16(payload[2])) * 10
	return PlayoutDelay{MinMS: min, MaxMS: max}, nil
}

func (p PlayoutDelay) Marshal() ([]byte, error) {
	min, max := p.MinMS/10, p.MaxMS/10
	if min >= 1<<12 || max >= 1<<12 {
		return nil, errors.New("rtp: playout delay overflow")
	}
	return []byte{byte(min >> 4), byte(min<<4) | byte(max>>8), byte(max)}, nil
}

// RID decodes the variable-length ASCII RTP stream id / repair-RTP
// stream id extension used to identify simulcast layers.
func ParseRID(payload []byte) string {
	return string(payload)
}

func MarshalRID(rid string) []byte {
	return []byte(rid)
}
