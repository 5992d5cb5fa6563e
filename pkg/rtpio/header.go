// Package rtpio implements a bit-exact codec for the fixed RTP header,
// its CSRC list, and RFC 5285 one-byte/two-byte extension maps. It owns
// no network or media semantics; it only turns wire bytes into a Header
// plus a payload slice and back.
package rtpio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	version = 2

	fixedHeaderSize  = 12
	versionShift     = 6
	paddingBit       = 0x20
	extensionBit     = 0x10
	csrcCountMask    = 0x0F
	markerBit        = 0x80
	payloadTypeMask  = 0x7F

	oneByteExtensionProfile = 0xBEDE
	twoByteExtensionProfile = 0x1000
)

var (
	ErrHeaderTooSmall    = errors.New("rtp: buffer too small for header")
	ErrInvalidVersion    = errors.New("rtp: invalid version")
	ErrHeaderSizeInsufficient = errors.New("rtp: buffer too small for csrc/extension")
	ErrTooManyExtensions = errors.New("rtp: too many extensions for profile")
)

// Extension is one parsed RFC 5285 extension element, keyed by wire ID
// (1..14 for one-byte, 1..255 for two-byte).
type Extension struct {
	ID      uint8
	Payload []byte
}

// Header is the fixed 12-byte RTP header plus CSRCs and extensions.
type Header struct {
	Version          uint8
	Padding          bool
	Extension        bool
	Marker           bool
	PayloadType      uint8
	SequenceNumber   uint16
	Timestamp        uint32
	SSRC             uint32
	CSRC             []uint32
	ExtensionProfile uint16
	Extensions       []Extension
}

// Packet is a parsed RTP packet: header plus the payload with any
// trailing padding already removed.
type Packet struct {
	Header  Header
	Payload []byte
	// PaddingSize is the number of trailing padding bytes (including the
	// length byte itself) that were present on the wire and stripped.
	PaddingSize int
}

// HeaderSize returns the number of bytes the header (CSRCs and
// extensions included) occupies, i.e. the payload's start offset.
func (h *Header) HeaderSize() int {
	size := fixedHeaderSize + (len(h.CSRC) * 4)
	if h.Extension {
		size += 4 + h.extensionBlockSize()
	}
	return size
}

func (h *Header) extensionBlockSize() int {
	total := 0
	if h.ExtensionProfile == oneByteExtensionProfile {
		for _, e := range h.Extensions {
			total += 1 + len(e.Payload)
		}
	} else if h.ExtensionProfile == twoByteExtensionProfile {
		for _, e := range h.Extensions {
			total += 2 + len(e.Payload)
		}
	} else {
		for _, e := range h.Extensions {
			total += len(e.Payload)
		}
	}
	// round up to a 4-byte boundary per RFC 3550 §5.3.1.
	if rem := total % 4; rem != 0 {
		total += 4 - rem
	}
	return total
}

// Parse decodes buf into a Packet. Marshal(Parse(buf)) reproduces buf,
// including the extension map, except that padding between one-byte
// extension elements is re-chosen (see Marshal).
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < fixedHeaderSize {
		return nil, ErrHeaderTooSmall
	}

	h := Header{}
	h.Version = buf[0] >> versionShift
	if h.Version != version {
		return nil, ErrInvalidVersion
	}
	h.Padding = buf[0]&paddingBit != 0
	h.Extension = buf[0]&extensionBit != 0
	cc := int(buf[0] & csrcCountMask)

	h.Marker = buf[1]&markerBit != 0
	h.PayloadType = buf[1] & payloadTypeMask

	h.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])

	offset := fixedHeaderSize
	if len(buf) < offset+cc*4 {
		return nil, ErrHeaderSizeInsufficient
	}
	if cc > 0 {
		h.CSRC = make([]uint32, cc)
		for i := 0; i < cc; i++ {
			h.CSRC[i] = binary.BigEndian.Uint32(buf[offset : offset+4])
			offset += 4
		}
	}

	if h.Extension {
		if len(buf) < offset+4 {
			return nil, ErrHeaderSizeInsufficient
		}
		h.ExtensionProfile = binary.BigEndian.Uint16(buf[offset : offset+2])
		extLenWords := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		offset += 4
		extBlockSize := extLenWords * 4
		if len(buf) < offset+extBlockSize {
			return nil, ErrHeaderSizeInsufficient
		}
		block := buf[offset : offset+extBlockSize]
		offset += extBlockSize

		switch h.ExtensionProfile {
		case oneByteExtensionProfile:
			h.Extensions = parseOneByteExtensions(block)
		case twoByteExtensionProfile:
			h.Extensions = parseTwoByteExtensions(block)
		default:
			// Unknown/non-RFC-5285 extension profile: keep it opaque so
			// the packet still relays, per spec §4.1 ("a parse failure
			// for a known extension is non-fatal").
			h.Extensions = []Extension{{ID: 0, Payload: append([]byte(nil), block...)}}
		}
	}

	payload := buf[offset:]
	paddingSize := 0
	if h.Padding && len(payload) > 0 {
		paddingSize = int(payload[len(payload)-1])
		if paddingSize > len(payload) {
			return nil, ErrHeaderSizeInsufficient
		}
		payload = payload[:len(payload)-paddingSize]
	}

	return &Packet{Header: h, Payload: payload, PaddingSize: paddingSize}, nil
}

func parseOneByteExtensions(block []byte) []Extension {
	var exts []Extension
	i := 0
	for i < len(block) {
		b := block[i]
		if b == 0x00 { // padding byte between extensions
			i++
			continue
		}
		id := b >> 4
		length := int(b&0x0F) + 1
		if id == 0x0F { // reserved "stop parsing" marker
			break
		}
		i++
		if i+length > len(block) {
			break
		}
		exts = append(exts, Extension{ID: id, Payload: append([]byte(nil), block[i:i+length]...)})
		i += length
	}
	return exts
}

func parseTwoByteExtensions(block []byte) []Extension {
	var exts []Extension
	i := 0
	for i+2 <= len(block) {
		id := block[i]
		length := int(block[i+1])
		if id == 0 { // padding
			i++
			continue
		}
		i += 2
		if i+length > len(block) {
			break
		}
		exts = append(exts, Extension{ID: id, Payload: append([]byte(nil), block[i:i+length]...)})
		i += length
	}
	return exts
}

// Marshal serializes p back to wire bytes, byte-exact with whatever was
// parsed (modulo re-choosing padding between one-byte extension
// elements, which carries no semantic meaning).
func (p *Packet) Marshal() ([]byte, error) {
	h := &p.Header
	size := h.HeaderSize() + len(p.Payload)
	if p.PaddingSize > 0 {
		size += p.PaddingSize
	}
	buf := make([]byte, size)

	b0 := h.Version << versionShift
	if h.Padding || p.PaddingSize > 0 {
		b0 |= paddingBit
	}
	if h.Extension {
		b0 |= extensionBit
	}
	b0 |= uint8(len(h.CSRC)) & csrcCountMask
	buf[0] = b0

	b1 := h.PayloadType & payloadTypeMask
	if h.Marker {
		b1 |= markerBit
	}
	buf[1] = b1

	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)

	offset := fixedHeaderSize
	for _, c := range h.CSRC {
		binary.BigEndian.PutUint32(buf[offset:offset+4], c)
		offset += 4
	}

	if h.Extension {
		extBlockSize := h.extensionBlockSize()
		binary.BigEndian.PutUint16(buf[offset:offset+2], h.ExtensionProfile)
		binary.BigEndian.PutUint16(buf[offset+2:offset+4], uint16(extBlockSize/4))
		offset += 4
		block := buf[offset : offset+extBlockSize]
		if err := marshalExtensions(h.ExtensionProfile, h.Extensions, block); err != nil {
			return nil, err
		}
		offset += extBlockSize
	}

	copy(buf[offset:], p.Payload)
	offset += len(p.Payload)

	if p.PaddingSize > 0 {
		buf[len(buf)-1] = byte(p.PaddingSize)
	}

	return buf, nil
}

func marshalExtensions(profile uint16, exts []Extension, block []byte) error {
	i := 0
	switch profile {
	case oneByteExtensionProfile:
		for _, e := range exts {
			if e.ID == 0 || e.ID > 14 || len(e.Payload) == 0 || len(e.Payload) > 16 {
				return ErrTooManyExtensions
			}
			block[i] = (e.ID << 4) | uint8(len(e.Payload)-1)
			i++
			copy(block[i:], e.Payload)
			i += len(e.Payload)
		}
	case twoByteExtensionProfile:
		for _, e := range exts {
			if len(e.Payload) > 255 {
				return ErrTooManyExtensions
			}
			block[i] = e.ID
			block[i+1] = uint8(len(e.Payload))
			i += 2
			copy(block[i:], e.Payload)
			i += len(e.Payload)
		}
	default:
		for _, e := range exts {
			copy(block[i:], e.Payload)
			i += len(e.Payload)
		}
	}
	for ; i < len(block); i++ {
		block[i] = 0
	}
	return nil
}
