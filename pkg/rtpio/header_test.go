package rtpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1 from spec §8: a minimal header with no CSRC, no extension.
func TestParseScenarioOne(t *testing.T) {
	buf := []byte{0x80, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xE8, 0xDE, 0xAD, 0xBE, 0xEF}

	pkt, err := Parse(buf)
	require.NoError(t, err)

	assert.EqualValues(t, 2, pkt.Header.Version)
	assert.EqualValues(t, 96, pkt.Header.PayloadType)
	assert.EqualValues(t, 1, pkt.Header.SequenceNumber)
	assert.EqualValues(t, 1000, pkt.Header.Timestamp)
	assert.EqualValues(t, 0xDEADBEEF, pkt.Header.SSRC)
	assert.False(t, pkt.Header.Extension)
	assert.Empty(t, pkt.Header.CSRC)
	assert.Equal(t, fixedHeaderSize, pkt.Header.HeaderSize())
}

func TestRoundTripWithCSRCAndOneByteExtension(t *testing.T) {
	orig := &Packet{
		Header: Header{
			Version:          2,
			Marker:           true,
			PayloadType:      111,
			SequenceNumber:   4242,
			Timestamp:        908070,
			SSRC:             0x11223344,
			CSRC:             []uint32{0xAAAAAAAA, 0xBBBBBBBB},
			Extension:        true,
			ExtensionProfile: oneByteExtensionProfile,
			Extensions: []Extension{
				{ID: 1, Payload: []byte{0x20}},
				{ID: 3, Payload: MarshalAbsSendTime(0x123456)},
			},
		},
		Payload: []byte("hello-rtp-payload"),
	}

	buf, err := orig.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, orig.Header.SequenceNumber, parsed.Header.SequenceNumber)
	assert.Equal(t, orig.Header.Timestamp, parsed.Header.Timestamp)
	assert.Equal(t, orig.Header.SSRC, parsed.Header.SSRC)
	assert.Equal(t, orig.Header.CSRC, parsed.Header.CSRC)
	assert.Equal(t, orig.Payload, parsed.Payload)
	require.Len(t, parsed.Header.Extensions, 2)
	assert.Equal(t, uint8(1), parsed.Header.Extensions[0].ID)
	assert.Equal(t, []byte{0x20}, parsed.Header.Extensions[0].Payload)

	// byte-exact round trip
	buf2, err := parsed.Marshal()
	require.NoError(t, err)
	assert.Equal(t, buf, buf2)
}

func TestRoundTripTwoByteExtension(t *testing.T) {
	orig := &Packet{
		Header: Header{
			Version:          2,
			PayloadType:      96,
			SequenceNumber:   1,
			Timestamp:        1,
			SSRC:             1,
			Extension:        true,
			ExtensionProfile: twoByteExtensionProfile,
			Extensions: []Extension{
				{ID: 5, Payload: MarshalRID("h")},
			},
		},
		Payload: []byte{1, 2, 3},
	}

	buf, err := orig.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(buf)
	require.NoError(t, err)
	require.Len(t, parsed.Header.Extensions, 1)
	assert.Equal(t, "h", ParseRID(parsed.Header.Extensions[0].Payload))
}

func TestPaddingIsStripped(t *testing.T) {
	// 12-byte header + 3 bytes payload + 2 padding bytes (last byte = pad length)
	buf := []byte{0xA0, 0x60, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0, 0, 0, 1, 'a', 'b', 'c', 0, 2}
	pkt, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c'}, pkt.Payload)
	assert.Equal(t, 2, pkt.PaddingSize)
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse([]byte{0x80, 0x60})
	require.Error(t, err)
}

func TestParseWrongVersion(t *testing.T) {
	buf := []byte{0x00, 0x60, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0, 0, 0, 1}
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrInvalidVersion)
}
