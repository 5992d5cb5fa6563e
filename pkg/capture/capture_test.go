package capture

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureEmitsOneBlockPerPacket(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf)

	sink.Capture("send", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	sink.Capture("recv", []byte{0x01, 0x02})
	require.NoError(t, sink.Close())

	out := buf.String()
	blocks := strings.Split(strings.TrimRight(out, "\n"), "\n\n")
	require.Len(t, blocks, 2)

	firstLines := strings.Split(blocks[0], "\n")
	assert.True(t, strings.HasPrefix(firstLines[0], "000000 "))
	// Ethernet(14) + IPv4(20) + UDP(8) + 4-byte payload = 46 bytes ⇒
	// three 16-byte lines (16, 16, 14).
	assert.Len(t, firstLines, 3)
}

func TestCaptureFrameContainsPayloadTail(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf)
	sink.Capture("send", []byte{0xAA, 0xBB})
	require.NoError(t, sink.Close())

	assert.Contains(t, buf.String(), "aa bb")
}
