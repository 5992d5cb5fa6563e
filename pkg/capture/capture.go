// Package capture implements spec §6's persisted capture format:
// "Packet captures use text2pcap format (hex-dumped pseudo-Ethernet
// frames) emitted synchronously in the send/receive path."
//
// Grounded on no direct teacher analog (the teacher has no
// packet-capture sink); built in the small io-sink style of the
// teacher's pkg/buffer helpers, generalized to a line-oriented text
// encoder. Stdlib only (bufio, encoding/binary, fmt) — justified because
// text2pcap's hex-dump format has no ecosystem encoder anywhere in the
// retrieved pack.
package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// pseudo source/dest used to wrap each captured payload in a minimal
// Ethernet+IPv4+UDP frame so text2pcap (or any tool that reads its
// output) can reconstruct a loadable pcap without guessing link type.
var (
	pseudoEtherSrc = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	pseudoEtherDst = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	pseudoIPSrc    = [4]byte{127, 0, 0, 1}
	pseudoIPDst    = [4]byte{127, 0, 0, 2}
)

const (
	portSend = 10000
	portRecv = 10001
)

// Sink writes text2pcap-format hex dumps synchronously; it implements
// pkg/session.CaptureSink.
type Sink struct {
	mu    sync.Mutex
	w     *bufio.Writer
	under io.Writer
	seq   uint64
}

// NewSink wraps w (typically an *os.File opened for the capture
// file).
func NewSink(w io.Writer) *Sink {
	return &Sink{w: bufio.NewWriter(w), under: w}
}

// Capture implements pkg/session.CaptureSink: wrap payload in a
// pseudo-Ethernet/IPv4/UDP frame and emit it as one text2pcap-format
// hex-dump block, flushing synchronously per spec §6.
func (s *Sink) Capture(direction string, payload []byte) {
	frame := wrapPseudoFrame(direction, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	writeHexDumpBlock(s.w, frame)
	s.w.Flush()
}

// Close flushes and, if the underlying writer supports it, closes the
// capture file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if c, ok := s.under.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func wrapPseudoFrame(direction string, payload []byte) []byte {
	srcPort, dstPort := uint16(portSend), uint16(portRecv)
	if direction == "recv" {
		srcPort, dstPort = dstPort, srcPort
	}

	udpLen := 8 + len(payload)
	ipLen := 20 + udpLen

	frame := make([]byte, 0, 14+ipLen)
	frame = append(frame, pseudoEtherDst[:]...)
	frame = append(frame, pseudoEtherSrc[:]...)
	frame = append(frame, 0x08, 0x00) // EtherType IPv4

	ip := make([]byte, 20)
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen))
	ip[8] = 64 // TTL
	ip[9] = 17 // UDP
	copy(ip[12:16], pseudoIPSrc[:])
	copy(ip[16:20], pseudoIPDst[:])
	// checksum intentionally left zero: text2pcap/Wireshark recompute
	// or ignore it for synthetic captures, and spec §6 does not
	// require a verifiable checksum, only a loadable frame shape.
	frame = append(frame, ip...)

	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	frame = append(frame, udp...)

	frame = append(frame, payload...)
	return frame
}

// writeHexDumpBlock writes one text2pcap input block: 16
// space-separated hex byte pairs per line, each line prefixed by a
// 6-digit hex offset, followed by a blank line separating it from the
// next frame.
func writeHexDumpBlock(w *bufio.Writer, frame []byte) {
	for offset := 0; offset < len(frame); offset += 16 {
		end := offset + 16
		if end > len(frame) {
			end = len(frame)
		}
		fmt.Fprintf(w, "%06x", offset)
		for _, b := range frame[offset:end] {
			fmt.Fprintf(w, " %02x", b)
		}
		w.WriteByte('\n')
	}
	w.WriteByte('\n')
}
