// Package session implements spec §3 (data model) and §4.7/§4.8/§4.10
// (send path, receive path, hangup sequencing) plus the locking
// hierarchy of §5.
//
// Grounded on the teacher's pkg/rtc/participant.go and room.go for the
// object-graph shape (Session owns Handles, a Handle owns exactly one
// Stream, a Stream owns one Component) and on its buffered-channel
// queue idiom (participant.go's rtcpCh) for the send path, generalized
// to the spec's single dedicated per-handle send worker rather than
// the teacher's several per-purpose channels.
package session

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/rtcgate/rtcgate/pkg/gatewayerrors"
)

// newHandleID derives a 64-bit Handle ID from a random UUID, per spec
// §3's "64-bit ID" attribute.
func newHandleID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// CaptureSink receives a copy of every outbound packet before
// encryption, per spec §4.7 ("A capture sink, if configured, receives
// a copy of each packet before encryption"). pkg/capture implements
// this.
type CaptureSink interface {
	Capture(direction string, payload []byte)
}

// PacketKind distinguishes the three things the send worker can write.
type PacketKind int

const (
	KindRTP PacketKind = iota
	KindRTCP
	KindData
)

// QueuedPacket is one item on a Handle's outbound packet queue, per
// spec §4.7's first sentence.
type QueuedPacket struct {
	Kind    PacketKind
	Video   bool
	Payload []byte
}

const defaultQueueCapacity = 512

// Handle is one PeerConnection attempt, per spec §3's Handle entry.
type Handle struct {
	mu sync.Mutex

	ID          uint64
	Session     *Session
	PluginName  string
	PluginCookie interface{}
	Correlator  string
	CreatedAt   time.Time

	Flags Flags

	LocalSDP  string
	RemoteSDP string

	HangupReason string

	Stream *Stream

	queue   chan QueuedPacket
	stopCh  chan struct{}
	stopped bool

	capture CaptureSink

	trickleQueue []TrickleCandidate

	log logr.Logger

	onWrite func(QueuedPacket) error
}

// NewHandle constructs a Handle bound to sess, with its own send
// queue, per spec §3's Handle attribute list.
func NewHandle(sess *Session, pluginName string) *Handle {
	return &Handle{
		ID:         newHandleID(),
		Session:    sess,
		PluginName: pluginName,
		CreatedAt:  time.Now(),
		queue:      make(chan QueuedPacket, defaultQueueCapacity),
		stopCh:     make(chan struct{}),
		log:        logr.Discard(),
	}
}

// SetLogger attaches a named logger for this handle.
func (h *Handle) SetLogger(l logr.Logger) { h.log = l }

// SetCapture configures (or clears, with nil) the capture sink.
func (h *Handle) SetCapture(c CaptureSink) {
	h.mu.Lock()
	h.capture = c
	h.mu.Unlock()
}

// SetWriter installs the function the send worker calls to actually
// put bytes on the wire (the caller composes it from pkg/rewrite,
// pkg/retransmit and pkg/ice; cmd/server's writer does rewrite →
// retransmit bookkeeping → ICE write, with no encryption step).
func (h *Handle) SetWriter(f func(QueuedPacket) error) {
	h.mu.Lock()
	h.onWrite = f
	h.mu.Unlock()
}

// Enqueue puts one packet on the send queue, per spec §4.7. If the
// handle is cleaning or the queue is full it drops the packet without
// blocking the producer and reports the drop only through its return
// value; Enqueue keeps no drop counter.
func (h *Handle) Enqueue(p QueuedPacket) (dropped bool) {
	if h.Flags.Cleaning() {
		return true
	}
	select {
	case h.queue <- p:
		return false
	default:
		return true
	}
}

// RunSendWorker drains the queue until Stop is called; it is the only
// writer of this handle's socket, per invariant (c). Errors classified
// as transient are retried up to maxRetries; anything else (or a
// torn-down component) drops the packet and increments dropped.
func (h *Handle) RunSendWorker(maxRetries int) {
	dropped := 0
	for {
		select {
		case pkt := <-h.queue:
			h.mu.Lock()
			capture := h.capture
			writer := h.onWrite
			h.mu.Unlock()

			if capture != nil {
				capture.Capture("send", pkt.Payload)
			}
			if writer == nil {
				continue
			}

			var err error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				err = writer(pkt)
				if err == nil {
					break
				}
				if gatewayerrors.Classify(err) != gatewayerrors.CodeTransientIO {
					break
				}
			}
			if err != nil {
				dropped++
				h.log.V(1).Info("send worker dropped packet", "reason", err.Error(), "droppedTotal", dropped)
			}
		case <-h.stopCh:
			return
		}
	}
}

// Stop signals RunSendWorker to exit at its next suspension point, per
// spec §5's cancellation paragraph.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopCh)
}

// QueueTrickle buffers a trickle candidate that arrived before the
// offer finished processing, per spec §3's Trickle-candidate entry.
func (h *Handle) QueueTrickle(tc TrickleCandidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Flags.Has(FlagProcessingOffer) {
		h.trickleQueue = append(h.trickleQueue, tc)
		return
	}
}

// DrainTrickleQueue returns and clears the buffered trickle
// candidates, in receipt order, once PROCESSING_OFFER clears.
func (h *Handle) DrainTrickleQueue() []TrickleCandidate {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.trickleQueue
	h.trickleQueue = nil
	return out
}

// TrickleCandidate is buffered/applied ICE candidate metadata, per
// spec §3's Trickle-candidate entry.
type TrickleCandidate struct {
	HandleID      uint64
	Transaction   string
	Candidate     string // raw JSON candidate object
	ReceivedAt    time.Time
	EndOfCandidates bool
}
