package session

import (
	"sync"
	"time"

	"github.com/rtcgate/rtcgate/pkg/ice"
	"github.com/rtcgate/rtcgate/pkg/retransmit"
	"github.com/rtcgate/rtcgate/pkg/skew"
)

// Stats accumulates the per-direction counters of spec §3's Component
// entry ("incoming/outgoing stats: packets, bytes, bytes-in-last-
// second, NACK counters").
type Stats struct {
	PacketsIn, PacketsOut uint64
	BytesIn, BytesOut     uint64
	NacksSent, NacksRecv  uint64
	ReplayDrops           uint64
}

// lane indexes the per-media-per-direction retransmit/nack/skew state
// a Component keeps, per spec §3 ("per-direction-per-media retransmit
// buffers... a sliding window of recently-seen inbound sequence
// numbers per media").
type lane struct {
	outbound *retransmit.Buffer
	nack     *retransmit.NackWindow
	skew     *skew.Compensator
}

// Component is the transport layer under a Stream, per spec §3's
// Component entry: ICE + DTLS + SRTP plus the retransmit/NACK/skew/
// stats state scoped to it.
type Component struct {
	mu sync.Mutex

	ICE *ice.Component

	lanes map[string]*lane // key: "audio"/"video-0"/"video-1"/"video-2"

	stats Stats

	iceFailedAt  time.Time
	dtlsRetransmitAt time.Time
}

// NewComponent constructs a Component wrapping a fresh ICE component.
func NewComponent() *Component {
	return &Component{
		ICE:   ice.NewComponent(),
		lanes: make(map[string]*lane),
	}
}

// Lane returns (creating if needed) the per-media state for key,
// using clockRate and now to seed its skew compensator.
func (c *Component) Lane(key string, capacity int, rfc4588 bool, rtxPT uint8, rtxSSRC uint32, clockRate uint32, now time.Time) *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[key]
	if !ok {
		l = &lane{
			outbound: retransmit.NewBuffer(capacity, rfc4588, rtxPT, rtxSSRC),
			nack:     retransmit.NewNackWindow(0, 50, 0),
			skew:     skew.New(clockRate, now),
		}
		c.lanes[key] = l
	}
	return l
}

// Outbound returns the retransmit buffer for key, or nil if the lane
// was never initialized via Lane.
func (c *Component) Outbound(key string) *retransmit.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lanes[key]; ok {
		return l.outbound
	}
	return nil
}

// NackWindow returns the inbound NACK-generation window for key.
func (c *Component) NackWindow(key string) *retransmit.NackWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lanes[key]; ok {
		return l.nack
	}
	return nil
}

// Skew returns the skew compensator for key.
func (c *Component) Skew(key string) *skew.Compensator {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lanes[key]; ok {
		return l.skew
	}
	return nil
}

// RecordIn/RecordOut fold one packet into the component-wide stats,
// per spec §3's Component.Stats entry.
func (c *Component) RecordIn(bytes int) {
	c.mu.Lock()
	c.stats.PacketsIn++
	c.stats.BytesIn += uint64(bytes)
	c.mu.Unlock()
}

func (c *Component) RecordOut(bytes int) {
	c.mu.Lock()
	c.stats.PacketsOut++
	c.stats.BytesOut += uint64(bytes)
	c.mu.Unlock()
}

func (c *Component) RecordReplayDrop() {
	c.mu.Lock()
	c.stats.ReplayDrops++
	c.mu.Unlock()
}

// Snapshot returns a copy of the current stats.
func (c *Component) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
