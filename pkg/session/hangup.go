package session

import (
	"time"
)

// HangupReason strings match spec §7's fixed set ("dtls-alert",
// "ice-failed") plus the generic ones spec §4.10 and §6 call for.
const (
	ReasonDTLSAlert  = "dtls-alert"
	ReasonICEFailed  = "ice-failed"
	ReasonClientDestroy = "client-destroy"
	ReasonIdleReap   = "idle-reap"
)

// PluginHangupCallbacks are the plugin-facing calls phase one/two of
// hangup make, per spec §4.10.
type PluginHangupCallbacks struct {
	HangupMedia func(handleID uint64)
	NotifySignaling func(handleID uint64, reason string)
}

// HangupMediaPhase implements spec §4.10 phase one ("webrtc hangup"):
// mark STOP+ALERT, stop DTLS retransmits, close the ICE agent
// gracefully, invoke the plugin's hangup_media exactly once, and
// notify signaling with reason. Idempotent: a second call (STOP already
// set) or a call on an already-cleaning handle is a no-op.
func (h *Handle) HangupMediaPhase(reason string, cb PluginHangupCallbacks) {
	h.mu.Lock()
	if h.Flags.Has(FlagCleaning) || h.Flags.Has(FlagStop) {
		h.mu.Unlock()
		return
	}
	h.Flags.Set(FlagStop)
	h.Flags.Set(FlagAlert)
	h.HangupReason = reason
	stream := h.Stream
	h.mu.Unlock()

	if stream != nil && stream.Component != nil {
		_ = stream.Component.ICE.Close()
	}

	if cb.HangupMedia != nil {
		cb.HangupMedia(h.ID)
	}
	if cb.NotifySignaling != nil {
		cb.NotifySignaling(h.ID, reason)
	}
}

// FreePhase implements spec §4.10 phase two ("webrtc free"): it marks
// the handle CLEANING, stops its send worker and deregisters it from
// its session. The ICE agent was already closed in phase one; the
// stream, component and retransmit buffers are not released explicitly
// here, only dropped along with the handle. Must only run after
// HangupMediaPhase and after the watchdog grace period so in-flight
// callbacks have drained, per spec's phase-two sentence.
func (h *Handle) FreePhase() {
	h.mu.Lock()
	if h.Flags.Has(FlagCleaning) {
		h.mu.Unlock()
		return
	}
	h.Flags.Set(FlagCleaning)
	sess := h.Session
	id := h.ID
	h.mu.Unlock()

	h.Stop()

	if sess != nil {
		sess.RemoveHandle(id)
	}
}

// Watchdog periodically frees handles whose hangup phase one completed
// at least GracePeriod ago, per spec §5's watchdog paragraph and
// §4.10's "scheduled from a watchdog a short time later".
type Watchdog struct {
	GracePeriod time.Duration
	pending     map[uint64]time.Time
}

// NewWatchdog constructs a Watchdog with the given grace period (0
// uses a 2-second default, matching typical in-flight-callback
// drain windows for a single send-worker tick).
func NewWatchdog(grace time.Duration) *Watchdog {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &Watchdog{GracePeriod: grace, pending: make(map[uint64]time.Time)}
}

// ScheduleFree registers h for phase-two free after the grace period,
// called right after HangupMediaPhase.
func (w *Watchdog) ScheduleFree(handleID uint64) {
	w.pending[handleID] = time.Now().Add(w.GracePeriod)
}

// Tick runs FreePhase on every handle whose grace period has elapsed,
// given a lookup from ID to Handle (the caller's Session/Manager owns
// that mapping).
func (w *Watchdog) Tick(now time.Time, lookup func(uint64) *Handle) {
	for id, deadline := range w.pending {
		if now.Before(deadline) {
			continue
		}
		if h := lookup(id); h != nil {
			h.FreePhase()
		}
		delete(w.pending, id)
	}
}

// SlowLinkDetector implements spec §4.9: counts NACKs issued within
// the last second per direction per media and invokes the plugin's
// slow_link callback at most once per second when the count exceeds
// threshold.
type SlowLinkDetector struct {
	Threshold int

	windowStart time.Time
	count       int
	lastNotify  time.Time
}

// NewSlowLinkDetector constructs a detector with the given threshold
// (NACKs/second).
func NewSlowLinkDetector(threshold int) *SlowLinkDetector {
	return &SlowLinkDetector{Threshold: threshold}
}

// RecordNack folds one NACK event into the 1-second window and
// returns true if slow_link should fire now.
func (d *SlowLinkDetector) RecordNack(now time.Time) bool {
	if now.Sub(d.windowStart) >= time.Second {
		d.windowStart = now
		d.count = 0
	}
	d.count++
	if d.count <= d.Threshold {
		return false
	}
	if now.Sub(d.lastNotify) < time.Second {
		return false
	}
	d.lastNotify = now
	return true
}
