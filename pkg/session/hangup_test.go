package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 6 from spec §8: inject a DTLS alert, state transitions to
// ALERT, plugin hangup_media is called exactly once, and free is
// deferred by at least one watchdog tick.
func TestDTLSAlertHangupSequencing(t *testing.T) {
	sess := NewSession(1)
	h := NewHandle(sess, "test-plugin")
	sess.AddHandle(h)

	var hangupCalls int
	var notifiedReason string
	cb := PluginHangupCallbacks{
		HangupMedia:     func(uint64) { hangupCalls++ },
		NotifySignaling: func(_ uint64, reason string) { notifiedReason = reason },
	}

	h.HangupMediaPhase(ReasonDTLSAlert, cb)
	assert.True(t, h.Flags.Has(FlagAlert))
	assert.True(t, h.Flags.Has(FlagStop))
	assert.Equal(t, 1, hangupCalls)
	assert.Equal(t, ReasonDTLSAlert, notifiedReason)

	// A second phase-one call must not invoke the plugin again.
	h.HangupMediaPhase(ReasonDTLSAlert, cb)
	assert.Equal(t, 1, hangupCalls)

	// Handle is still registered until the watchdog's grace period
	// elapses and phase two runs.
	_, err := sess.Handle(h.ID)
	require.NoError(t, err)

	wd := NewWatchdog(10 * time.Millisecond)
	wd.ScheduleFree(h.ID)

	wd.Tick(time.Now(), func(id uint64) *Handle {
		hh, _ := sess.Handle(id)
		return hh
	})
	_, err = sess.Handle(h.ID)
	require.NoError(t, err, "free must not happen before the grace period elapses")

	wd.Tick(time.Now().Add(20*time.Millisecond), func(id uint64) *Handle {
		hh, _ := sess.Handle(id)
		return hh
	})
	_, err = sess.Handle(h.ID)
	assert.ErrorIs(t, err, ErrHandleNotFound)
}
