package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
[general]
stun_server = stun.example.com
stun_port = 3478
turn_server = turn.example.com
turn_type = tcp

[media]
rtp_port_range = 20000-40000
ice_lite = true
full_trickle = true
nack_queue = 500
no_media_timer = 5
rfc4588 = true

[nat]
enforce_interface = eth0

[auth]
token_auth = true
token_secret = sekrit

[plugins]
disable = janus.plugin.recordplay,janus.plugin.video

[transports]
disable = janus.transport.mqtt
`

func writeTempINI(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rtcgate.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempINI(t, sampleINI)
	snap, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stun.example.com", snap.General.STUNServer)
	assert.EqualValues(t, 3478, snap.General.STUNPort)
	assert.Equal(t, TURNTypeTCP, snap.General.TURNType)

	assert.EqualValues(t, 20000, snap.Media.RTPPortMin)
	assert.EqualValues(t, 40000, snap.Media.RTPPortMax)
	assert.True(t, snap.Media.ICELite)
	assert.True(t, snap.Media.FullTrickle)
	assert.Equal(t, 500, snap.Media.NackQueue)
	assert.Equal(t, 5*time.Second, snap.Media.NoMediaTimer)
	assert.True(t, snap.Media.RFC4588)

	assert.Equal(t, "eth0", snap.NAT.EnforceInterface)

	assert.True(t, snap.Auth.TokenAuth)
	assert.Equal(t, "sekrit", snap.Auth.TokenSecret)

	assert.Equal(t, []string{"janus.plugin.recordplay", "janus.plugin.video"}, snap.Plugins.Disable)
	assert.Equal(t, []string{"janus.transport.mqtt"}, snap.Transports.Disable)
}

func TestLoadRejectsMalformedPortRange(t *testing.T) {
	path := writeTempINI(t, "[media]\nrtp_port_range = not-a-range\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAppliesDefaultsForUnsetKeys(t *testing.T) {
	path := writeTempINI(t, "[general]\nstun_server = x\n")
	snap, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Media.RTPPortMin, snap.Media.RTPPortMin)
	assert.Equal(t, def.Media.NackQueue, snap.Media.NackQueue)
}

func TestStoreReplaceIsAtomic(t *testing.T) {
	s := NewStore(Default())
	first := s.Load()
	assert.Equal(t, 300, first.Media.NackQueue)

	next := Default()
	next.Media.NackQueue = 900
	s.Replace(next)

	assert.Equal(t, 900, s.Load().Media.NackQueue)
	assert.Equal(t, 300, first.Media.NackQueue, "previously-loaded snapshot must remain unchanged")
}
