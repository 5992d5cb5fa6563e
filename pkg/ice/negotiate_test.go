package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOffer = `v=0
o=- 1234 1 IN IP4 127.0.0.1
s=-
t=0 0
a=fingerprint:sha-256 AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99
a=ice-ufrag:abcd
a=ice-pwd:efghijklmnopqrstuvwxyz0123456789
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=setup:actpass
a=sendrecv
a=rtpmap:111 opus/48000/2
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
m=video 9 UDP/TLS/RTP/SAVPF 96 97
c=IN IP4 0.0.0.0
a=setup:active
a=sendrecv
a=rtpmap:96 VP8/90000
a=rtpmap:97 rtx/90000
a=fmtp:97 apt=96
a=rtcp-fb:96 nack
a=rtcp-fb:96 goog-remb
a=rid:hi send
a=rid:lo send
`

func TestParseRemoteDescriptionExtractsCore(t *testing.T) {
	rd, err := ParseRemoteDescription(sampleOffer)
	require.NoError(t, err)

	assert.Equal(t, "sha-256", rd.FingerprintHash)
	assert.Equal(t, "abcd", rd.ICEUfrag)
	assert.Equal(t, "efghijklmnopqrstuvwxyz0123456789", rd.ICEPwd)
	require.Len(t, rd.Media, 2)

	audio := rd.Media[0]
	assert.Equal(t, "audio", audio.Kind)
	assert.Contains(t, audio.ExtMap, "urn:ietf:params:rtp-hdrext:ssrc-audio-level")

	video := rd.Media[1]
	assert.Equal(t, "video", video.Kind)
	assert.ElementsMatch(t, []uint8{96, 97}, video.PayloadTypes)
	assert.True(t, video.NackPTs[96])
	assert.True(t, video.RembPTs[96])
	assert.Equal(t, uint8(96), video.RTXPairs[97])
	assert.ElementsMatch(t, []string{"hi", "lo"}, video.RIDs)
}

func TestRoleFromSetupPerMediaSection(t *testing.T) {
	rd, err := ParseRemoteDescription(sampleOffer)
	require.NoError(t, err)
	assert.NotNil(t, rd)

	// Active setup on the video line means we must be the DTLS server.
	assert.Equal(t, DTLSRoleServer, RoleFromSetupAttributeString("active"))
	assert.Equal(t, DTLSRoleClient, RoleFromSetupAttributeString("passive"))
	assert.Equal(t, DTLSRoleClient, RoleFromSetupAttributeString("actpass"))
}
