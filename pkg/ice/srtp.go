package ice

import (
	"github.com/pion/dtls/v2"
	"github.com/pion/srtp/v2"

	"github.com/rtcgate/rtcgate/pkg/gatewayerrors"
)

// extractKeyingMaterial pulls the SRTP master key/salt pair out of a
// completed DTLS handshake via the SRTP-DTLS extension (RFC 5764),
// per spec §4.6 ("extracts SRTP keying material, initializes
// send/recv SRTP contexts"). isClient selects which half of the
// exported material is "local" vs "remote", since the exporter always
// orders material client-then-server regardless of which side we are.
func extractKeyingMaterial(conn *dtls.Conn, isClient bool) (*KeyingMaterial, error) {
	cfg := &srtp.Config{}
	state := conn.ConnectionState()
	if err := cfg.ExtractSessionKeysFromDTLS(&state, isClient); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.CodeFatalInternal, err, "ice: extract srtp session keys")
	}
	return &KeyingMaterial{Config: cfg}, nil
}

func srtpProfilesToDTLS(profiles []srtp.ProtectionProfile) []dtls.SRTPProtectionProfile {
	out := make([]dtls.SRTPProtectionProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, dtls.SRTPProtectionProfile(p))
	}
	return out
}
