package ice

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pkg/errors"
)

var (
	ErrNoFingerprint        = errors.New("ice: session description has no fingerprint")
	ErrConflictingFingerprints = errors.New("ice: conflicting fingerprints across media sections")
	ErrMissingICECredential = errors.New("ice: session description missing ice-ufrag/ice-pwd")
)

// RemoteDescription is the subset of a parsed remote SDP the core
// needs to drive ICE/DTLS and payload-type bookkeeping, per spec
// §4.6's answerer paragraph ("parses the remote SDP first: audio/video
// direction, payload types, fingerprint, hashing, extmap URIs → IDs,
// RID attributes, RTCP-fb nacks/rembs, rtx pairings").
type RemoteDescription struct {
	Fingerprint     string
	FingerprintHash string
	ICEUfrag        string
	ICEPwd          string
	Setup           DTLSRole
	Media           []MediaSection
}

// MediaSection is one m= block's negotiation-relevant attributes.
type MediaSection struct {
	Kind         string // "audio" or "video"
	Direction    string // sendrecv/sendonly/recvonly/inactive
	PayloadTypes []uint8
	ExtMap       map[string]uint8 // extension URI -> local id
	RIDs         []string
	NackPTs      map[uint8]bool // payload types with a=rtcp-fb ... nack
	RembPTs      map[uint8]bool // payload types with a=rtcp-fb ... goog-remb
	RTXPairs     map[uint8]uint8 // rtx payload type -> its apt= base payload type
}

// ParseRemoteDescription extracts everything pkg/ice and the session
// layer need from an offer or answer, grounded on the teacher's
// extractFingerprint/extractDTLSRole/extractICECredential trio
// generalized to also cover extmap/rid/rtcp-fb/rtx, which the spec
// calls for but the teacher delegates to pion/webrtc internally.
func ParseRemoteDescription(sdpText string) (*RemoteDescription, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(sdpText)); err != nil {
		return nil, errors.Wrap(err, "ice: parse remote sdp")
	}

	fp, fpHash, err := extractFingerprint(parsed)
	if err != nil {
		return nil, err
	}
	ufrag, pwd, err := extractICECredential(parsed)
	if err != nil {
		return nil, err
	}

	out := &RemoteDescription{
		Fingerprint:     fp,
		FingerprintHash: fpHash,
		ICEUfrag:        ufrag,
		ICEPwd:          pwd,
		Setup:           RoleFromSetupAttribute(parsed),
	}

	for _, md := range parsed.MediaDescriptions {
		out.Media = append(out.Media, parseMediaSection(md))
	}
	return out, nil
}

func extractFingerprint(desc *sdp.SessionDescription) (string, string, error) {
	var fingerprints []string
	if fp, ok := desc.Attribute("fingerprint"); ok {
		fingerprints = append(fingerprints, fp)
	}
	for _, md := range desc.MediaDescriptions {
		if fp, ok := md.Attribute("fingerprint"); ok {
			fingerprints = append(fingerprints, fp)
		}
	}
	if len(fingerprints) == 0 {
		return "", "", ErrNoFingerprint
	}
	for _, fp := range fingerprints {
		if fp != fingerprints[0] {
			return "", "", ErrConflictingFingerprints
		}
	}
	parts := strings.Split(fingerprints[0], " ")
	if len(parts) != 2 {
		return "", "", errors.New("ice: malformed fingerprint attribute")
	}
	return parts[1], parts[0], nil
}

func extractICECredential(desc *sdp.SessionDescription) (string, string, error) {
	var ufrag, pwd string
	if v, ok := desc.Attribute("ice-ufrag"); ok {
		ufrag = v
	}
	if v, ok := desc.Attribute("ice-pwd"); ok {
		pwd = v
	}
	for _, md := range desc.MediaDescriptions {
		if v, ok := md.Attribute("ice-ufrag"); ok {
			ufrag = v
		}
		if v, ok := md.Attribute("ice-pwd"); ok {
			pwd = v
		}
	}
	if ufrag == "" || pwd == "" {
		return "", "", ErrMissingICECredential
	}
	return ufrag, pwd, nil
}

func parseMediaSection(md *sdp.MediaDescription) MediaSection {
	sec := MediaSection{
		Kind:     md.MediaName.Media,
		ExtMap:   make(map[string]uint8),
		NackPTs:  make(map[uint8]bool),
		RembPTs:  make(map[uint8]bool),
		RTXPairs: make(map[uint8]uint8),
	}

	for _, f := range md.MediaName.Formats {
		if pt, err := strconv.Atoi(f); err == nil {
			sec.PayloadTypes = append(sec.PayloadTypes, uint8(pt))
		}
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			sec.Direction = attr.Key
		case "extmap":
			// "<id> <uri>" (direction-qualified ids like "3/sendonly" are
			// reduced to their numeric prefix).
			fields := strings.Fields(attr.Value)
			if len(fields) >= 2 {
				idStr := strings.SplitN(fields[0], "/", 2)[0]
				if id, err := strconv.Atoi(idStr); err == nil {
					sec.ExtMap[fields[1]] = uint8(id)
				}
			}
		case "rid":
			fields := strings.Fields(attr.Value)
			if len(fields) >= 1 {
				sec.RIDs = append(sec.RIDs, fields[0])
			}
		case "rtcp-fb":
			fields := strings.Fields(attr.Value)
			if len(fields) < 2 {
				continue
			}
			pt, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			switch fields[1] {
			case "nack":
				sec.NackPTs[uint8(pt)] = true
			case "goog-remb":
				sec.RembPTs[uint8(pt)] = true
			}
		case "fmtp":
			// "<pt> apt=<base-pt>" ties an rtx payload type to its base.
			fields := strings.SplitN(attr.Value, " ", 2)
			if len(fields) != 2 || !strings.HasPrefix(fields[1], "apt=") {
				continue
			}
			pt, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			base, err := strconv.Atoi(strings.TrimPrefix(fields[1], "apt="))
			if err != nil {
				continue
			}
			sec.RTXPairs[uint8(pt)] = uint8(base)
		}
	}
	return sec
}
