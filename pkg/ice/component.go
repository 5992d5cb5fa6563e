// Package ice implements spec §4.6: per-component ICE gathering/
// connectivity and the DTLS handshake atop the selected pair, down to
// SRTP key extraction.
//
// Grounded on the teacher's pkg/rtc/transport.go (PCTransport): the
// controlling-role/ICE-restart/DTLS-role-from-SDP decisions it makes
// are reproduced here, but against the raw pion/ice, pion/dtls and
// pion/srtp packages instead of pion/webrtc.PeerConnection, since the
// spec places per-component state (disconnected/gathering/connecting/
// connected/ready/failed) and manual SRTP key extraction inside the
// core's own responsibility rather than behind an opaque PeerConnection.
package ice

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/pion/dtls/v2"
	pionice "github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	"github.com/pion/srtp/v2"
	"github.com/pkg/errors"

	"github.com/rtcgate/rtcgate/pkg/gatewayerrors"
)

// State is the per-Component connectivity state machine of spec §4.6's
// first paragraph.
type State int

const (
	StateDisconnected State = iota
	StateGathering
	StateConnecting
	StateConnected
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateGathering:
		return "gathering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DTLSRole mirrors the RFC 4145 a=setup negotiation outcome.
type DTLSRole int

const (
	DTLSRoleAuto DTLSRole = iota
	DTLSRoleClient
	DTLSRoleServer
)

// RoleFromSetupAttribute implements spec §4.6's DTLS role paragraph:
// remote a=setup:active makes us passive (server), a=setup:passive
// makes us active (client), a=setup:actpass means we pick active
// (client), grounded on the teacher's extractDTLSRole.
func RoleFromSetupAttribute(desc *sdp.SessionDescription) DTLSRole {
	for _, md := range desc.MediaDescriptions {
		setup, ok := md.Attribute(sdp.AttrKeyConnectionSetup)
		if !ok {
			continue
		}
		return RoleFromSetupAttributeString(setup)
	}
	return DTLSRoleClient
}

// RoleFromSetupAttributeString maps a raw a=setup value to our role,
// factored out of RoleFromSetupAttribute for unit testing.
func RoleFromSetupAttributeString(setup string) DTLSRole {
	switch setup {
	case sdp.ConnectionRoleActive.String():
		return DTLSRoleServer
	case sdp.ConnectionRolePassive.String():
		return DTLSRoleClient
	case "actpass":
		return DTLSRoleClient
	}
	return DTLSRoleClient
}

// Config configures one Component's ICE agent, per the general.*/
// media.*/nat.* keys of spec §6's configuration section.
type Config struct {
	StunServers     []string
	TurnServers     []*pionice.URL
	Controlling     bool
	Lite            bool
	EnforceIface    []string
	IgnoreIface     []string
	PortMin         uint16
	PortMax         uint16
	FullTrickle     bool
	LoggerFactory   logging.LoggerFactory
}

// KeyingMaterial is the exported SRTP key/salt pair produced on DTLS
// handshake completion, used to initialize send/recv SRTP contexts.
// srtp.Config already carries both the local and remote master
// key/salt once extracted, so one value covers both directions.
type KeyingMaterial struct {
	Config *srtp.Config
}

// Component owns one ICE agent plus the DTLS connection layered on
// top, per spec's Component glossary entry ("transport under a stream:
// ICE + DTLS + SRTP").
type Component struct {
	mu sync.Mutex

	agent      *pionice.Agent
	conn       *pionice.Conn
	dtlsConn   *dtls.Conn
	state      State
	role       DTLSRole
	restarting bool

	trickleQueue []pionice.Candidate
	haveAgent    bool

	onStateChange func(State)
	onReady       func(*dtls.Conn)
	onFailed      func(error)
}

// NewComponent constructs a Component in StateDisconnected; call
// StartGathering to begin ICE per spec §4.6.
func NewComponent() *Component {
	return &Component{state: StateDisconnected}
}

// OnStateChange registers a callback invoked on every state
// transition.
func (c *Component) OnStateChange(f func(State)) {
	c.mu.Lock()
	c.onStateChange = f
	c.mu.Unlock()
}

// OnReady registers a callback invoked once the DTLS handshake
// completes and SRTP contexts can be derived.
func (c *Component) OnReady(f func(*dtls.Conn)) {
	c.mu.Lock()
	c.onReady = f
	c.mu.Unlock()
}

func (c *Component) setState(s State) {
	c.mu.Lock()
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// State reports the current connectivity state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartGathering creates the pion ICE agent and begins candidate
// collection, per spec §4.6 ("Gathering is driven by an external ICE
// library wrapper").
func (c *Component) StartGathering(cfg Config) error {
	agentCfg := &pionice.AgentConfig{
		Urls:                 cfg.TurnServers,
		NetworkTypes:         []pionice.NetworkType{pionice.NetworkTypeUDP4, pionice.NetworkTypeUDP6},
		Lite:                 cfg.Lite,
		InterfaceFilter:      interfaceFilter(cfg.EnforceIface, cfg.IgnoreIface),
		LoggerFactory:        cfg.LoggerFactory,
	}
	if cfg.PortMin != 0 && cfg.PortMax != 0 {
		agentCfg.PortMin = cfg.PortMin
		agentCfg.PortMax = cfg.PortMax
	}

	agent, err := pionice.NewAgent(agentCfg)
	if err != nil {
		return gatewayerrors.Wrap(gatewayerrors.CodeFatalInternal, err, "ice: create agent")
	}

	c.mu.Lock()
	c.agent = agent
	c.haveAgent = true
	queued := c.trickleQueue
	c.trickleQueue = nil
	c.mu.Unlock()

	if err := agent.OnConnectionStateChange(func(cs pionice.ConnectionState) {
		switch cs {
		case pionice.ConnectionStateChecking:
			c.setState(StateConnecting)
		case pionice.ConnectionStateConnected, pionice.ConnectionStateCompleted:
			c.setState(StateConnected)
		case pionice.ConnectionStateFailed:
			c.setState(StateFailed)
		case pionice.ConnectionStateDisconnected, pionice.ConnectionStateClosed:
			c.setState(StateDisconnected)
		}
	}); err != nil {
		return err
	}

	c.setState(StateGathering)
	if err := agent.GatherCandidates(); err != nil {
		return gatewayerrors.Wrap(gatewayerrors.CodeFatalInternal, err, "ice: gather candidates")
	}

	// Drain candidates queued before the agent existed, in receipt
	// order, per spec §4.6's trickle-before-offer paragraph.
	for _, cand := range queued {
		if err := agent.AddRemoteCandidate(cand); err != nil {
			return err
		}
	}
	return nil
}

// AddRemoteTrickle applies (or queues, if the agent doesn't exist yet)
// one remote ICE candidate, per spec's "trickle candidates arriving
// before the agent exists are queued" paragraph.
func (c *Component) AddRemoteTrickle(cand pionice.Candidate) error {
	c.mu.Lock()
	if !c.haveAgent {
		c.trickleQueue = append(c.trickleQueue, cand)
		c.mu.Unlock()
		return nil
	}
	agent := c.agent
	c.mu.Unlock()
	return agent.AddRemoteCandidate(cand)
}

// Dial runs the ICE connectivity checks to completion (controlling or
// controlled per the controlling argument) and returns the selected net.Conn.
func (c *Component) Dial(ctx context.Context, ufrag, pwd string, controlling bool) (*pionice.Conn, error) {
	c.mu.Lock()
	agent := c.agent
	c.mu.Unlock()
	if agent == nil {
		return nil, errors.New("ice: agent not started")
	}

	var conn *pionice.Conn
	var err error
	if controlling {
		conn, err = agent.Dial(ctx, ufrag, pwd)
	} else {
		conn, err = agent.Accept(ctx, ufrag, pwd)
	}
	if err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.CodeFatalInternal, err, "ice: connectivity check failed")
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// RunDTLS performs the DTLS handshake atop the selected ICE pair in
// the given role, extracts SRTP keying material, and moves the
// Component to StateReady on success or StateFailed on alert/error,
// per spec §4.6's third paragraph.
func (c *Component) RunDTLS(ctx context.Context, role DTLSRole, cert *tls.Certificate, profiles []srtp.ProtectionProfile) (*KeyingMaterial, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("ice: DTLS attempted before ICE pair selected")
	}

	dtlsCfg := &dtls.Config{
		Certificates: []tls.Certificate{*cert},
		SRTPProtectionProfiles: srtpProfilesToDTLS(profiles),
		InsecureSkipVerify: true, // fingerprint verified out of band via a=fingerprint
	}

	var dtlsConn *dtls.Conn
	var err error
	switch role {
	case DTLSRoleServer:
		dtlsConn, err = dtls.ServerWithContext(ctx, conn, dtlsCfg)
	default:
		dtlsConn, err = dtls.ClientWithContext(ctx, conn, dtlsCfg)
	}
	if err != nil {
		c.setState(StateFailed)
		return nil, gatewayerrors.Wrap(gatewayerrors.CodeProtocolViolation, err, "ice: dtls handshake failed")
	}

	c.mu.Lock()
	c.dtlsConn = dtlsConn
	c.role = role
	cb := c.onReady
	c.mu.Unlock()

	km, err := extractKeyingMaterial(dtlsConn, role == DTLSRoleClient)
	if err != nil {
		c.setState(StateFailed)
		return nil, err
	}

	c.setState(StateReady)
	if cb != nil {
		cb(dtlsConn)
	}
	return km, nil
}

// Close tears down the DTLS connection, ICE agent, and any underlying
// net.Conn, per spec §4.10 phase two ("free agent").
func (c *Component) Close() error {
	c.mu.Lock()
	dtlsConn := c.dtlsConn
	agent := c.agent
	c.mu.Unlock()

	var firstErr error
	if dtlsConn != nil {
		if err := dtlsConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if agent != nil {
		if err := agent.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send writes one datagram over the selected ICE candidate pair.
// Callers are responsible for any protection (e.g. SRTP) the payload
// needs before it reaches here.
func (c *Component) Send(payload []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, gatewayerrors.Wrap(gatewayerrors.CodeTransientIO, nil, "ice: send attempted before connectivity established")
	}
	return conn.Write(payload)
}

// Restart regenerates local credentials and re-triggers gathering, per
// spec §4.6's ICE-restart paragraph. The caller is responsible for
// flagging RESEND_TRICKLES on the owning Stream/Handle.
func (c *Component) Restart(cfg Config) error {
	c.mu.Lock()
	c.restarting = true
	c.mu.Unlock()
	return c.StartGathering(cfg)
}

func interfaceFilter(enforce, ignore []string) func(string) bool {
	enforceSet := toSet(enforce)
	ignoreSet := toSet(ignore)
	return func(iface string) bool {
		if len(enforceSet) > 0 {
			return enforceSet[iface]
		}
		return !ignoreSet[iface]
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
