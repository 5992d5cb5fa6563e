// Package plugin defines the two capability boundaries of spec §6:
// what the core offers plugins, and what plugins must/may provide
// back. Grounded on the teacher's pkg/rtc/types small-interface style
// (mandatory methods plus optional ones that default to no-ops via an
// embeddable base, the way nooplocalparticipant.go lets callers embed
// a stub and override only what they need).
package plugin

import "encoding/json"

// JSEPType distinguishes an offer from an answer in a push_event call.
type JSEPType string

const (
	JSEPOffer  JSEPType = "offer"
	JSEPAnswer JSEPType = "answer"
)

// JSEP carries the SDP payload of a push_event call, per spec §6's
// push_event signature ("jsep carries type∈{offer, answer} and SDP and
// optional restart/update flags").
type JSEP struct {
	Type    JSEPType `json:"type"`
	SDP     string   `json:"sdp"`
	Restart bool     `json:"restart,omitempty"`
	Update  bool     `json:"update,omitempty"`
}

// HandleMessageResult is what a plugin's HandleMessage returns, per
// spec §6's "{OK(payload) | OK_WAIT(text) | ERROR(text)}".
type HandleMessageResult struct {
	Kind    ResultKind
	Payload json.RawMessage
	Text    string
}

// ResultKind enumerates HandleMessageResult's three shapes.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultOKWait
	ResultError
)

// OK builds an immediate-payload result.
func OK(payload json.RawMessage) HandleMessageResult {
	return HandleMessageResult{Kind: ResultOK, Payload: payload}
}

// OKWait builds an acknowledged-but-deferred result; the actual
// response arrives later via Core.NotifyEvent/PushEvent.
func OKWait(text string) HandleMessageResult {
	return HandleMessageResult{Kind: ResultOKWait, Text: text}
}

// Err builds an error result surfaced to the client unchanged, per
// spec §7 ("PLUGIN_ERROR: returned from plugin handle_message;
// surfaced to client unchanged").
func Err(text string) HandleMessageResult {
	return HandleMessageResult{Kind: ResultError, Text: text}
}

// Core is the plugin-facing capability set of spec §6: what the core
// offers plugins. Every method here is mandatory — a plugin is handed
// exactly one Core instance bound to its registration.
type Core interface {
	// PushEvent delivers a JSON event to the client; jsep is optional.
	PushEvent(handleID uint64, pluginName string, transaction string, message json.RawMessage, jsep *JSEP) error

	// RelayRTP/RelayRTCP/RelayData enqueue media for the handle's send
	// worker, per spec §4.7.
	RelayRTP(handleID uint64, video bool, payload []byte) error
	RelayRTCP(handleID uint64, payload []byte) error
	RelayData(handleID uint64, payload []byte) error

	// ClosePC requests a PeerConnection close; the core will then
	// invoke HangupMedia on the plugin.
	ClosePC(handleID uint64) error

	// EndSession requests permanent destruction of the handle/session.
	EndSession(handleID uint64) error

	// EventsEnabled/NotifyEvent are the optional telemetry fan-out of
	// spec §6.
	EventsEnabled() bool
	NotifyEvent(pluginName string, handleID uint64, payload json.RawMessage)

	// IsSignatureValid/SignatureContains are the auth token helpers of
	// spec §6/§9.
	IsSignatureValid(token string, secret string) bool
	SignatureContains(token string, pluginName string) bool
}

// Session is the core-facing capability set of spec §6: what plugins
// provide. Mandatory methods have no default; optional ones should be
// satisfied by embedding NoopOptional, matching the teacher's
// embed-a-stub idiom.
type Session interface {
	// Init/Destroy/APICompat/Version/Name/Description/Package are the
	// plugin-identity and lifecycle methods.
	Init(core Core, configDir string) error
	Destroy()
	APICompat() int
	Version() int
	Name() string
	Description() string
	Package() string

	// CreateSession/HandleMessage/QuerySession/DestroySession are the
	// per-handle lifecycle methods.
	CreateSession(handleID uint64) error
	HandleMessage(handleID uint64, transaction string, message json.RawMessage, jsep *JSEP) HandleMessageResult
	QuerySession(handleID uint64) (json.RawMessage, error)
	DestroySession(handleID uint64) error

	Optional
}

// Optional groups the methods spec §6 marks optional
// ("setup_media(handle), incoming_rtp/rtcp/data, slow_link(handle,
// uplink, video), hangup_media(handle)"). NoopOptional satisfies this
// so a plugin can embed it and override only what it uses.
type Optional interface {
	SetupMedia(handleID uint64)
	IncomingRTP(handleID uint64, video bool, payload []byte)
	IncomingRTCP(handleID uint64, payload []byte)
	IncomingData(handleID uint64, payload []byte)
	SlowLink(handleID uint64, uplink bool, video bool)
	HangupMedia(handleID uint64)
}

// NoopOptional is the embeddable no-op base for Optional, per spec §9
// ("missing optional methods resolve to no-op").
type NoopOptional struct{}

func (NoopOptional) SetupMedia(uint64)                {}
func (NoopOptional) IncomingRTP(uint64, bool, []byte) {}
func (NoopOptional) IncomingRTCP(uint64, []byte)      {}
func (NoopOptional) IncomingData(uint64, []byte)      {}
func (NoopOptional) SlowLink(uint64, bool, bool)      {}
func (NoopOptional) HangupMedia(uint64)               {}

// Registry is the compile-time plugin registry of spec §9's open
// question resolution ("an implementation may... expose a
// compile-time registry"), grounded on the teacher's pattern of
// registering components by name at init time rather than dlopen.
type Registry struct {
	plugins map[string]Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Session)}
}

// Register adds a plugin under its Package() identifier. Panics on a
// duplicate identifier, matching the teacher's fail-fast init-time
// registration style.
func (r *Registry) Register(p Session) {
	name := p.Package()
	if _, exists := r.plugins[name]; exists {
		panic("plugin: duplicate package identifier " + name)
	}
	r.plugins[name] = p
}

// Lookup returns the plugin registered under name, if any.
func (r *Registry) Lookup(name string) (Session, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns every registered plugin identifier.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	return out
}
