// Package transport defines the transport-facing capability set of
// spec §6: the boundary between the gateway core and whatever carries
// signaling JSON in and out (WebSocket, HTTP long poll, a custom
// socket). Grounded on the teacher's pkg/rtc/types interface style —
// a small mandatory set, no optional methods here since spec §6 lists
// none for this boundary.
package transport

import "encoding/json"

// Session is one signaling connection's lifetime, as the core sees
// it, per spec §6 ("session_created, session_over, incoming_request").
type Session interface {
	// SendMessage writes one JSON message out over this connection.
	SendMessage(payload json.RawMessage) error

	// Close tears down the underlying connection.
	Close() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// Core is what a transport calls into, mirroring the plugin
// boundary's Core/Session split but carrying signaling JSON instead of
// media.
type Core interface {
	// SessionCreated is invoked once a transport has a live connection
	// ready to carry signaling traffic for sessionID (0 if the session
	// is not yet known — e.g. before the client's first "create").
	SessionCreated(sess Session, sessionID uint64)

	// SessionOver is invoked when the transport's underlying connection
	// drops, regardless of cause.
	SessionOver(sess Session, reason string)

	// IncomingRequest delivers one parsed signaling message from the
	// client to the core for dispatch.
	IncomingRequest(sess Session, payload json.RawMessage)
}
