// Package gatewayerrors classifies the error taxonomy of the media and
// signaling paths so call sites can both errors.Is a sentinel and branch
// on a stable numeric code for the JSON error surfaced to a transport.
package gatewayerrors

import "github.com/pkg/errors"

// Code is the taxonomy a raw error is classified into (spec §7).
type Code int

const (
	// CodeUnknown is returned by Classify for errors not wrapped with
	// one of the sentinels below.
	CodeUnknown Code = iota
	CodeTransientIO
	CodeMalformedPacket
	CodeAuthFailed
	CodeProtocolViolation
	CodeResourceExhausted
	CodePluginError
	CodeFatalInternal
)

func (c Code) String() string {
	switch c {
	case CodeTransientIO:
		return "transient_io"
	case CodeMalformedPacket:
		return "malformed_packet"
	case CodeAuthFailed:
		return "auth_failed"
	case CodeProtocolViolation:
		return "protocol_violation"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodePluginError:
		return "plugin_error"
	case CodeFatalInternal:
		return "fatal_internal"
	default:
		return "unknown"
	}
}

// Sentinels. Wrap an underlying cause with errors.Wrap(ErrX, "detail")
// the way the rest of the tree wraps github.com/pkg/errors sentinels.
var (
	ErrTransientIO       = errors.New("transient i/o error")
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrPluginError       = errors.New("plugin error")
	ErrFatalInternal     = errors.New("fatal internal error")
)

var sentinelCodes = []struct {
	err  error
	code Code
}{
	{ErrTransientIO, CodeTransientIO},
	{ErrMalformedPacket, CodeMalformedPacket},
	{ErrAuthFailed, CodeAuthFailed},
	{ErrProtocolViolation, CodeProtocolViolation},
	{ErrResourceExhausted, CodeResourceExhausted},
	{ErrPluginError, CodePluginError},
	{ErrFatalInternal, CodeFatalInternal},
}

// Classify walks the error's cause chain and returns the taxonomy Code
// it was wrapped with, or CodeUnknown if it doesn't carry one of the
// sentinels above.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return CodeUnknown
}

// Wrap attaches the taxonomy sentinel to err as its cause chain root,
// preserving err's message via errors.Wrap.
func Wrap(code Code, err error, message string) error {
	sentinel := sentinelFor(code)
	if err == nil {
		return errors.Wrap(sentinel, message)
	}
	return errors.Wrap(errors.Wrap(sentinel, err.Error()), message)
}

func sentinelFor(code Code) error {
	for _, sc := range sentinelCodes {
		if sc.code == code {
			return sc.err
		}
	}
	return ErrFatalInternal
}
