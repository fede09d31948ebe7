package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind int

const (
	// KindDevice covers microphone and audio-output acquisition failures.
	KindDevice ErrorKind = iota + 1

	// KindConnect covers credential exchange and handshake failures, and
	// connect requests made while a session is already active.
	KindConnect

	// KindProtocol covers malformed inbound messages and remote error events.
	KindProtocol

	// KindTransport covers channel-level failures and unexpected closure.
	KindTransport
)

// String returns the kind name used as a metric attribute.
func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindConnect:
		return "connect"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinel values for matching with [errors.Is]. An [*Error] matches the
// sentinel of its kind:
//
//	if errors.Is(err, types.ErrConnect) { ... }
var (
	ErrDevice    = &Error{Kind: KindDevice}
	ErrConnect   = &Error{Kind: KindConnect}
	ErrProtocol  = &Error{Kind: KindProtocol}
	ErrTransport = &Error{Kind: KindTransport}
)

// Error is a classified session error. Op names the failed step and Err holds
// the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an [*Error] of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// DeviceError wraps err as a device failure.
func DeviceError(op string, err error) error {
	return &Error{Kind: KindDevice, Op: op, Err: err}
}

// ConnectError wraps err as a connect failure.
func ConnectError(op string, err error) error {
	return &Error{Kind: KindConnect, Op: op, Err: err}
}

// ProtocolError wraps err as a protocol failure.
func ProtocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// TransportError wraps err as a transport failure.
func TransportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// KindOf returns the kind of the first [*Error] in err's chain, or zero if
// there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
