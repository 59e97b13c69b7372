package handshake

import (
	"errors"
	"fmt"

	"github.com/capmux/capmux-go/pkg/wire"
)

// Handshake errors.
var (
	ErrVersionMismatch    = errors.New("handshake: protocol version mismatch")
	ErrNullIdentity       = errors.New("handshake: remote presented no identity")
	ErrBadSignature       = errors.New("handshake: hello signature invalid")
	ErrBadEphemeral       = errors.New("handshake: ephemeral key invalid")
	ErrBadConfirmation    = errors.New("handshake: confirmation MAC invalid")
	ErrUnexpectedIdentity = errors.New("handshake: remote identity not the one expected")
	ErrUnexpectedPacket   = errors.New("handshake: unexpected packet")
	ErrRemoteDisconnected = errors.New("handshake: remote disconnected")
	ErrMissingIdentity    = errors.New("handshake: local identity required")
)

// RemoteDisconnectError carries the reason a peer gave for refusing us.
type RemoteDisconnectError struct {
	Reason wire.DisconnectReason
}

func (e *RemoteDisconnectError) Error() string {
	return fmt.Sprintf("handshake: remote disconnected: %s", e.Reason)
}

// Unwrap lets errors.Is match ErrRemoteDisconnected.
func (e *RemoteDisconnectError) Unwrap() error {
	return ErrRemoteDisconnected
}

// ReasonFor maps a handshake failure to the reason sent to the peer.
func ReasonFor(err error) wire.DisconnectReason {
	switch {
	case errors.Is(err, ErrVersionMismatch):
		return wire.DisconnectIncompatibleProtocol
	case errors.Is(err, ErrNullIdentity):
		return wire.DisconnectNullIdentity
	case errors.Is(err, ErrUnexpectedIdentity):
		return wire.DisconnectUnexpectedIdentity
	case errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrBadEphemeral),
		errors.Is(err, ErrBadConfirmation),
		errors.Is(err, ErrUnexpectedPacket):
		return wire.DisconnectProtocolViolation
	default:
		return wire.DisconnectNetworkError
	}
}
