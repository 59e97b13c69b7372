package wire

import "fmt"

// DisconnectReason is the terminal cause attached to a session disconnect.
// Values are sent on the wire inside Disconnect packets.
type DisconnectReason uint8

const (
	// DisconnectRequested is a local or remote request with no fault.
	DisconnectRequested DisconnectReason = 0x00

	// DisconnectNetworkError is a socket read or write failure.
	DisconnectNetworkError DisconnectReason = 0x01

	// DisconnectProtocolViolation is a malformed frame, packet or handshake.
	DisconnectProtocolViolation DisconnectReason = 0x02

	// DisconnectUselessPeer means no capability is shared.
	DisconnectUselessPeer DisconnectReason = 0x03

	// DisconnectTooManyPeers means the host is at its peer limit.
	DisconnectTooManyPeers DisconnectReason = 0x04

	// DisconnectDuplicatePeer means a session to this node already exists.
	DisconnectDuplicatePeer DisconnectReason = 0x05

	// DisconnectIncompatibleProtocol means the session versions differ.
	DisconnectIncompatibleProtocol DisconnectReason = 0x06

	// DisconnectNullIdentity means the peer presented no identity.
	DisconnectNullIdentity DisconnectReason = 0x07

	// DisconnectClientQuit means the local node is shutting down.
	DisconnectClientQuit DisconnectReason = 0x08

	// DisconnectUnexpectedIdentity means a dialed peer is not who we expected.
	DisconnectUnexpectedIdentity DisconnectReason = 0x09

	// DisconnectLocalIdentity means we connected to ourselves.
	DisconnectLocalIdentity DisconnectReason = 0x0a

	// DisconnectPingTimeout means no traffic arrived within the liveness window.
	DisconnectPingTimeout DisconnectReason = 0x0b

	// DisconnectCapabilityMismatch means too many packets were unroutable.
	DisconnectCapabilityMismatch DisconnectReason = 0x0c

	// DisconnectRateExceeded means inbound traffic exceeded the rate budget.
	DisconnectRateExceeded DisconnectReason = 0x0d
)

var reasonNames = map[DisconnectReason]string{
	DisconnectRequested:            "disconnect requested",
	DisconnectNetworkError:         "network error",
	DisconnectProtocolViolation:    "protocol violation",
	DisconnectUselessPeer:          "useless peer",
	DisconnectTooManyPeers:         "too many peers",
	DisconnectDuplicatePeer:        "duplicate peer",
	DisconnectIncompatibleProtocol: "incompatible protocol version",
	DisconnectNullIdentity:         "null node identity",
	DisconnectClientQuit:           "client quitting",
	DisconnectUnexpectedIdentity:   "unexpected identity",
	DisconnectLocalIdentity:        "connected to self",
	DisconnectPingTimeout:          "ping timeout",
	DisconnectCapabilityMismatch:   "capability mismatch",
	DisconnectRateExceeded:         "inbound rate exceeded",
}

// String returns a human-readable reason.
func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown reason 0x%02x", uint8(r))
}

// Error lets a reason travel as an error value.
func (r DisconnectReason) Error() string {
	return r.String()
}

// Notifiable reports whether a Disconnect packet should be attempted for r.
// A broken socket cannot carry one.
func (r DisconnectReason) Notifiable() bool {
	return r != DisconnectNetworkError
}
