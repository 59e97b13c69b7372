package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolSession is the protocol identifier reserved for session packets.
const ProtocolSession uint16 = 0

// ProtocolVersion is the session protocol version announced in Hello.
const ProtocolVersion uint32 = 5

// PacketType identifies a packet within one protocol identifier.
type PacketType uint8

// Session packet types (protocol identifier 0).
const (
	PacketHello       PacketType = 0x00
	PacketDisconnect  PacketType = 0x01
	PacketPing        PacketType = 0x02
	PacketPong        PacketType = 0x03
	PacketAuthConfirm PacketType = 0x04
)

// String returns the session packet name, or the raw number for other types.
func (t PacketType) String() string {
	switch t {
	case PacketHello:
		return "hello"
	case PacketDisconnect:
		return "disconnect"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketAuthConfirm:
		return "auth-confirm"
	default:
		return fmt.Sprintf("packet(0x%02x)", uint8(t))
	}
}

// Packet is the decoded form of one frame payload.
type Packet struct {
	_    struct{}        `cbor:",toarray"`
	Type PacketType      `cbor:"0"`
	Body cbor.RawMessage `cbor:"1"`
}

// Cap describes one capability a node offers.
type Cap struct {
	ID      uint16 `cbor:"1,keyasint"`
	Name    string `cbor:"2,keyasint"`
	Version uint32 `cbor:"3,keyasint,omitempty"`
}

// String returns name/version@id.
func (c Cap) String() string {
	return fmt.Sprintf("%s/%d@0x%04x", c.Name, c.Version, c.ID)
}

// Hello opens the handshake. The signature covers the ephemeral key so the
// remote side can bind it to the long-term node identity.
type Hello struct {
	Version    uint32 `cbor:"1,keyasint"`
	NodeID     []byte `cbor:"2,keyasint"`
	Ephemeral  []byte `cbor:"3,keyasint"`
	Signature  []byte `cbor:"4,keyasint"`
	Caps       []Cap  `cbor:"5,keyasint,omitempty"`
	ListenPort uint16 `cbor:"6,keyasint,omitempty"`
	ClientName string `cbor:"7,keyasint,omitempty"`
}

// AuthConfirm proves that the sender derived the same session secret.
type AuthConfirm struct {
	MAC []byte `cbor:"1,keyasint"`
}

// Disconnect informs the remote side why the session is closing.
type Disconnect struct {
	Reason DisconnectReason `cbor:"1,keyasint"`
}

// Ping requests a Pong carrying the same nonce.
type Ping struct {
	Nonce uint64 `cbor:"1,keyasint,omitempty"`
}

// Pong answers a Ping.
type Pong struct {
	Nonce uint64 `cbor:"1,keyasint,omitempty"`
}
