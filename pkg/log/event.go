package log

import (
	"fmt"
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local node dialed or accepted.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// NodeID is the remote node identifier (populated after the handshake).
	NodeID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"` // Session layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Hello/ping/pong/disconnect
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerSession is the session layer (decoded packets, control traffic).
	LayerSession Layer = 1
	// LayerHost is the host layer (admission, peer table).
	LayerHost Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerHost:
		return "HOST"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a capability packet or raw frame.
	CategoryMessage Category = 0
	// CategoryControl indicates a session control packet.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side opened the connection.
type Role uint8

const (
	// RoleResponder indicates the local node accepted the connection.
	RoleResponder Role = 0
	// RoleInitiator indicates the local node dialed the connection.
	RoleInitiator Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "RESPONDER"
	case RoleInitiator:
		return "INITIATOR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including the header).
	Size int `cbor:"1,keyasint"`

	// Data is the raw payload bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// ProtocolID is the frame's protocol identifier.
	ProtocolID uint16 `cbor:"4,keyasint,omitempty"`
}

// PacketEvent captures a capability packet at the session layer.
type PacketEvent struct {
	// ProtocolID routes the packet to a capability.
	ProtocolID uint16 `cbor:"1,keyasint"`

	// Type is the packet type within the capability.
	Type uint8 `cbor:"2,keyasint"`

	// Capability is the handler name, empty when no handler was registered.
	Capability string `cbor:"3,keyasint,omitempty"`

	// Size is the encoded payload size in bytes.
	Size int `cbor:"4,keyasint"`

	// Urgent marks packets drained ahead of normal traffic.
	Urgent bool `cbor:"5,keyasint,omitempty"`

	// QueueTime is how long an outbound packet waited in the write queue.
	// Stored as nanoseconds.
	QueueTime *time.Duration `cbor:"6,keyasint,omitempty"`

	// Dropped marks inbound packets that no handler accepted.
	Dropped bool `cbor:"7,keyasint,omitempty"`
}

// Label returns "0xPPPP/TT" for display.
func (p *PacketEvent) Label() string {
	return fmt.Sprintf("0x%04x/%d", p.ProtocolID, p.Type)
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
	// StateEntityHandshake indicates a handshake state change.
	StateEntityHandshake StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityHandshake:
		return "HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures session control packets.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Reason is the disconnect reason code for disconnect messages.
	Reason *uint8 `cbor:"2,keyasint,omitempty"`

	// Nonce correlates ping and pong.
	Nonce *uint64 `cbor:"3,keyasint,omitempty"`

	// RTT is the measured round trip for a matching pong.
	RTT *time.Duration `cbor:"4,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping message.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong message.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgDisconnect indicates a disconnect message.
	ControlMsgDisconnect ControlMsgType = 2
	// ControlMsgHello indicates a handshake hello.
	ControlMsgHello ControlMsgType = 3
	// ControlMsgAuthConfirm indicates a handshake confirmation.
	ControlMsgAuthConfirm ControlMsgType = 4
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgDisconnect:
		return "DISCONNECT"
	case ControlMsgHello:
		return "HELLO"
	case ControlMsgAuthConfirm:
		return "AUTH_CONFIRM"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
