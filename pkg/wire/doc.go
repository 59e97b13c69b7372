// Package wire defines the CBOR payload format carried inside capmux frames.
//
// Every frame payload is a two-element CBOR array:
//
//	[ packetType, body ]
//
// The packet type is a small unsigned integer scoped to the frame's protocol
// identifier, and the body is an arbitrary CBOR item that only the owning
// capability interprets. The session layer never looks inside application
// bodies; it only routes them.
//
// # Session Packets
//
// Protocol identifier 0 is reserved for the session itself. Its packet types
// follow the devp2p base protocol numbering:
//
//	0x00 Hello        handshake only
//	0x01 Disconnect   {reason}
//	0x02 Ping         {nonce}
//	0x03 Pong         {nonce}
//	0x04 AuthConfirm  handshake only
//
// Capabilities register non-zero protocol identifiers, so their packet type
// numbering can never collide with session packets.
package wire
