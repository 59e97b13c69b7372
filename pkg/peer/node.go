package peer

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// NodeIDSize is the length of a NodeID in bytes.
const NodeIDSize = ed25519.PublicKeySize

// ErrInvalidNodeID is returned when parsing a malformed node identifier.
var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID is a node's long-term ed25519 public key.
type NodeID [NodeIDSize]byte

// NodeIDFromBytes copies b into a NodeID.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDSize {
		return id, fmt.Errorf("%w: length %d, want %d", ErrInvalidNodeID, len(b), NodeIDSize)
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID parses a hex-encoded node identifier.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return NodeIDFromBytes(b)
}

// String returns the full hex encoding.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight bytes in hex, for log lines.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:8])
}

// Bytes returns a copy of the raw key bytes.
func (id NodeID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// IsZero reports whether id is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// PublicKey returns id as an ed25519 public key.
func (id NodeID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// Verify reports whether sig is id's signature over msg.
func (id NodeID) Verify(msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(id.PublicKey(), msg, sig)
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
