package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrEmptyPayload is returned when decoding an empty frame payload.
var ErrEmptyPayload = errors.New("empty payload")

// encMode is the CBOR encoder mode for capmux payloads.
// Configured for deterministic encoding.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for capmux payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Bodies come from untrusted peers: bound nesting and container sizes.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   32,
		MaxArrayElements:  65536,
		MaxMapPairs:       65536,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodePacket encodes a packet of type t carrying body.
// A nil body is encoded as CBOR null.
func EncodePacket(t PacketType, body any) ([]byte, error) {
	pkt := Packet{Type: t}
	if body != nil {
		raw, err := Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode packet body: %w", err)
		}
		pkt.Body = raw
	}
	return Marshal(&pkt)
}

// DecodePacket decodes a frame payload into its packet type and raw body.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	var pkt Packet
	if err := Unmarshal(data, &pkt); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	return &pkt, nil
}

// DecodeBody decodes the raw body of a packet into v.
func (p *Packet) DecodeBody(v any) error {
	if len(p.Body) == 0 {
		return nil
	}
	if err := Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", p.Type, err)
	}
	return nil
}

// EncodeDisconnect encodes a session Disconnect packet.
func EncodeDisconnect(reason DisconnectReason) ([]byte, error) {
	return EncodePacket(PacketDisconnect, &Disconnect{Reason: reason})
}

// EncodePing encodes a session Ping packet.
func EncodePing(nonce uint64) ([]byte, error) {
	return EncodePacket(PacketPing, &Ping{Nonce: nonce})
}

// EncodePong encodes a session Pong packet.
func EncodePong(nonce uint64) ([]byte, error) {
	return EncodePacket(PacketPong, &Pong{Nonce: nonce})
}
