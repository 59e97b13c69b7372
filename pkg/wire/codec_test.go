package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		typ  PacketType
		body any
	}{
		{name: "ping", typ: PacketPing, body: &Ping{Nonce: 42}},
		{name: "pong", typ: PacketPong, body: &Pong{Nonce: 42}},
		{name: "disconnect", typ: PacketDisconnect, body: &Disconnect{Reason: DisconnectPingTimeout}},
		{name: "application body", typ: 0x11, body: map[string]any{"height": uint64(100)}},
		{name: "nil body", typ: 0x20, body: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePacket(tt.typ, tt.body)
			require.NoError(t, err)

			pkt, err := DecodePacket(data)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, pkt.Type)

			if tt.body != nil {
				want, err := Marshal(tt.body)
				require.NoError(t, err)
				assert.Equal(t, want, []byte(pkt.Body), "body must survive re-encoding")
			}
		})
	}
}

func TestDecodeBody(t *testing.T) {
	data, err := EncodeDisconnect(DisconnectDuplicatePeer)
	require.NoError(t, err)

	pkt, err := DecodePacket(data)
	require.NoError(t, err)
	require.Equal(t, PacketDisconnect, pkt.Type)

	var d Disconnect
	require.NoError(t, pkt.DecodeBody(&d))
	assert.Equal(t, DisconnectDuplicatePeer, d.Reason)
}

func TestDecodePacketErrors(t *testing.T) {
	_, err := DecodePacket(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	// A bare CBOR unsigned integer is not a packet array.
	_, err = DecodePacket([]byte{0x05})
	assert.Error(t, err)

	// Truncated array header.
	_, err = DecodePacket([]byte{0x82, 0x02})
	assert.Error(t, err)
}

func TestHelloEncoding(t *testing.T) {
	hello := &Hello{
		Version:    ProtocolVersion,
		NodeID:     make([]byte, 32),
		Ephemeral:  make([]byte, 32),
		Signature:  make([]byte, 64),
		Caps:       []Cap{{ID: 0x13, Name: "pbft", Version: 1}, {ID: 0x15, Name: "sync", Version: 2}},
		ListenPort: 30300,
	}
	data, err := EncodePacket(PacketHello, hello)
	require.NoError(t, err)

	pkt, err := DecodePacket(data)
	require.NoError(t, err)

	var got Hello
	require.NoError(t, pkt.DecodeBody(&got))
	assert.Equal(t, hello.Caps, got.Caps)
	assert.Equal(t, hello.ListenPort, got.ListenPort)
	assert.Len(t, got.Signature, 64)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "ping", PacketPing.String())
	assert.Equal(t, "packet(0x7f)", PacketType(0x7f).String())
}

func TestDisconnectReason(t *testing.T) {
	assert.Equal(t, "ping timeout", DisconnectPingTimeout.String())
	assert.Equal(t, "unknown reason 0x7f", DisconnectReason(0x7f).String())
	assert.False(t, DisconnectNetworkError.Notifiable())
	assert.True(t, DisconnectCapabilityMismatch.Notifiable())

	var err error = DisconnectDuplicatePeer
	assert.EqualError(t, err, "duplicate peer")
}
