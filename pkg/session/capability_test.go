package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capmux/capmux-go/pkg/wire"
)

func nopHandler() Handler {
	return HandlerFunc(func(*Session, *wire.Packet) error { return nil })
}

func TestCapabilityTableRegister(t *testing.T) {
	tbl := NewCapabilityTable()

	require.NoError(t, tbl.Register(wire.Cap{ID: 0x15, Name: "sync", Version: 2}, nopHandler()))
	require.NoError(t, tbl.Register(wire.Cap{ID: 0x13, Name: "cons", Version: 1}, nopHandler()))

	assert.ErrorIs(t, tbl.Register(wire.Cap{ID: 0x15, Name: "other"}, nopHandler()), ErrDuplicateCapability)
	assert.ErrorIs(t, tbl.Register(wire.Cap{ID: wire.ProtocolSession, Name: "ctl"}, nopHandler()), ErrReservedProtocol)
	assert.Error(t, tbl.Register(wire.Cap{ID: 0x30, Name: "nil"}, nil))

	c, ok := tbl.Lookup(0x15)
	require.True(t, ok)
	assert.Equal(t, "sync", c.Name)
	assert.Equal(t, uint32(2), c.Version)

	_, ok = tbl.Lookup(0x30)
	assert.False(t, ok)

	caps := tbl.Caps()
	require.Len(t, caps, 2)
	assert.Equal(t, uint16(0x13), caps[0].ID)
	assert.Equal(t, uint16(0x15), caps[1].ID)
	assert.Len(t, tbl.handlers(), 2)
}
