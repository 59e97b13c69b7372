package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/capmux/capmux-go/pkg/wire"
)

// Handler receives the packets of one capability. OnPacket runs on the
// session's reader goroutine, so packets arrive one at a time in wire order.
// Returning an error disconnects the session with a protocol violation.
type Handler interface {
	OnPacket(s *Session, pkt *wire.Packet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, pkt *wire.Packet) error

// OnPacket calls f.
func (f HandlerFunc) OnPacket(s *Session, pkt *wire.Packet) error {
	return f(s, pkt)
}

// StartHandler is implemented by handlers that want to know when a session
// becomes active.
type StartHandler interface {
	OnSessionStart(s *Session)
}

// EndHandler is implemented by handlers that want to know when a session
// has closed.
type EndHandler interface {
	OnSessionEnd(s *Session, reason wire.DisconnectReason)
}

// Capability is a registered sub-protocol.
type Capability struct {
	wire.Cap
	Handler Handler
}

// CapabilityTable maps protocol ids to handlers. It is shared by the host
// and all of its sessions and resolved once per inbound packet.
type CapabilityTable struct {
	mu   sync.RWMutex
	caps map[uint16]*Capability
}

// NewCapabilityTable creates an empty table.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{caps: make(map[uint16]*Capability)}
}

// Register adds a handler for c.ID.
func (t *CapabilityTable) Register(c wire.Cap, h Handler) error {
	if c.ID == wire.ProtocolSession {
		return ErrReservedProtocol
	}
	if h == nil {
		return fmt.Errorf("capability %s: nil handler", c)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.caps[c.ID]; ok {
		return fmt.Errorf("%w: 0x%04x", ErrDuplicateCapability, c.ID)
	}
	t.caps[c.ID] = &Capability{Cap: c, Handler: h}
	return nil
}

// Lookup returns the capability for id.
func (t *CapabilityTable) Lookup(id uint16) (*Capability, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.caps[id]
	return c, ok
}

// Caps returns the registered capability descriptors ordered by id.
func (t *CapabilityTable) Caps() []wire.Cap {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]wire.Cap, 0, len(t.caps))
	for _, c := range t.caps {
		out = append(out, c.Cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// handlers returns a snapshot of the registered handlers.
func (t *CapabilityTable) handlers() []Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Handler, 0, len(t.caps))
	for _, c := range t.caps {
		out = append(out, c.Handler)
	}
	return out
}
