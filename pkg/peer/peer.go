package peer

import (
	"sync"
	"time"

	"github.com/capmux/capmux-go/pkg/wire"
)

// Peer is what the host knows about a remote node: its identity, the
// endpoint it was last reached at, and what it announced in its hello.
// It is shared by the host and the session bound to the node.
type Peer struct {
	id NodeID

	mu         sync.RWMutex
	endpoint   Endpoint
	clientName string
	caps       []wire.Cap
	lastSeen   time.Time
	static     bool
}

// New creates a peer record.
func New(id NodeID, endpoint Endpoint) *Peer {
	return &Peer{id: id, endpoint: endpoint}
}

// ID returns the node identifier.
func (p *Peer) ID() NodeID {
	return p.id
}

// Endpoint returns the last-known endpoint.
func (p *Peer) Endpoint() Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoint
}

// SetEndpoint records a new endpoint for the node.
func (p *Peer) SetEndpoint(e Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = e
}

// ClientName returns the name the node announced.
func (p *Peer) ClientName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clientName
}

// Caps returns a copy of the announced capabilities.
func (p *Peer) Caps() []wire.Cap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]wire.Cap(nil), p.caps...)
}

// ApplyHello records what the node announced during the handshake.
func (p *Peer) ApplyHello(h *wire.Hello) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientName = h.ClientName
	p.caps = append([]wire.Cap(nil), h.Caps...)
	if h.ListenPort != 0 && p.endpoint.Host != "" {
		p.endpoint.Port = h.ListenPort
	}
}

// HasCap reports whether the node announced protocol id.
func (p *Peer) HasCap(id uint16) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.caps {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Touch records that traffic was seen from the node.
func (p *Peer) Touch(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = t
}

// LastSeen returns when traffic was last seen from the node.
func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// MarkStatic flags the peer as a configured static node.
func (p *Peer) MarkStatic() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.static = true
}

// IsStatic reports whether the peer is a configured static node.
func (p *Peer) IsStatic() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.static
}
