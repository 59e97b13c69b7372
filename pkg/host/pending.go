package host

import (
	"sync"
	"time"

	"github.com/capmux/capmux-go/pkg/transport"
)

// pendingConns tracks sockets that are still in the handshake so that Close
// can abort them.
type pendingConns struct {
	mu    sync.Mutex
	socks map[transport.Socket]time.Time
}

func newPendingConns() *pendingConns {
	return &pendingConns{socks: make(map[transport.Socket]time.Time)}
}

func (p *pendingConns) Add(s transport.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.socks[s] = time.Now()
}

// Remove deregisters s. Safe to call on absent sockets.
func (p *pendingConns) Remove(s transport.Socket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.socks, s)
}

// CloseAll closes and removes every tracked socket.
func (p *pendingConns) CloseAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	closed := 0
	for s := range p.socks {
		_ = s.Close()
		delete(p.socks, s)
		closed++
	}
	return closed
}

func (p *pendingConns) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.socks)
}
