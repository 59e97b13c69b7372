package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSocketClosed is returned by Read and Write after Close.
var ErrSocketClosed = errors.New("socket closed")

// Socket is the bidirectional byte stream a session runs over. Read and Write
// may be called concurrently with each other but each only from one goroutine
// at a time.
type Socket interface {
	// Read blocks until at least one byte or an error is available.
	Read(p []byte) (int, error)

	// Write writes all of p or returns an error.
	Write(p []byte) (int, error)

	// IsConnected reports whether the socket has not been closed or failed.
	IsConnected() bool

	// Close closes the socket. Pending Read and Write calls return errors.
	Close() error

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// SocketOption configures a NetSocket.
type SocketOption func(*NetSocket)

// WithReadTimeout bounds each Read. Zero disables the deadline.
func WithReadTimeout(d time.Duration) SocketOption {
	return func(s *NetSocket) { s.readTimeout = d }
}

// WithWriteTimeout bounds each Write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) SocketOption {
	return func(s *NetSocket) { s.writeTimeout = d }
}

// NetSocket adapts a net.Conn (plain TCP or *tls.Conn) to Socket.
type NetSocket struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewNetSocket wraps conn.
func NewNetSocket(conn net.Conn, opts ...SocketOption) *NetSocket {
	s := &NetSocket{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	s.connected.Store(true)
	return s
}

// Read reads from the connection. Any error marks the socket disconnected.
func (s *NetSocket) Read(p []byte) (int, error) {
	if !s.connected.Load() {
		return 0, ErrSocketClosed
	}
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	n, err := s.conn.Read(p)
	if err != nil {
		s.markFailed(err)
	}
	return n, err
}

// Write writes p to the connection. Any error marks the socket disconnected.
func (s *NetSocket) Write(p []byte) (int, error) {
	if !s.connected.Load() {
		return 0, ErrSocketClosed
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	n, err := s.conn.Write(p)
	if err != nil {
		s.markFailed(err)
	}
	return n, err
}

// IsConnected reports whether the socket is still usable.
func (s *NetSocket) IsConnected() bool {
	return s.connected.Load()
}

// Close closes the underlying connection once.
func (s *NetSocket) Close() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// RemoteAddr returns the remote network address.
func (s *NetSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (s *NetSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// SetDeadline sets read and write deadlines on the underlying connection.
// The handshake uses it to bound the hello exchange.
func (s *NetSocket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// TLSConnectionState returns the TLS state when the socket runs over TLS.
func (s *NetSocket) TLSConnectionState() (tls.ConnectionState, bool) {
	if tc, ok := s.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// markFailed flips the connected flag on errors that leave the stream
// unusable. Timeouts on reads are left to the caller to judge.
func (s *NetSocket) markFailed(err error) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return
	}
	s.connected.Store(false)
}
