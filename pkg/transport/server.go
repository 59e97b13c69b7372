package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/capmux/capmux-go/pkg/log"
)

// DefaultHandshakeTimeout bounds the TLS handshake of accepted connections.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrListenerClosed is returned by Serve after Close.
var ErrListenerClosed = errors.New("listener closed")

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address to listen on (e.g., "0.0.0.0:30300" or "127.0.0.1:0").
	Address string

	// TLS enables TLS on accepted connections when non-nil.
	TLS *tls.Config

	// HandshakeTimeout bounds the TLS handshake (default 10s).
	HandshakeTimeout time.Duration

	// SocketOptions apply to every accepted socket.
	SocketOptions []SocketOption

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnAccept is called in its own goroutine for every accepted socket.
	// connID is a fresh UUID that follows the connection through logs.
	OnAccept func(ctx context.Context, sock *NetSocket, connID string)

	// OnError is called for accept and TLS errors (optional).
	OnError func(err error)
}

// Listener accepts inbound connections and hands them out as sockets.
type Listener struct {
	config   ListenerConfig
	listener net.Listener

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen binds the configured address.
func Listen(config ListenerConfig) (*Listener, error) {
	if config.OnAccept == nil {
		return nil, fmt.Errorf("OnAccept is required")
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ln, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	return &Listener{
		config:   config,
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until ctx is done or Close is called. It waits
// for in-flight OnAccept calls before returning.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.wg.Wait()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.reportError(fmt.Errorf("accept error: %w", err))
			return err
		}

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.listener.Close()
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()

	connID := uuid.New().String()

	if l.config.TLS != nil {
		tlsConn := tls.Server(conn, l.config.TLS)
		hctx, cancel := context.WithTimeout(ctx, l.config.HandshakeTimeout)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			conn.Close()
			l.reportError(fmt.Errorf("TLS handshake with %s failed: %w", conn.RemoteAddr(), err))
			return
		}
		if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			l.reportError(err)
			return
		}
		conn = tlsConn
	}

	logConnState(l.config.Logger, connID, conn.RemoteAddr(), "", "ACCEPTED")

	l.config.OnAccept(ctx, NewNetSocket(conn, l.config.SocketOptions...), connID)
}

func (l *Listener) reportError(err error) {
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// logConnState records a transport-level connection state event.
func logConnState(logger log.Logger, connID string, remote net.Addr, oldState, newState string) {
	if logger == nil {
		return
	}
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	}
	if remote != nil {
		ev.RemoteAddr = remote.String()
	}
	logger.Log(ev)
}
