package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/capmux/capmux-go/pkg/log"
)

// DefaultConnectTimeout bounds dialing plus the TLS handshake.
const DefaultConnectTimeout = 30 * time.Second

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// TLS enables TLS on dialed connections when non-nil.
	TLS *tls.Config

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration

	// SocketOptions apply to every dialed socket.
	SocketOptions []SocketOption

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Dialer establishes outbound connections.
type Dialer struct {
	config DialerConfig
}

// NewDialer creates a dialer.
func NewDialer(config DialerConfig) *Dialer {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	return &Dialer{config: config}
}

// Dial connects to address and returns the socket and a fresh connection ID.
func (d *Dialer) Dial(ctx context.Context, address string) (*NetSocket, string, error) {
	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, "", fmt.Errorf("dial failed: %w", err)
	}

	if d.config.TLS != nil {
		tlsConn := tls.Client(conn, d.config.TLS)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, "", fmt.Errorf("TLS handshake failed: %w", err)
		}
		if err := VerifyConnection(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			return nil, "", fmt.Errorf("connection verification failed: %w", err)
		}
		conn = tlsConn
	}

	connID := uuid.New().String()
	logConnState(d.config.Logger, connID, conn.RemoteAddr(), "", "DIALED")

	return NewNetSocket(conn, d.config.SocketOptions...), connID, nil
}
