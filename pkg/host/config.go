package host

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/redial"
	"github.com/capmux/capmux-go/pkg/session"
)

// Default host parameters.
const (
	DefaultMaxPeers         = 25
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultDialTimeout      = 15 * time.Second
	DefaultClientName       = "capmux"
)

// Config configures a Host.
type Config struct {
	// Identity is the node's long-term key. Required.
	Identity *peer.Identity

	// ListenAddr is the TCP address to accept on. Empty disables listening.
	ListenAddr string

	// ListenPort is announced in the hello. Zero announces the bound port.
	ListenPort uint16

	// ClientName is announced in the hello.
	ClientName string

	// MaxPeers bounds the peer table. Static nodes are not counted against it.
	MaxPeers int

	// StaticNodes are dialed at start and redialed when their session ends.
	StaticNodes []peer.Endpoint

	// Certificate enables TLS 1.3 on both listener and dialer when set.
	Certificate *tls.Certificate

	// HandshakeTimeout bounds the TLS and hello exchanges.
	HandshakeTimeout time.Duration

	// DialTimeout bounds TCP connect plus TLS for outbound connections.
	DialTimeout time.Duration

	// Session tunes every session the host creates.
	Session session.Config

	// Redial tunes static node backoff.
	Redial redial.BackoffConfig

	// Logger is the operational logger.
	Logger zerolog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = DefaultMaxPeers
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Identity == nil {
		return fmt.Errorf("identity is required")
	}
	if c.MaxPeers < 0 {
		return fmt.Errorf("max peers must not be negative")
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
