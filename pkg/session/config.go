package session

import (
	"fmt"
	"time"

	"github.com/capmux/capmux-go/pkg/transport"
)

// Default session parameters.
const (
	DefaultPingInterval     = 15 * time.Second
	DefaultLivenessWindow   = 60 * time.Second
	DefaultWriteTimeout     = 20 * time.Second
	DefaultDisconnectGrace  = 2 * time.Second
	DefaultAnomalyThreshold = 8
	DefaultMaxNotes         = 64
)

// DefaultUrgentProtocols are drained ahead of all other traffic: consensus
// (0x13) and block sync (0x15).
var DefaultUrgentProtocols = []uint16{0x13, 0x15}

// Config tunes a session.
type Config struct {
	// MaxPacketSize bounds the frame length field in both directions.
	MaxPacketSize uint32

	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// LivenessWindow is how long the session tolerates receiving nothing.
	LivenessWindow time.Duration

	// WriteTimeout bounds one socket write. Applied by the socket owner.
	WriteTimeout time.Duration

	// DisconnectGrace is how long teardown waits for the in-flight write and
	// the Disconnect notification before the socket is closed regardless.
	DisconnectGrace time.Duration

	// AnomalyThreshold is how many unroutable packets are tolerated.
	// Zero disconnects on the first one; negative disables the check.
	AnomalyThreshold int

	// MaxNotes bounds the notes map.
	MaxNotes int

	// UrgentProtocols are dequeued strictly before all other protocol ids.
	UrgentProtocols []uint16

	// InboundRate limits inbound bytes per second. Zero disables it.
	InboundRate float64

	// InboundBurst is the limiter bucket size in bytes. It is raised to
	// at least one maximum-size frame.
	InboundBurst int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize:    transport.DefaultMaxPacketSize,
		PingInterval:     DefaultPingInterval,
		LivenessWindow:   DefaultLivenessWindow,
		WriteTimeout:     DefaultWriteTimeout,
		DisconnectGrace:  DefaultDisconnectGrace,
		AnomalyThreshold: DefaultAnomalyThreshold,
		MaxNotes:         DefaultMaxNotes,
		UrgentProtocols:  append([]uint16(nil), DefaultUrgentProtocols...),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = def.MaxPacketSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.LivenessWindow == 0 {
		c.LivenessWindow = def.LivenessWindow
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = def.DisconnectGrace
	}
	if c.MaxNotes == 0 {
		c.MaxNotes = def.MaxNotes
	}
	if c.UrgentProtocols == nil {
		c.UrgentProtocols = def.UrgentProtocols
	}
	return c
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	if c.MaxPacketSize < transport.ProtocolIDSize {
		return fmt.Errorf("max packet size %d too small", c.MaxPacketSize)
	}
	if c.PingInterval <= 0 || c.LivenessWindow <= 0 {
		return fmt.Errorf("ping interval and liveness window must be positive")
	}
	if c.LivenessWindow <= c.PingInterval {
		return fmt.Errorf("liveness window %s must exceed ping interval %s", c.LivenessWindow, c.PingInterval)
	}
	if c.InboundRate < 0 {
		return fmt.Errorf("inbound rate must not be negative")
	}
	for _, id := range c.UrgentProtocols {
		if id == 0 {
			return fmt.Errorf("protocol 0 is reserved and cannot be marked urgent")
		}
	}
	return nil
}
