package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/session"
	"github.com/capmux/capmux-go/pkg/transport"
)

// Defaults for the p2p section.
const (
	DefaultPublicIP   = "127.0.0.1"
	DefaultListenIP   = "0.0.0.0"
	DefaultListenPort = 30300
	DefaultMaxPeers   = 25
	DefaultKeyFile    = "node.key"
	DefaultLogLevel   = "info"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Duration is a time.Duration written as a string in YAML.
type Duration time.Duration

// UnmarshalYAML parses "15s", "2m" and the like.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	P2P     P2PConfig     `yaml:"p2p"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig holds identity settings.
type NodeConfig struct {
	// KeyFile holds the hex-encoded ed25519 seed. Created when missing.
	KeyFile string `yaml:"key_file"`

	// ClientName is announced to peers.
	ClientName string `yaml:"client_name"`
}

// P2PConfig holds network settings.
type P2PConfig struct {
	PublicIP   string `yaml:"public_ip"`
	ListenIP   string `yaml:"listen_ip"`
	ListenPort uint16 `yaml:"listen_port"`
	MaxPeers   int    `yaml:"max_peers"`

	// StaticNodes are "host:port" entries kept connected.
	StaticNodes []string `yaml:"static_nodes"`

	// TLS enables TLS 1.3 with a certificate derived from the node key.
	TLS bool `yaml:"tls"`

	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	DialTimeout      Duration `yaml:"dial_timeout"`
}

// SessionConfig mirrors session.Config.
type SessionConfig struct {
	MaxPacketSize    uint32   `yaml:"max_packet_size"`
	PingInterval     Duration `yaml:"ping_interval"`
	LivenessWindow   Duration `yaml:"liveness_window"`
	WriteTimeout     Duration `yaml:"write_timeout"`
	DisconnectGrace  Duration `yaml:"disconnect_grace"`
	AnomalyThreshold int      `yaml:"anomaly_threshold"`
	MaxNotes         int      `yaml:"max_notes"`
	UrgentProtocols  []uint16 `yaml:"urgent_protocols"`
	InboundRate      float64  `yaml:"inbound_rate"`
	InboundBurst     int      `yaml:"inbound_burst"`
}

// LogConfig holds operational and protocol logging settings.
type LogConfig struct {
	Level string `yaml:"level"`

	// Format is "console" or "json".
	Format string `yaml:"format"`

	// File enables a rolling log file in addition to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`

	// ProtocolLog, when set, captures protocol events to this .plog file.
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sc := session.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			KeyFile:    DefaultKeyFile,
			ClientName: "capmux",
		},
		P2P: P2PConfig{
			PublicIP:         DefaultPublicIP,
			ListenIP:         DefaultListenIP,
			ListenPort:       DefaultListenPort,
			MaxPeers:         DefaultMaxPeers,
			HandshakeTimeout: Duration(10 * time.Second),
			DialTimeout:      Duration(15 * time.Second),
		},
		Session: SessionConfig{
			MaxPacketSize:    sc.MaxPacketSize,
			PingInterval:     Duration(sc.PingInterval),
			LivenessWindow:   Duration(sc.LivenessWindow),
			WriteTimeout:     Duration(sc.WriteTimeout),
			DisconnectGrace:  Duration(sc.DisconnectGrace),
			AnomalyThreshold: sc.AnomalyThreshold,
			MaxNotes:         sc.MaxNotes,
			UrgentProtocols:  sc.UrgentProtocols,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "validation failed", Cause: err}
	}
	return cfg, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and addresses.
func (c *Config) Validate() error {
	if ip := net.ParseIP(c.P2P.ListenIP); ip == nil {
		return fmt.Errorf("%w: listen_ip %q", ErrInvalidConfig, c.P2P.ListenIP)
	}
	if c.P2P.PublicIP != "" && net.ParseIP(c.P2P.PublicIP) == nil {
		return fmt.Errorf("%w: public_ip %q", ErrInvalidConfig, c.P2P.PublicIP)
	}
	if c.P2P.MaxPeers < 0 {
		return fmt.Errorf("%w: max_peers must not be negative", ErrInvalidConfig)
	}
	if c.Session.MaxPacketSize > transport.DefaultMaxPacketSize*4 {
		return fmt.Errorf("%w: max_packet_size %d exceeds %d", ErrInvalidConfig, c.Session.MaxPacketSize, transport.DefaultMaxPacketSize*4)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ListenAddr returns listen_ip:listen_port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.P2P.ListenIP, strconv.Itoa(int(c.P2P.ListenPort)))
}

// SessionConfig converts the session section.
func (c *Config) SessionConfig() session.Config {
	s := c.Session
	return session.Config{
		MaxPacketSize:    s.MaxPacketSize,
		PingInterval:     s.PingInterval.Std(),
		LivenessWindow:   s.LivenessWindow.Std(),
		WriteTimeout:     s.WriteTimeout.Std(),
		DisconnectGrace:  s.DisconnectGrace.Std(),
		AnomalyThreshold: s.AnomalyThreshold,
		MaxNotes:         s.MaxNotes,
		UrgentProtocols:  s.UrgentProtocols,
		InboundRate:      s.InboundRate,
		InboundBurst:     s.InboundBurst,
	}.WithDefaults()
}

// StaticEndpoints parses the static node list. Malformed entries are passed
// to skip, when non-nil, and left out.
func (c *Config) StaticEndpoints(skip func(entry string, err error)) []peer.Endpoint {
	out := make([]peer.Endpoint, 0, len(c.P2P.StaticNodes))
	seen := make(map[peer.Endpoint]bool)
	for _, entry := range c.P2P.StaticNodes {
		ep, err := peer.ParseEndpoint(entry)
		if err != nil {
			if skip != nil {
				skip(entry, err)
			}
			continue
		}
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}
