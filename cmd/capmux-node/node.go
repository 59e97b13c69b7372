package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/capmux/capmux-go/internal/corelog"
	"github.com/capmux/capmux-go/pkg/config"
	"github.com/capmux/capmux-go/pkg/host"
	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/transport"
)

// flags holds command-line overrides. Zero values leave the file setting.
type flags struct {
	ConfigFile  string
	KeyFile     string
	ListenPort  uint16
	LogLevel    string
	ProtocolLog string
	Static      []string
}

// loadConfig reads the config file and applies flag overrides on top.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return nil, err
	}

	if f.KeyFile != "" {
		cfg.Node.KeyFile = f.KeyFile
	}
	if f.ListenPort != 0 {
		cfg.P2P.ListenPort = f.ListenPort
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.ProtocolLog != "" {
		cfg.Log.ProtocolLog = f.ProtocolLog
	}
	cfg.P2P.StaticNodes = append(cfg.P2P.StaticNodes, f.Static...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// node owns everything a running capmux-node holds open.
type node struct {
	cfg      *config.Config
	logs     *corelog.Backend
	logger   zerolog.Logger
	identity *peer.Identity
	host     *host.Host
	chat     *chat
	plog     *log.FileLogger
}

// newNode builds the logging backend, identity, and host for cfg. Operational
// logs go to out.
func newNode(cfg *config.Config, out io.Writer) (*node, error) {
	logs, err := corelog.New(corelog.Config{
		Level:      cfg.Log.Level,
		JSON:       cfg.Log.Format == "json",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Out:        out,
	})
	if err != nil {
		return nil, err
	}

	n := &node{
		cfg:    cfg,
		logs:   logs,
		logger: logs.Unit(corelog.UnitNode),
		chat:   newChat(logs.Unit(corelog.UnitConsole)),
	}

	n.identity, err = peer.LoadOrGenerateIdentity(cfg.Node.KeyFile)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("load identity: %w", err)
	}

	hc, err := n.hostConfig()
	if err != nil {
		n.Close()
		return nil, err
	}
	n.host, err = host.New(hc)
	if err != nil {
		n.Close()
		return nil, err
	}
	if err := n.host.RegisterCapability(chatCap, n.chat); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) hostConfig() (host.Config, error) {
	hc := host.Config{
		Identity:         n.identity,
		ListenAddr:       n.cfg.ListenAddr(),
		ListenPort:       n.cfg.P2P.ListenPort,
		ClientName:       n.cfg.Node.ClientName,
		MaxPeers:         n.cfg.P2P.MaxPeers,
		HandshakeTimeout: n.cfg.P2P.HandshakeTimeout.Std(),
		DialTimeout:      n.cfg.P2P.DialTimeout.Std(),
		Session:          n.cfg.SessionConfig(),
		Logger:           n.logs.Unit(corelog.UnitHost),
	}

	hc.StaticNodes = n.cfg.StaticEndpoints(func(entry string, err error) {
		n.logger.Warn().Str("entry", entry).Err(err).Msg("skipping malformed static node")
	})

	if n.cfg.P2P.TLS {
		cert, err := transport.GenerateCertificate(n.identity.PrivateKey())
		if err != nil {
			return hc, fmt.Errorf("generate certificate: %w", err)
		}
		hc.Certificate = &cert
	}

	plog, err := n.protocolLogger()
	if err != nil {
		return hc, err
	}
	hc.ProtocolLogger = plog
	return hc, nil
}

// protocolLogger returns the file capture, the zerolog mirror at trace level,
// both, or nil.
func (n *node) protocolLogger() (log.Logger, error) {
	var loggers []log.Logger
	if path := n.cfg.Log.ProtocolLog; path != "" {
		fl, err := log.NewFileLogger(path, log.WithHeader(log.FileHeader{
			NodeID:     n.identity.ID().String(),
			ListenAddr: n.cfg.ListenAddr(),
			Caps:       []string{chatCap.String()},
		}))
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		n.plog = fl
		loggers = append(loggers, fl)
	}
	if n.logs.Level() <= zerolog.TraceLevel {
		adapter := log.NewZerologAdapter(n.logs.Unit(corelog.UnitProtocol)).WithLevel(zerolog.TraceLevel)
		loggers = append(loggers, adapter)
	}

	return log.Combine(loggers...), nil
}

// Start starts the host.
func (n *node) Start(ctx context.Context) error {
	n.logger.Info().
		Str("node", n.identity.ID().String()).
		Str("listen", n.cfg.ListenAddr()).
		Bool("tls", n.cfg.P2P.TLS).
		Msg("starting capmux node")
	return n.host.Start(ctx)
}

// Close stops the host and flushes the logs.
func (n *node) Close() error {
	var first error
	if n.host != nil {
		first = n.host.Close()
	}
	if n.plog != nil {
		if err := n.plog.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := n.logs.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
