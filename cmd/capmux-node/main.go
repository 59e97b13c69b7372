// Command capmux-node runs a capmux peer: it accepts and dials sessions,
// keeps static nodes connected, and serves the built-in chat capability.
//
// Usage:
//
//	capmux-node [flags]
//
// Flags:
//
//	--config, -c string       Configuration file path (default "capmux.yaml")
//	--key-file string         Node key file (overrides node.key_file)
//	--listen-port uint        TCP port to listen on (overrides p2p.listen_port)
//	--log-level string        Log level: trace, debug, info, warn, error
//	--protocol-log string     Capture protocol events to this .plog file
//	--static value            Static node host:port (repeatable)
//	--interactive, -i         Enable interactive command mode
//
// Examples:
//
//	# Two nodes on one machine, the second keeping the first connected
//	capmux-node --key-file a.key --listen-port 30300
//	capmux-node --key-file b.key --listen-port 30301 --static 127.0.0.1:30300 -i
//
//	# Capture a protocol trace for capmux-log
//	capmux-node --protocol-log /tmp/node.plog --log-level debug
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/capmux/capmux-go/cmd/capmux-node/console"
	"github.com/capmux/capmux-go/internal/corelog"
)

func main() {
	app := &cli.App{
		Name:  "capmux-node",
		Usage: "run a capmux peer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "capmux.yaml", Usage: "configuration file path"},
			&cli.StringFlag{Name: "key-file", Usage: "node key file"},
			&cli.UintFlag{Name: "listen-port", Usage: "TCP port to listen on"},
			&cli.StringFlag{Name: "log-level", Usage: "log level: trace, debug, info, warn, error"},
			&cli.StringFlag{Name: "protocol-log", Usage: "capture protocol events to this .plog file"},
			&cli.StringSliceFlag{Name: "static", Usage: "static node host:port (repeatable)"},
			&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "enable interactive command mode"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	port := c.Uint("listen-port")
	if port > 0xFFFF {
		return fmt.Errorf("listen-port %d out of range", port)
	}

	cfg, err := loadConfig(flags{
		ConfigFile:  c.String("config"),
		KeyFile:     c.String("key-file"),
		ListenPort:  uint16(port),
		LogLevel:    c.String("log-level"),
		ProtocolLog: c.String("protocol-log"),
		Static:      c.StringSlice("static"),
	})
	if err != nil {
		return err
	}

	// Log through readline in interactive mode so output does not tear the
	// prompt.
	var (
		rl  *readline.Instance
		out io.Writer = os.Stdout
	)
	if c.Bool("interactive") {
		rl, err = console.NewReadline()
		if err != nil {
			return err
		}
		out = rl.Stdout()
	}

	n, err := newNode(cfg, out)
	if err != nil {
		if rl != nil {
			rl.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		n.Close()
		if rl != nil {
			rl.Close()
		}
		return err
	}

	if rl != nil {
		con := console.New(n.host, rl, n.logs.Unit(corelog.UnitConsole))
		go con.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		n.logger.Info().Stringer("signal", sig).Msg("received signal")
	case <-ctx.Done():
	}

	n.logger.Info().Msg("shutting down")
	cancel()
	return n.Close()
}
