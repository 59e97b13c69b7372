// Package console provides the interactive command interface of capmux-node.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/capmux/capmux-go/pkg/host"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/session"
	"github.com/capmux/capmux-go/pkg/wire"
)

// PongTimeout bounds how long the ping command waits for an answer.
var PongTimeout = 5 * time.Second

// Console runs operator commands against a host.
type Console struct {
	host   *host.Host
	rl     *readline.Instance
	out    io.Writer
	logger zerolog.Logger
}

// NewReadline creates the line editor. Create it before the loggers so they
// can write through Stdout without tearing the prompt.
func NewReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "capmux> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// New creates a console for h reading from rl.
func New(h *host.Host, rl *readline.Instance, logger zerolog.Logger) *Console {
	return &Console{
		host:   h,
		rl:     rl,
		out:    rl.Stdout(),
		logger: logger,
	}
}

// Run reads commands until quit, EOF, or ctx is done. cancel is called when
// the operator quits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns true when the operator asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status":
		c.cmdStatus()
	case "peers", "ls":
		c.cmdPeers()
	case "info", "i":
		err = c.cmdInfo(args)
	case "connect":
		err = c.cmdConnect(ctx, args)
	case "ping":
		err = c.cmdPing(ctx, args)
	case "send":
		err = c.cmdSend(args)
	case "note":
		err = c.cmdNote(args)
	case "drop", "kick":
		err = c.cmdDrop(args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		c.logger.Debug().Err(err).Str("cmd", cmd).Msg("command failed")
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
capmux Node Commands:
  Peers:
    peers                                  - List active sessions
    info <peer>                            - Show session details
    connect <host:port> [node-id]          - Dial a peer
    drop <peer> [reason-code]              - Disconnect a peer

  Traffic:
    ping <peer>                            - Measure round-trip latency
    send <peer> <protocol> <type> <text>   - Send a text body on a capability
    note <peer> <key> [value]              - Show or set a session note

  General:
    status                                 - Show node status
    help                                   - Show this help
    quit                                   - Exit the node

  <peer> is any unique prefix of a node ID.`)
}

func (c *Console) cmdStatus() {
	fmt.Fprintf(c.out, "Node:   %s\n", c.host.ID())
	if addr := c.host.Addr(); addr != nil {
		fmt.Fprintf(c.out, "Listen: %s\n", addr)
	} else {
		fmt.Fprintln(c.out, "Listen: disabled")
	}
	caps := c.host.Capabilities().Caps()
	names := make([]string, 0, len(caps))
	for _, cp := range caps {
		names = append(names, cp.String())
	}
	fmt.Fprintf(c.out, "Caps:   %s\n", strings.Join(names, ", "))
	fmt.Fprintf(c.out, "Peers:  %d\n", c.host.PeerCount())
}

func (c *Console) cmdPeers() {
	peers := c.host.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No peers connected")
		return
	}

	fmt.Fprintf(c.out, "\nPeers (%d):\n", len(peers))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, s := range peers {
		info := s.Info()
		p := s.Peer()
		static := ""
		if p.IsStatic() {
			static = " static"
		}
		fmt.Fprintf(c.out, "  %s  %-21s %-9s %s%s\n",
			s.NodeID().Short(), info.RemoteAddr, s.Role(), p.ClientName(), static)
		if info.Latency > 0 {
			fmt.Fprintf(c.out, "      latency %s\n", info.Latency.Round(time.Microsecond))
		}
	}
}

func (c *Console) find(args []string, usage string) (*session.Session, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	return c.host.FindPeer(args[0])
}

func (c *Console) cmdInfo(args []string) error {
	s, err := c.find(args, "info <peer>")
	if err != nil {
		return err
	}
	info := s.Info()
	p := s.Peer()

	fmt.Fprintf(c.out, "Node:       %s\n", info.NodeID)
	fmt.Fprintf(c.out, "Conn:       %s (%s)\n", info.ConnID, s.Role())
	fmt.Fprintf(c.out, "Remote:     %s\n", info.RemoteAddr)
	fmt.Fprintf(c.out, "Client:     %s\n", p.ClientName())
	fmt.Fprintf(c.out, "State:      %s\n", info.State)
	fmt.Fprintf(c.out, "Connected:  %s ago\n", time.Since(info.ConnectedAt).Round(time.Second))
	if !info.LastReceived.IsZero() {
		fmt.Fprintf(c.out, "Last rx:    %s ago\n", time.Since(info.LastReceived).Round(time.Millisecond))
	}
	if info.Latency > 0 {
		fmt.Fprintf(c.out, "Latency:    %s\n", info.Latency.Round(time.Microsecond))
	}
	fmt.Fprintf(c.out, "Frames:     in=%d out=%d\n", info.FramesIn, info.FramesOut)
	fmt.Fprintf(c.out, "Bytes:      in=%d out=%d\n", info.BytesIn, info.BytesOut)
	fmt.Fprintf(c.out, "Queue:      %d\n", info.QueueLen)
	if info.Anomalies > 0 {
		fmt.Fprintf(c.out, "Anomalies:  %d\n", info.Anomalies)
	}

	caps := p.Caps()
	names := make([]string, 0, len(caps))
	for _, cp := range caps {
		names = append(names, cp.String())
	}
	fmt.Fprintf(c.out, "Caps:       %s\n", strings.Join(names, ", "))

	if len(info.Notes) > 0 {
		keys := make([]string, 0, len(info.Notes))
		for k := range info.Notes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(c.out, "Notes:")
		for _, k := range keys {
			fmt.Fprintf(c.out, "  %s = %s\n", k, info.Notes[k])
		}
	}
	return nil
}

func (c *Console) cmdConnect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: connect <host:port> [node-id]")
	}
	var expect peer.NodeID
	if len(args) > 1 {
		id, err := peer.ParseNodeID(args[1])
		if err != nil {
			return err
		}
		expect = id
	}

	s, err := c.host.Connect(ctx, args[0], expect)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Connected to %s (%s)\n", s.NodeID().Short(), s.RemoteAddr())
	return nil
}

func (c *Console) cmdPing(ctx context.Context, args []string) error {
	s, err := c.find(args, "ping <peer>")
	if err != nil {
		return err
	}
	if err := s.Ping(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, PongTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		info := s.Info()
		if !info.PingPending {
			fmt.Fprintf(c.out, "pong from %s: %s\n", s.NodeID().Short(), info.Latency.Round(time.Microsecond))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no pong from %s within %s", s.NodeID().Short(), PongTimeout)
		case <-s.Done():
			return session.ErrSessionClosed
		case <-ticker.C:
		}
	}
}

func (c *Console) cmdSend(args []string) error {
	const usage = "send <peer> <protocol> <type> <text>"
	if len(args) < 4 {
		return fmt.Errorf("usage: %s", usage)
	}
	s, err := c.find(args, usage)
	if err != nil {
		return err
	}
	pid, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid protocol %q: %w", args[1], err)
	}
	typ, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid type %q: %w", args[2], err)
	}
	text := strings.Join(args[3:], " ")

	if err := c.host.Send(s.NodeID(), uint16(pid), wire.PacketType(typ), text); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "sent %d bytes to %s on 0x%04x\n", len(text), s.NodeID().Short(), pid)
	return nil
}

func (c *Console) cmdNote(args []string) error {
	s, err := c.find(args, "note <peer> <key> [value]")
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: note <peer> <key> [value]")
	}
	key := args[1]

	if len(args) == 2 {
		v, ok := s.Note(key)
		if !ok {
			fmt.Fprintf(c.out, "%s: not set\n", key)
			return nil
		}
		fmt.Fprintf(c.out, "%s = %s\n", key, v)
		return nil
	}

	value := strings.Join(args[2:], " ")
	if err := s.SetNote(key, value); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s = %s\n", key, value)
	return nil
}

func (c *Console) cmdDrop(args []string) error {
	s, err := c.find(args, "drop <peer> [reason-code]")
	if err != nil {
		return err
	}
	reason := wire.DisconnectRequested
	if len(args) > 1 {
		code, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid reason %q: %w", args[1], err)
		}
		reason = wire.DisconnectReason(code)
	}

	if err := c.host.Disconnect(s.NodeID(), reason); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "dropped %s (%s)\n", s.NodeID().Short(), reason)
	return nil
}
