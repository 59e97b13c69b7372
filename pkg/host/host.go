package host

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/capmux/capmux-go/pkg/handshake"
	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/redial"
	"github.com/capmux/capmux-go/pkg/session"
	"github.com/capmux/capmux-go/pkg/transport"
	"github.com/capmux/capmux-go/pkg/wire"
)

// rejectWriteTimeout bounds the Disconnect sent to a rejected peer.
const rejectWriteTimeout = time.Second

// DisconnectFunc observes sessions leaving the peer table.
type DisconnectFunc func(s *session.Session, reason wire.DisconnectReason)

// Host owns the listener, the static node dialers and the peer table.
type Host struct {
	cfg    Config
	caps   *session.CapabilityTable
	logger zerolog.Logger
	plog   log.Logger

	dialer    *transport.Dialer
	serverTLS *tls.Config
	listener  *transport.Listener
	keeper    *redial.Keeper
	pending   *pendingConns

	mu       sync.RWMutex
	sessions map[peer.NodeID]*session.Session

	subsMu sync.RWMutex
	subs   []DisconnectFunc

	started atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a host. Capabilities should be registered before Start.
func New(cfg Config) (*Host, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Host{
		cfg:      cfg,
		caps:     session.NewCapabilityTable(),
		logger:   cfg.Logger.With().Str("node", cfg.Identity.ID().Short()).Logger(),
		plog:     cfg.ProtocolLogger,
		pending:  newPendingConns(),
		sessions: make(map[peer.NodeID]*session.Session),
	}

	dc := transport.DialerConfig{
		ConnectTimeout: cfg.DialTimeout,
		SocketOptions:  h.socketOptions(),
		Logger:         cfg.ProtocolLogger,
	}
	if cfg.Certificate != nil {
		clientTLS, err := transport.NewClientTLSConfig(*cfg.Certificate)
		if err != nil {
			return nil, err
		}
		serverTLS, err := transport.NewServerTLSConfig(*cfg.Certificate)
		if err != nil {
			return nil, err
		}
		dc.TLS = clientTLS
		h.serverTLS = serverTLS
	}
	h.dialer = transport.NewDialer(dc)

	h.keeper = redial.NewKeeper(h.dialStatic,
		redial.WithBackoff(cfg.Redial),
		redial.WithLogger(h.logger),
	)
	for _, ep := range cfg.StaticNodes {
		h.keeper.Add(ep)
	}
	return h, nil
}

func (h *Host) socketOptions() []transport.SocketOption {
	return []transport.SocketOption{transport.WithWriteTimeout(h.cfg.Session.WriteTimeout)}
}

// ID returns the local node ID.
func (h *Host) ID() peer.NodeID {
	return h.cfg.Identity.ID()
}

// Capabilities returns the capability table shared by all sessions.
func (h *Host) Capabilities() *session.CapabilityTable {
	return h.caps
}

// RegisterCapability adds a handler for c. Sessions established afterwards
// announce it; running sessions route it immediately.
func (h *Host) RegisterCapability(c wire.Cap, handler session.Handler) error {
	return h.caps.Register(c, handler)
}

// OnPeerDisconnect adds a listener for sessions leaving the peer table. It
// runs on the goroutine that ended the session and must not block.
func (h *Host) OnPeerDisconnect(fn DisconnectFunc) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subs = append(h.subs, fn)
}

// Start binds the listener and starts the static node dialers. It returns
// once the listener is bound.
func (h *Host) Start(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(h.ctx)
	h.group = g

	if h.cfg.ListenAddr != "" {
		lc := transport.ListenerConfig{
			Address:          h.cfg.ListenAddr,
			HandshakeTimeout: h.cfg.HandshakeTimeout,
			SocketOptions:    h.socketOptions(),
			Logger:           h.plog,
			OnAccept:         h.accept,
			OnError: func(err error) {
				h.logger.Debug().Err(err).Msg("inbound connection failed")
			},
		}
		lc.TLS = h.serverTLS
		ln, err := transport.Listen(lc)
		if err != nil {
			h.cancel()
			return err
		}
		h.listener = ln
		if h.cfg.ListenPort == 0 {
			if addr, ok := ln.Addr().(*net.TCPAddr); ok {
				h.cfg.ListenPort = uint16(addr.Port)
			}
		}
		h.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

		g.Go(func() error {
			return ln.Serve(gctx)
		})
	}

	if err := h.keeper.Start(gctx); err != nil {
		h.cancel()
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		h.keeper.Close()
		return nil
	})

	return nil
}

// Addr returns the listener address, or nil when not listening.
func (h *Host) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Close disconnects every peer with DisconnectClientQuit, stops the listener
// and the dialers, and waits for sessions to close.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	if h.cancel != nil {
		h.cancel()
	}
	if h.listener != nil {
		_ = h.listener.Close()
	}
	h.keeper.Close()
	h.pending.CloseAll()

	sessions := h.Peers()
	for _, s := range sessions {
		s.Disconnect(wire.DisconnectClientQuit)
	}
	for _, s := range sessions {
		<-s.Done()
	}

	var err error
	if h.group != nil {
		err = h.group.Wait()
	}
	h.logger.Info().Int("peers", len(sessions)).Msg("host closed")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Connect dials addr and runs the handshake. A non-zero expect makes the
// connection fail with handshake.ErrUnexpectedIdentity unless the remote
// proves that identity.
func (h *Host) Connect(ctx context.Context, addr string, expect peer.NodeID) (*session.Session, error) {
	return h.connect(ctx, addr, expect, false)
}

func (h *Host) connect(ctx context.Context, addr string, expect peer.NodeID, static bool) (*session.Session, error) {
	if !h.started.Load() {
		return nil, ErrNotStarted
	}
	if h.closed.Load() {
		return nil, ErrClosed
	}

	sock, connID, err := h.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return h.setup(ctx, sock, connID, log.RoleInitiator, expect, static)
}

// dialStatic is the redial loop's dial function.
func (h *Host) dialStatic(ctx context.Context, ep peer.Endpoint) (<-chan struct{}, error) {
	// The node may have dialed us first.
	if s := h.sessionAt(ep); s != nil {
		s.Peer().MarkStatic()
		return s.Done(), nil
	}
	s, err := h.connect(ctx, ep.String(), peer.NodeID{}, true)
	if err != nil {
		return nil, err
	}
	return s.Done(), nil
}

func (h *Host) accept(ctx context.Context, sock *transport.NetSocket, connID string) {
	if _, err := h.setup(ctx, sock, connID, log.RoleResponder, peer.NodeID{}, false); err != nil {
		h.logger.Debug().Err(err).Str("conn_id", connID).Str("remote", sock.RemoteAddr().String()).Msg("inbound peer not admitted")
	}
}

// setup runs the handshake and admission on a connected socket and starts
// the session. The socket is closed on failure.
func (h *Host) setup(ctx context.Context, sock transport.Socket, connID string, role log.Role, expect peer.NodeID, static bool) (*session.Session, error) {
	remote := sock.RemoteAddr().String()
	h.pending.Add(sock)
	defer h.pending.Remove(sock)

	res, err := handshake.Run(ctx, sock, handshake.Config{
		Identity:      h.cfg.Identity,
		Caps:          h.caps.Caps(),
		ListenPort:    h.cfg.ListenPort,
		ClientName:    h.cfg.ClientName,
		Expect:        expect,
		Timeout:       h.cfg.HandshakeTimeout,
		MaxPacketSize: h.cfg.Session.MaxPacketSize,
		Logger:        h.plog,
		ConnID:        connID,
		Role:          role,
	})
	if err != nil {
		if errors.Is(err, handshake.ErrRemoteDisconnected) {
			_ = sock.Close()
		} else {
			h.reject(sock, connID, handshake.ReasonFor(err))
		}
		return nil, fmt.Errorf("handshake with %s: %w", remote, err)
	}

	p := peer.New(res.Remote, peer.EndpointFromAddr(sock.RemoteAddr()))
	p.ApplyHello(res.Hello)
	if static {
		p.MarkStatic()
	}

	s, err := session.New(sock, p, h, h.caps, h.cfg.Session,
		session.WithConnID(connID),
		session.WithRole(role),
		session.WithLogger(h.logger.With().Str("unit", "SESS").Logger()),
		session.WithProtocolLogger(h.plog),
	)
	if err != nil {
		h.reject(sock, connID, wire.DisconnectRequested)
		return nil, err
	}

	h.mu.Lock()
	if reason, ok := h.admitLocked(p, res.SharedCaps); !ok {
		h.mu.Unlock()
		h.reject(sock, connID, reason)
		return nil, &AdmissionError{Reason: reason}
	}
	h.sessions[p.ID()] = s
	h.mu.Unlock()

	if err := s.Start(h.ctx); err != nil {
		h.remove(s)
		return nil, err
	}

	h.logConn(connID, remote, role, p.ID(), "ADMITTED", "")
	h.logger.Info().
		Str("peer", p.ID().Short()).
		Str("remote", remote).
		Str("role", role.String()).
		Str("client", p.ClientName()).
		Str("caps", capList(res.SharedCaps)).
		Msg("peer connected")
	return s, nil
}

// admitLocked applies the admission checks. h.mu must be held.
func (h *Host) admitLocked(p *peer.Peer, shared []wire.Cap) (wire.DisconnectReason, bool) {
	switch {
	case p.ID() == h.ID():
		return wire.DisconnectLocalIdentity, false
	case h.sessions[p.ID()] != nil:
		return wire.DisconnectDuplicatePeer, false
	case !p.IsStatic() && h.countDynamicLocked() >= h.cfg.MaxPeers:
		return wire.DisconnectTooManyPeers, false
	case len(shared) == 0 && len(h.caps.Caps()) > 0:
		return wire.DisconnectUselessPeer, false
	}
	return 0, true
}

func (h *Host) countDynamicLocked() int {
	n := 0
	for _, s := range h.sessions {
		if !s.Peer().IsStatic() {
			n++
		}
	}
	return n
}

// reject tells the peer why it is being dropped, then closes the socket.
func (h *Host) reject(sock transport.Socket, connID string, reason wire.DisconnectReason) {
	defer sock.Close()

	h.logConn(connID, sock.RemoteAddr().String(), 0, peer.NodeID{}, "REJECTED", reason.String())
	if !reason.Notifiable() || !sock.IsConnected() {
		return
	}
	data, err := wire.EncodeDisconnect(reason)
	if err != nil {
		return
	}
	if d, ok := sock.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Now().Add(rejectWriteTimeout))
	}
	_, _ = sock.Write(transport.Encode(data, wire.ProtocolSession))
}

// OnDisconnect implements session.Registry.
func (h *Host) OnDisconnect(s *session.Session, reason wire.DisconnectReason) {
	h.remove(s)

	ev := h.logger.Info()
	if !reason.Notifiable() {
		ev = h.logger.Debug()
	}
	ev.Str("peer", s.NodeID().Short()).Str("reason", reason.String()).Msg("peer disconnected")
	h.logConn(s.ConnID(), s.RemoteAddr(), s.Role(), s.NodeID(), "DISCONNECTED", reason.String())

	h.subsMu.RLock()
	subs := slices.Clone(h.subs)
	h.subsMu.RUnlock()
	for _, fn := range subs {
		fn(s, reason)
	}
}

// remove drops s from the peer table if it is still the registered session
// for its node.
func (h *Host) remove(s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.sessions[s.NodeID()]; ok && cur == s {
		delete(h.sessions, s.NodeID())
	}
}

// Peers returns the registered sessions ordered by node ID.
func (h *Host) Peers() []*session.Session {
	h.mu.RLock()
	out := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b *session.Session) int {
		return strings.Compare(a.NodeID().String(), b.NodeID().String())
	})
	return out
}

// PeerCount returns the number of registered sessions.
func (h *Host) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Session returns the session for id.
func (h *Host) Session(id peer.NodeID) (*session.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Host) sessionAt(ep peer.Endpoint) *session.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s.Peer().Endpoint() == ep {
			return s
		}
	}
	return nil
}

// FindPeer resolves a full hex node ID or a unique prefix of one.
func (h *Host) FindPeer(prefix string) (*session.Session, error) {
	prefix = strings.ToLower(prefix)
	var match *session.Session
	for _, s := range h.Peers() {
		if strings.HasPrefix(s.NodeID().String(), prefix) {
			if match != nil {
				return nil, fmt.Errorf("%w: %q is ambiguous", ErrUnknownPeer, prefix)
			}
			match = s
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeer, prefix)
	}
	return match, nil
}

// Disconnect drops the session to id with reason.
func (h *Host) Disconnect(id peer.NodeID, reason wire.DisconnectReason) error {
	s, ok := h.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id.Short())
	}
	s.Disconnect(reason)
	return nil
}

// Send queues a packet for one peer. It fails with
// session.ErrUnknownCapability when protocolID is not registered locally or
// was not announced by the peer.
func (h *Host) Send(id peer.NodeID, protocolID uint16, t wire.PacketType, body any) error {
	s, ok := h.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id.Short())
	}
	if _, ok := h.caps.Lookup(protocolID); !ok || !s.Peer().HasCap(protocolID) {
		return fmt.Errorf("%w: 0x%04x", session.ErrUnknownCapability, protocolID)
	}
	return s.Send(protocolID, t, body)
}

// Broadcast sends a packet to every peer that announced protocolID. It
// returns how many sessions accepted it.
func (h *Host) Broadcast(protocolID uint16, t wire.PacketType, body any) int {
	if _, ok := h.caps.Lookup(protocolID); !ok {
		return 0
	}
	data, err := wire.EncodePacket(t, body)
	if err != nil {
		return 0
	}
	sent := 0
	for _, s := range h.Peers() {
		if !s.Peer().HasCap(protocolID) {
			continue
		}
		if s.SealAndSend(protocolID, data) == nil {
			sent++
		}
	}
	return sent
}

// StaticState returns the redial state of a static node.
func (h *Host) StaticState(ep peer.Endpoint) (redial.State, bool) {
	return h.keeper.State(ep)
}

func (h *Host) logConn(connID, remote string, role log.Role, id peer.NodeID, state, reason string) {
	if h.plog == nil {
		return
	}
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerHost,
		Category:     log.CategoryState,
		LocalRole:    role,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			NewState: state,
			Reason:   reason,
		},
	}
	if !id.IsZero() {
		ev.NodeID = id.String()
	}
	h.plog.Log(ev)
}

func capList(caps []wire.Cap) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}
