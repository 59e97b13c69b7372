package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/transport"
	"github.com/capmux/capmux-go/pkg/wire"
)

// Registry is the owner a session reports its end to.
type Registry interface {
	// OnDisconnect is called exactly once per session, from the goroutine
	// that triggered the disconnect. It must not wait for the session to
	// reach Closed.
	OnDisconnect(s *Session, reason wire.DisconnectReason)
}

// Option configures a Session.
type Option func(*Session)

// WithConnID sets the connection ID used in logs. A UUID is generated
// when it is not set.
func WithConnID(id string) Option {
	return func(s *Session) { s.connID = id }
}

// WithRole records whether the local node dialed or accepted.
func WithRole(role log.Role) Option {
	return func(s *Session) { s.role = role }
}

// WithLogger sets the operational logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithProtocolLogger enables protocol event capture.
func WithProtocolLogger(l log.Logger) Option {
	return func(s *Session) { s.plog = l }
}

// Session runs one peer connection.
type Session struct {
	connID     string
	role       log.Role
	remoteAddr string
	cfg        Config

	sock     transport.Socket
	peer     *peer.Peer
	registry Registry
	caps     *CapabilityTable
	queue    *WriteQueue
	limiter  *rate.Limiter

	logger zerolog.Logger
	plog   log.Logger

	state           atomic.Int32
	dropped         atomic.Bool
	remoteInitiated atomic.Bool

	// Hot-path counters, kept off infoMu.
	epoch        time.Time
	lastReceived atomic.Int64
	anomalies    atomic.Int32
	nonce        atomic.Uint64
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64

	infoMu sync.RWMutex
	info   info

	live    *liveness
	closing chan struct{}
	done    chan struct{}
	loops   sync.WaitGroup

	stopMu     sync.Mutex
	graceTimer *time.Timer
	stopCtx    func() bool
}

// New creates a session in StateConnecting bound to p over sock. The
// capability table is shared, not copied.
func New(sock transport.Socket, p *peer.Peer, registry Registry, caps *CapabilityTable, cfg Config, opts ...Option) (*Session, error) {
	if sock == nil {
		return nil, fmt.Errorf("session: socket is required")
	}
	if p == nil {
		return nil, fmt.Errorf("session: peer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("session: registry is required")
	}
	if caps == nil {
		caps = NewCapabilityTable()
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		sock:     sock,
		peer:     p,
		registry: registry,
		caps:     caps,
		queue:    NewWriteQueue(cfg.UrgentProtocols),
		logger:   zerolog.Nop(),
		epoch:    time.Now(),
		info:     info{notes: make(map[string]string)},
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.connID == "" {
		s.connID = uuid.New().String()
	}
	if addr := sock.RemoteAddr(); addr != nil {
		s.remoteAddr = addr.String()
	}
	if cfg.InboundRate > 0 {
		burst := max(cfg.InboundBurst, transport.LengthPrefixSize+int(cfg.MaxPacketSize))
		s.limiter = rate.NewLimiter(rate.Limit(cfg.InboundRate), burst)
	}

	s.logger = s.logger.With().
		Str("conn_id", s.connID).
		Str("node", p.ID().Short()).
		Str("remote", s.remoteAddr).
		Logger()

	s.live = newLiveness(cfg.PingInterval, cfg.LivenessWindow,
		s.Ping,
		s.LastReceived,
		func() {
			s.logger.Warn().Dur("window", cfg.LivenessWindow).Msg("no traffic within liveness window")
			s.Disconnect(wire.DisconnectPingTimeout)
		},
	)

	return s, nil
}

// ConnID returns the connection ID.
func (s *Session) ConnID() string {
	return s.connID
}

// Peer returns the remote peer record.
func (s *Session) Peer() *peer.Peer {
	return s.peer
}

// NodeID returns the remote node identifier.
func (s *Session) NodeID() peer.NodeID {
	return s.peer.ID()
}

// RemoteAddr returns the remote address as seen at construction.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Role returns whether the local node dialed or accepted.
func (s *Session) Role() log.Role {
	return s.role
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsActive reports whether the session accepts sends.
func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is closed or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReceived returns when the last frame arrived. Before any traffic it is
// the time the session started.
func (s *Session) LastReceived() time.Time {
	return s.epoch.Add(time.Duration(s.lastReceived.Load()))
}

// Reason returns the disconnect reason once the session has been dropped.
func (s *Session) Reason() (wire.DisconnectReason, bool) {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	if s.info.reason == nil {
		return 0, false
	}
	return *s.info.reason, true
}

// Start moves the session to Active and starts its reader, writer and
// liveness monitor. When ctx ends the session disconnects with
// DisconnectClientQuit.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		if s.State() == StateActive {
			return ErrAlreadyStarted
		}
		return ErrSessionClosed
	}

	now := time.Now()
	s.lastReceived.Store(int64(now.Sub(s.epoch)))
	s.infoMu.Lock()
	s.info.connectedAt = now
	s.infoMu.Unlock()

	s.logState(StateConnecting, StateActive, "")
	s.logger.Info().Msg("session started")

	for _, h := range s.caps.handlers() {
		if sh, ok := h.(StartHandler); ok {
			sh.OnSessionStart(s)
		}
	}

	s.stopMu.Lock()
	s.stopCtx = context.AfterFunc(ctx, func() {
		s.Disconnect(wire.DisconnectClientQuit)
	})
	s.stopMu.Unlock()

	s.loops.Add(2)
	go s.readLoop()
	go s.writeLoop()
	s.live.start()

	go func() {
		s.loops.Wait()
		s.finish()
	}()

	return nil
}

// Disconnect drops the session with reason. Only the first call has an
// effect; it records the reason, notifies the registry and starts teardown.
func (s *Session) Disconnect(reason wire.DisconnectReason) {
	s.disconnect(reason, false)
}

func (s *Session) disconnect(reason wire.DisconnectReason, remote bool) bool {
	var prev State
	for {
		prev = s.State()
		if prev != StateConnecting && prev != StateActive {
			return false
		}
		if s.state.CompareAndSwap(int32(prev), int32(StateDisconnecting)) {
			break
		}
	}

	s.remoteInitiated.Store(remote)
	s.infoMu.Lock()
	r := reason
	s.info.reason = &r
	s.dropped.Store(true)
	s.infoMu.Unlock()

	s.live.stop()
	close(s.closing)

	s.logState(prev, StateDisconnecting, reason.String())
	ev := s.logger.Info()
	switch reason {
	case wire.DisconnectProtocolViolation, wire.DisconnectCapabilityMismatch,
		wire.DisconnectRateExceeded, wire.DisconnectPingTimeout:
		ev = s.logger.Warn()
	}
	ev.Str("reason", reason.String()).Bool("remote", remote).Msg("session disconnecting")

	s.registry.OnDisconnect(s, reason)

	s.stopMu.Lock()
	s.graceTimer = time.AfterFunc(s.cfg.DisconnectGrace, func() {
		_ = s.sock.Close()
	})
	s.stopMu.Unlock()

	if prev == StateConnecting {
		// Never started, so no writer will run teardown. The notify write
		// can block on a peer that is not reading; the grace timer bounds it.
		go func() {
			s.teardown()
			s.finish()
		}()
	}
	return true
}

// fail reports an I/O-path error and disconnects with reason.
func (s *Session) fail(reason wire.DisconnectReason, err error, op string) {
	if s.dropped.Load() {
		return
	}
	s.logError(err, op)
	s.logger.Debug().Err(err).Str("op", op).Msg("session error")
	s.Disconnect(reason)
}

// SealAndSend frames payload for protocolID and queues it. It fails with
// ErrSessionClosed once the session has left Active.
func (s *Session) SealAndSend(protocolID uint16, payload []byte) error {
	if protocolID == wire.ProtocolSession {
		return ErrReservedProtocol
	}
	return s.seal(protocolID, payload)
}

// Send encodes a packet of type t with body and queues it on protocolID.
func (s *Session) Send(protocolID uint16, t wire.PacketType, body any) error {
	if protocolID == wire.ProtocolSession {
		return ErrReservedProtocol
	}
	if !s.IsActive() {
		return ErrSessionClosed
	}
	data, err := wire.EncodePacket(t, body)
	if err != nil {
		return err
	}
	return s.seal(protocolID, data)
}

// Ping queues a Ping and records when it was sent.
func (s *Session) Ping() error {
	if !s.IsActive() {
		return ErrSessionClosed
	}
	nonce := s.nonce.Add(1)

	s.infoMu.Lock()
	s.info.lastPingSent = time.Now()
	s.info.pingNonce = nonce
	s.info.pingPending = true
	s.infoMu.Unlock()

	if err := s.sendControl(wire.PacketPing, &wire.Ping{Nonce: nonce}); err != nil {
		return err
	}
	s.logControl(log.ControlMsgPing, log.DirectionOut, nil, &nonce, nil)
	return nil
}

func (s *Session) sendControl(t wire.PacketType, body any) error {
	data, err := wire.EncodePacket(t, body)
	if err != nil {
		return err
	}
	return s.seal(wire.ProtocolSession, data)
}

func (s *Session) seal(protocolID uint16, payload []byte) error {
	if !s.IsActive() {
		return ErrSessionClosed
	}
	frame, err := transport.EncodeChecked(payload, protocolID, s.cfg.MaxPacketSize)
	if err != nil {
		return err
	}
	if err := s.queue.Push(protocolID, frame); err != nil {
		return ErrSessionClosed
	}
	return nil
}

// readLoop reassembles frames and dispatches them in arrival order until
// the session is dropped or the socket fails.
func (s *Session) readLoop() {
	defer s.loops.Done()

	fr := transport.NewFrameReaderWithMaxSize(s.sock, s.cfg.MaxPacketSize)
	if s.plog != nil {
		fr.SetLogger(s.plog, s.connID)
	}

	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrFraming) {
				s.fail(wire.DisconnectProtocolViolation, err, "read")
			} else {
				s.fail(wire.DisconnectNetworkError, err, "read")
			}
			return
		}
		if s.dropped.Load() {
			return
		}

		now := time.Now()
		s.lastReceived.Store(int64(now.Sub(s.epoch)))
		s.peer.Touch(now)
		s.framesIn.Add(1)
		s.bytesIn.Add(uint64(frame.Size()))

		if s.limiter != nil && !s.limiter.AllowN(now, frame.Size()) {
			s.fail(wire.DisconnectRateExceeded, fmt.Errorf("inbound rate %.0f B/s exceeded", s.cfg.InboundRate), "read")
			return
		}

		if !s.dispatch(frame) {
			return
		}
	}
}

// writeLoop is the only writer of the socket. It drains the queue one frame
// at a time and tears the connection down once the session is dropped.
func (s *Session) writeLoop() {
	defer s.loops.Done()
	defer s.teardown()

	for {
		select {
		case <-s.closing:
			return
		default:
		}

		msg := s.queue.Pop()
		if msg == nil {
			select {
			case <-s.queue.Wait():
				continue
			case <-s.closing:
				return
			}
		}

		if err := s.write(msg); err != nil {
			s.fail(wire.DisconnectNetworkError, err, "write")
			return
		}
	}
}

func (s *Session) write(msg *OutboundMessage) error {
	n, err := s.sock.Write(msg.Data)
	s.bytesOut.Add(uint64(n))
	if err != nil {
		return err
	}
	s.framesOut.Add(1)

	if s.plog != nil {
		frame := &transport.Frame{ProtocolID: msg.ProtocolID, Payload: msg.Data[transport.HeaderSize:]}
		s.plog.Log(transport.MakeFrameEvent(s.connID, frame, log.DirectionOut))
		if msg.ProtocolID != wire.ProtocolSession {
			if pkt, err := wire.DecodePacket(frame.Payload); err == nil {
				queued := time.Since(msg.EnqueuedAt)
				var name string
				if c, ok := s.caps.Lookup(msg.ProtocolID); ok {
					name = c.Name
				}
				s.logPacket(log.DirectionOut, msg.ProtocolID, uint8(pkt.Type), len(frame.Payload), name, msg.Urgent, &queued, false)
			}
		}
	}
	if e := s.logger.Trace(); e.Enabled() {
		e.Uint16("protocol", msg.ProtocolID).
			Int("size", len(msg.Data)).
			Bool("urgent", msg.Urgent).
			Dur("queued", time.Since(msg.EnqueuedAt)).
			Msg("frame written")
	}
	return nil
}

// teardown runs once after the writer stops: best-effort Disconnect
// notification, drop the queue, close the socket.
func (s *Session) teardown() {
	reason, _ := s.Reason()
	if reason.Notifiable() && !s.remoteInitiated.Load() && s.sock.IsConnected() {
		if data, err := wire.EncodeDisconnect(reason); err == nil {
			frame := transport.Encode(data, wire.ProtocolSession)
			if n, err := s.sock.Write(frame); err == nil {
				s.framesOut.Add(1)
				s.bytesOut.Add(uint64(n))
				r := uint8(reason)
				s.logControl(log.ControlMsgDisconnect, log.DirectionOut, &r, nil, nil)
			}
		}
	}

	if dropped := s.queue.Close(); dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Msg("discarded queued frames")
	}
	_ = s.sock.Close()
}

// finish marks the session closed once no I/O references it.
func (s *Session) finish() {
	s.state.Store(int32(StateClosed))

	s.stopMu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	if s.stopCtx != nil {
		s.stopCtx()
	}
	s.stopMu.Unlock()

	reason, _ := s.Reason()
	for _, h := range s.caps.handlers() {
		if eh, ok := h.(EndHandler); ok {
			eh.OnSessionEnd(s, reason)
		}
	}

	s.logState(StateDisconnecting, StateClosed, reason.String())
	s.logger.Debug().Str("reason", reason.String()).Msg("session closed")
	close(s.done)
}
