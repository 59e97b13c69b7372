package session_test

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/session"
	"github.com/capmux/capmux-go/pkg/session/mocks"
	"github.com/capmux/capmux-go/pkg/transport"
	"github.com/capmux/capmux-go/pkg/wire"
)

const (
	testProtocol = uint16(0x20)
	waitTimeout  = 5 * time.Second
)

// remoteEnd is the far side of a piped session.
type remoteEnd struct {
	conn   net.Conn
	frames chan *transport.Frame
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.PingInterval = time.Hour
	cfg.LivenessWindow = 2 * time.Hour
	cfg.DisconnectGrace = 200 * time.Millisecond
	return cfg
}

func testPeer() *peer.Peer {
	return peer.New(peer.NodeID{0x01, 0x02, 0x03}, peer.Endpoint{Host: "127.0.0.1", Port: 30300})
}

func newTestSession(t *testing.T, cfg session.Config, caps *session.CapabilityTable) (*session.Session, *mocks.MockRegistry, *remoteEnd) {
	t.Helper()

	local, remote := net.Pipe()
	reg := mocks.NewMockRegistry(t)

	s, err := session.New(transport.NewNetSocket(local), testPeer(), reg, caps, cfg, session.WithConnID("test-conn"))
	require.NoError(t, err)

	r := &remoteEnd{conn: remote, frames: make(chan *transport.Frame, 1024)}
	go func() {
		defer close(r.frames)
		fr := transport.NewFrameReader(remote)
		for {
			f, err := fr.ReadFrame()
			if err != nil {
				return
			}
			r.frames <- f
		}
	}()

	t.Cleanup(func() {
		_ = remote.Close()
		_ = local.Close()
	})
	return s, reg, r
}

func expectDisconnect(reg *mocks.MockRegistry, reason any) <-chan wire.DisconnectReason {
	ch := make(chan wire.DisconnectReason, 1)
	reg.EXPECT().OnDisconnect(mock.Anything, reason).
		Run(func(_ *session.Session, r wire.DisconnectReason) { ch <- r }).
		Once()
	return ch
}

func waitReason(t *testing.T, ch <-chan wire.DisconnectReason) wire.DisconnectReason {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for disconnect")
		return 0
	}
}

func waitClosed(t *testing.T, s *session.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Wait(ctx), "session did not close")
	assert.Equal(t, session.StateClosed, s.State())
}

func stop(t *testing.T, s *session.Session, reg *mocks.MockRegistry) {
	t.Helper()
	expectDisconnect(reg, wire.DisconnectRequested)
	s.Disconnect(wire.DisconnectRequested)
	waitClosed(t, s)
}

func (r *remoteEnd) send(t *testing.T, protocolID uint16, typ wire.PacketType, body any) {
	t.Helper()
	data, err := wire.EncodePacket(typ, body)
	require.NoError(t, err)
	_, err = r.conn.Write(transport.Encode(data, protocolID))
	require.NoError(t, err)
}

// next returns the next frame for protocolID, skipping others.
func (r *remoteEnd) next(t *testing.T, protocolID uint16) (*transport.Frame, *wire.Packet) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case f, ok := <-r.frames:
			if !ok {
				t.Fatalf("stream ended waiting for protocol 0x%04x", protocolID)
			}
			if f.ProtocolID != protocolID {
				continue
			}
			pkt, err := wire.DecodePacket(f.Payload)
			require.NoError(t, err)
			return f, pkt
		case <-deadline:
			t.Fatalf("timed out waiting for protocol 0x%04x", protocolID)
		}
	}
}

// roundTrip pings from the remote side and waits for the pong, proving every
// frame written before it has been processed.
func (r *remoteEnd) roundTrip(t *testing.T, nonce uint64) {
	t.Helper()
	r.send(t, wire.ProtocolSession, wire.PacketPing, &wire.Ping{Nonce: nonce})
	for {
		_, pkt := r.next(t, wire.ProtocolSession)
		if pkt.Type != wire.PacketPong {
			continue
		}
		var pong wire.Pong
		require.NoError(t, pkt.DecodeBody(&pong))
		if pong.Nonce == nonce {
			return
		}
	}
}

func TestNewValidation(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	sock := transport.NewNetSocket(local)
	reg := mocks.NewMockRegistry(t)

	_, err := session.New(nil, testPeer(), reg, nil, testConfig())
	assert.Error(t, err)

	_, err = session.New(sock, nil, reg, nil, testConfig())
	assert.Error(t, err)

	_, err = session.New(sock, testPeer(), nil, nil, testConfig())
	assert.Error(t, err)

	bad := testConfig()
	bad.LivenessWindow = bad.PingInterval
	_, err = session.New(sock, testPeer(), reg, nil, bad)
	assert.Error(t, err)

	s, err := session.New(sock, testPeer(), reg, nil, session.Config{})
	require.NoError(t, err)
	assert.Equal(t, session.StateConnecting, s.State())
	assert.NotEmpty(t, s.ConnID())
}

func TestSessionStartAndDisconnect(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, session.StateActive, s.State())
	assert.ErrorIs(t, s.Start(context.Background()), session.ErrAlreadyStarted)

	got := expectDisconnect(reg, wire.DisconnectUselessPeer)
	s.Disconnect(wire.DisconnectUselessPeer)
	assert.Equal(t, wire.DisconnectUselessPeer, waitReason(t, got))

	// The peer is told why.
	_, pkt := r.next(t, wire.ProtocolSession)
	require.Equal(t, wire.PacketDisconnect, pkt.Type)
	var d wire.Disconnect
	require.NoError(t, pkt.DecodeBody(&d))
	assert.Equal(t, wire.DisconnectUselessPeer, d.Reason)

	waitClosed(t, s)
	assert.ErrorIs(t, s.Start(context.Background()), session.ErrSessionClosed)

	// Later calls are no-ops; the mock fails on a second notification.
	s.Disconnect(wire.DisconnectRequested)

	info := s.Info()
	require.NotNil(t, info.Reason)
	assert.Equal(t, wire.DisconnectUselessPeer, *info.Reason)
	assert.True(t, info.Dropped)
	assert.Nil(t, info.RemoteReason)
}

func TestSessionConcurrentDisconnectNotifiesOnce(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, mock.Anything)

	reasons := []wire.DisconnectReason{
		wire.DisconnectRequested,
		wire.DisconnectTooManyPeers,
		wire.DisconnectUselessPeer,
		wire.DisconnectClientQuit,
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Disconnect(reasons[i%len(reasons)])
		}(i)
	}
	wg.Wait()

	first := waitReason(t, got)
	waitClosed(t, s)

	reason, ok := s.Reason()
	require.True(t, ok)
	assert.Equal(t, first, reason)
}

func TestSessionDisconnectBeforeStart(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)

	expectDisconnect(reg, wire.DisconnectTooManyPeers)
	s.Disconnect(wire.DisconnectTooManyPeers)

	waitClosed(t, s)
	assert.ErrorIs(t, s.Start(context.Background()), session.ErrSessionClosed)
}

func TestSessionDisconnectBeforeStartPeerNotReading(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = remote.Close()
		_ = local.Close()
	})

	reg := mocks.NewMockRegistry(t)
	cfg := testConfig()
	s, err := session.New(transport.NewNetSocket(local), testPeer(), reg, nil, cfg)
	require.NoError(t, err)

	expectDisconnect(reg, wire.DisconnectUselessPeer)

	returned := make(chan struct{})
	go func() {
		s.Disconnect(wire.DisconnectUselessPeer)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(cfg.DisconnectGrace):
		t.Fatal("Disconnect blocked on the notify write")
	}

	// Nothing reads the pipe, so the grace timer has to close the socket.
	waitClosed(t, s)
	reason, ok := s.Reason()
	assert.True(t, ok)
	assert.Equal(t, wire.DisconnectUselessPeer, reason)
}

func TestSessionSealAndSend(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	data, err := wire.EncodePacket(7, []byte("block"))
	require.NoError(t, err)
	require.NoError(t, s.SealAndSend(testProtocol, data))

	f, pkt := r.next(t, testProtocol)
	assert.Equal(t, data, f.Payload)
	assert.Equal(t, wire.PacketType(7), pkt.Type)

	require.NoError(t, s.Send(testProtocol, 8, "tx"))
	_, pkt = r.next(t, testProtocol)
	assert.Equal(t, wire.PacketType(8), pkt.Type)
	var body string
	require.NoError(t, pkt.DecodeBody(&body))
	assert.Equal(t, "tx", body)

	require.Eventually(t, func() bool { return s.Info().FramesOut >= 2 }, waitTimeout, 5*time.Millisecond)

	stop(t, s, reg)
}

func TestSessionReservedProtocol(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	assert.ErrorIs(t, s.SealAndSend(wire.ProtocolSession, []byte{0x80}), session.ErrReservedProtocol)
	assert.ErrorIs(t, s.Send(wire.ProtocolSession, wire.PacketPing, &wire.Ping{}), session.ErrReservedProtocol)

	stop(t, s, reg)
}

func TestSessionSendTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketSize = 64
	s, reg, _ := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	err := s.SealAndSend(testProtocol, make([]byte, 128))
	assert.ErrorIs(t, err, transport.ErrFraming)
	assert.Equal(t, session.StateActive, s.State())

	stop(t, s, reg)
}

func TestSessionCallsAfterClose(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))
	stop(t, s, reg)

	assert.ErrorIs(t, s.SealAndSend(testProtocol, []byte{0x80}), session.ErrSessionClosed)
	assert.ErrorIs(t, s.Send(testProtocol, 1, nil), session.ErrSessionClosed)
	assert.ErrorIs(t, s.Ping(), session.ErrSessionClosed)
}

func TestSessionConcurrentSendsProduceWholeFrames(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	type item struct {
		_      struct{} `cbor:",toarray"`
		Sender int
		Seq    int
		Pad    []byte
	}

	const senders, perSender = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for n := 0; n < perSender; n++ {
				pad := make([]byte, 100+g*37+n)
				assert.NoError(t, s.Send(testProtocol, 1, &item{Sender: g, Seq: n, Pad: pad}))
			}
		}(g)
	}

	last := make(map[int]int)
	for i := 0; i < senders*perSender; i++ {
		_, pkt := r.next(t, testProtocol)
		var it item
		require.NoError(t, pkt.DecodeBody(&it))
		require.Len(t, it.Pad, 100+it.Sender*37+it.Seq)

		prev, seen := last[it.Sender]
		if seen {
			require.Greater(t, it.Seq, prev, "sender %d out of order", it.Sender)
		}
		last[it.Sender] = it.Seq
	}
	wg.Wait()

	for g := 0; g < senders; g++ {
		assert.Equal(t, perSender-1, last[g])
	}
	stop(t, s, reg)
}

func TestSessionRepliesToPing(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	r.roundTrip(t, 42)

	stop(t, s, reg)
}

func TestSessionPingMeasuresLatency(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Ping())
	_, pkt := r.next(t, wire.ProtocolSession)
	require.Equal(t, wire.PacketPing, pkt.Type)
	var ping wire.Ping
	require.NoError(t, pkt.DecodeBody(&ping))

	// A pong with the wrong nonce is ignored.
	r.send(t, wire.ProtocolSession, wire.PacketPong, &wire.Pong{Nonce: ping.Nonce + 100})
	r.roundTrip(t, 1)
	assert.Zero(t, s.Info().Latency)
	assert.True(t, s.Info().PingPending)

	time.Sleep(10 * time.Millisecond)
	r.send(t, wire.ProtocolSession, wire.PacketPong, &wire.Pong{Nonce: ping.Nonce})

	require.Eventually(t, func() bool { return s.Info().Latency > 0 }, waitTimeout, 5*time.Millisecond)
	info := s.Info()
	assert.GreaterOrEqual(t, info.Latency, 10*time.Millisecond)
	assert.False(t, info.LastPingSent.IsZero())
	assert.False(t, info.PingPending)

	stop(t, s, reg)
}

func TestSessionRemoteDisconnect(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectTooManyPeers)
	r.send(t, wire.ProtocolSession, wire.PacketDisconnect, &wire.Disconnect{Reason: wire.DisconnectTooManyPeers})
	assert.Equal(t, wire.DisconnectTooManyPeers, waitReason(t, got))
	waitClosed(t, s)

	info := s.Info()
	require.NotNil(t, info.RemoteReason)
	assert.Equal(t, wire.DisconnectTooManyPeers, *info.RemoteReason)

	// No Disconnect is echoed back.
	for f := range r.frames {
		if f.ProtocolID != wire.ProtocolSession {
			continue
		}
		pkt, err := wire.DecodePacket(f.Payload)
		require.NoError(t, err)
		assert.NotEqual(t, wire.PacketDisconnect, pkt.Type)
	}
}

func TestSessionDispatchesToHandler(t *testing.T) {
	caps := session.NewCapabilityTable()
	got := make(chan string, 8)
	var owner *session.Session
	require.NoError(t, caps.Register(wire.Cap{ID: testProtocol, Name: "blk", Version: 1},
		session.HandlerFunc(func(s *session.Session, pkt *wire.Packet) error {
			owner = s
			var v string
			if err := pkt.DecodeBody(&v); err != nil {
				return err
			}
			got <- v
			return nil
		})))

	s, reg, r := newTestSession(t, testConfig(), caps)
	require.NoError(t, s.Start(context.Background()))

	for _, v := range []string{"a", "b", "c"} {
		r.send(t, testProtocol, 1, v)
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(waitTimeout):
			t.Fatal("handler not called")
		}
	}
	assert.Same(t, s, owner)
	assert.Zero(t, s.Info().Anomalies)

	stop(t, s, reg)
}

func TestSessionHandlerErrorIsProtocolViolation(t *testing.T) {
	caps := session.NewCapabilityTable()
	require.NoError(t, caps.Register(wire.Cap{ID: testProtocol, Name: "blk", Version: 1},
		session.HandlerFunc(func(*session.Session, *wire.Packet) error {
			return assert.AnError
		})))

	s, reg, r := newTestSession(t, testConfig(), caps)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectProtocolViolation)
	r.send(t, testProtocol, 1, "bad")
	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionAnomalyThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.AnomalyThreshold = 2
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	r.send(t, 0x40, 1, nil)
	r.send(t, 0x41, 1, nil)
	r.roundTrip(t, 7)
	assert.Equal(t, session.StateActive, s.State())
	assert.Equal(t, 2, s.Info().Anomalies)

	got := expectDisconnect(reg, wire.DisconnectCapabilityMismatch)
	r.send(t, 0x42, 1, nil)
	waitReason(t, got)
	waitClosed(t, s)
	assert.Equal(t, 3, s.Info().Anomalies)
}

func TestSessionAnomalyThresholdZero(t *testing.T) {
	cfg := testConfig()
	cfg.AnomalyThreshold = 0
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectCapabilityMismatch)
	r.send(t, 0x40, 1, nil)
	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionAnomalyCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AnomalyThreshold = -1
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	for i := 0; i < 20; i++ {
		r.send(t, 0x40, 1, nil)
	}
	r.roundTrip(t, 9)
	assert.Equal(t, session.StateActive, s.State())
	assert.Equal(t, 20, s.Info().Anomalies)

	stop(t, s, reg)
}

func TestSessionOversizedFrameIsProtocolViolation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketSize = 1024
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectProtocolViolation)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 4096)
	_, err := r.conn.Write(hdr[:])
	require.NoError(t, err)

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionBadProtocolIDIsProtocolViolation(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectProtocolViolation)
	var hdr [transport.HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], transport.ProtocolIDSize)
	binary.BigEndian.PutUint32(hdr[4:8], 0x10000)
	_, err := r.conn.Write(hdr[:])
	require.NoError(t, err)

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionUndecodablePacketIsProtocolViolation(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectProtocolViolation)
	_, err := r.conn.Write(transport.Encode([]byte{0xff, 0x00}, testProtocol))
	require.NoError(t, err)

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionHelloAfterHandshakeIsProtocolViolation(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectProtocolViolation)
	r.send(t, wire.ProtocolSession, wire.PacketHello, &wire.Hello{Version: wire.ProtocolVersion})

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionRemoteCloseIsNetworkError(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectNetworkError)
	require.NoError(t, r.conn.Close())

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionInboundRateExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPacketSize = 64
	cfg.InboundRate = 1
	cfg.AnomalyThreshold = -1
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	got := expectDisconnect(reg, wire.DisconnectRateExceeded)
	pad := make([]byte, 40)
	r.send(t, testProtocol, 1, pad)
	r.send(t, testProtocol, 1, pad)

	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionLivenessTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.LivenessWindow = 250 * time.Millisecond
	s, reg, r := newTestSession(t, cfg, nil)

	got := expectDisconnect(reg, wire.DisconnectPingTimeout)
	started := time.Now()
	require.NoError(t, s.Start(context.Background()))

	waitReason(t, got)
	assert.GreaterOrEqual(t, time.Since(started), cfg.LivenessWindow)
	waitClosed(t, s)

	// Pings went out while waiting.
	var pings int
	for f := range r.frames {
		pkt, err := wire.DecodePacket(f.Payload)
		require.NoError(t, err)
		if f.ProtocolID == wire.ProtocolSession && pkt.Type == wire.PacketPing {
			pings++
		}
	}
	assert.Greater(t, pings, 0)
}

func TestSessionTrafficKeepsSessionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 40 * time.Millisecond
	cfg.LivenessWindow = 200 * time.Millisecond
	s, reg, r := newTestSession(t, cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	deadline := time.Now().Add(3 * cfg.LivenessWindow)
	var nonce uint64
	for time.Now().Before(deadline) {
		nonce++
		r.send(t, wire.ProtocolSession, wire.PacketPong, &wire.Pong{Nonce: nonce})
		time.Sleep(cfg.PingInterval)
	}
	assert.Equal(t, session.StateActive, s.State())

	stop(t, s, reg)
}

func TestSessionContextCancelQuits(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	got := expectDisconnect(reg, wire.DisconnectClientQuit)
	cancel()
	waitReason(t, got)
	waitClosed(t, s)
}

func TestSessionStartWithCanceledContext(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := expectDisconnect(reg, wire.DisconnectClientQuit)
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, wire.DisconnectClientQuit, waitReason(t, got))
	waitClosed(t, s)
}

type hookHandler struct {
	mu      sync.Mutex
	started int
	ended   []wire.DisconnectReason
}

func (h *hookHandler) OnPacket(*session.Session, *wire.Packet) error { return nil }

func (h *hookHandler) OnSessionStart(*session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *hookHandler) OnSessionEnd(_ *session.Session, reason wire.DisconnectReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, reason)
}

func TestSessionHandlerHooks(t *testing.T) {
	h := &hookHandler{}
	caps := session.NewCapabilityTable()
	require.NoError(t, caps.Register(wire.Cap{ID: testProtocol, Name: "blk", Version: 1}, h))

	s, reg, _ := newTestSession(t, testConfig(), caps)
	require.NoError(t, s.Start(context.Background()))
	stop(t, s, reg)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.started)
	assert.Equal(t, []wire.DisconnectReason{wire.DisconnectRequested}, h.ended)
}

func TestSessionNotes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNotes = 2
	s, reg, _ := newTestSession(t, cfg, nil)

	require.NoError(t, s.SetNote("client", "geth"))
	require.NoError(t, s.SetNote("height", "10"))
	assert.ErrorIs(t, s.SetNote("extra", "x"), session.ErrNotesFull)
	require.NoError(t, s.SetNote("height", "11"))

	v, ok := s.Note("height")
	assert.True(t, ok)
	assert.Equal(t, "11", v)

	info := s.Info()
	info.Notes["client"] = "changed"
	v, _ = s.Note("client")
	assert.Equal(t, "geth", v)

	s.DeleteNote("client")
	require.NoError(t, s.SetNote("extra", "x"))

	expectDisconnect(reg, wire.DisconnectRequested)
	s.Disconnect(wire.DisconnectRequested)
}

func TestSessionInfoSnapshot(t *testing.T) {
	s, reg, r := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	r.roundTrip(t, 3)

	info := s.Info()
	assert.Equal(t, "test-conn", info.ConnID)
	assert.Equal(t, testPeer().ID(), info.NodeID)
	assert.Equal(t, session.StateActive, info.State)
	assert.False(t, info.Dropped)
	assert.False(t, info.ConnectedAt.IsZero())
	assert.False(t, info.LastReceived.Before(info.ConnectedAt))
	assert.GreaterOrEqual(t, info.FramesIn, uint64(1))
	assert.Nil(t, info.Reason)

	stop(t, s, reg)
}

func TestSessionInfoDroppedCarriesReason(t *testing.T) {
	s, reg, _ := newTestSession(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	var torn int
	go func() {
		defer close(done)
		for {
			info := s.Info()
			if info.Dropped && info.Reason == nil {
				torn++
			}
			if info.State == session.StateClosed {
				return
			}
		}
	}()

	stop(t, s, reg)
	<-done
	assert.Zero(t, torn, "snapshot reported Dropped without a reason")

	info := s.Info()
	assert.True(t, info.Dropped)
	require.NotNil(t, info.Reason)
	assert.Equal(t, wire.DisconnectRequested, *info.Reason)
}
