package handshake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/capmux/capmux-go/pkg/ecdhe"
	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/transport"
	"github.com/capmux/capmux-go/pkg/wire"
)

// DefaultTimeout bounds the whole exchange.
const DefaultTimeout = 10 * time.Second

// SessionKeySize is the size of the derived session key.
const SessionKeySize = 32

const (
	helloDomain   = "capmux hello"
	confirmDomain = "capmux confirm"
	keyInfo       = "capmux session keys v1"
)

// Config configures one handshake.
type Config struct {
	// Identity signs our ephemeral key. Required.
	Identity *peer.Identity

	// Caps are the capabilities we offer.
	Caps []wire.Cap

	// ListenPort is announced so the remote side can redial us.
	ListenPort uint16

	// ClientName is a free-form software identifier.
	ClientName string

	// Expect, when non-zero, is the identity we intend to reach.
	Expect peer.NodeID

	// Timeout bounds the exchange (default 10s).
	Timeout time.Duration

	// MaxPacketSize bounds handshake frames.
	MaxPacketSize uint32

	// Logger receives protocol events (optional).
	Logger log.Logger

	// ConnID tags protocol events.
	ConnID string

	// Role marks whether we dialed or accepted.
	Role log.Role
}

// Result is the outcome of a successful handshake.
type Result struct {
	// Remote is the authenticated remote identity.
	Remote peer.NodeID

	// Hello is what the remote side announced.
	Hello *wire.Hello

	// SharedCaps are the capabilities both sides offer.
	SharedCaps []wire.Cap

	// SessionKey is derived from the agreed secret.
	SessionKey []byte
}

// deadliner is implemented by sockets that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Run performs the handshake over sock. On failure the caller should send a
// Disconnect with ReasonFor(err) when the socket is still usable, then close it.
func Run(ctx context.Context, sock transport.Socket, cfg Config) (*Result, error) {
	if cfg.Identity == nil {
		return nil, ErrMissingIdentity
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = transport.DefaultMaxPacketSize
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if d, ok := sock.(deadliner); ok {
		deadline, _ := ctx.Deadline()
		_ = d.SetDeadline(deadline)
		defer d.SetDeadline(time.Time{})
	}
	// Unblock pending I/O if the context ends first.
	stop := context.AfterFunc(ctx, func() {
		if d, ok := sock.(deadliner); ok {
			_ = d.SetDeadline(time.Now())
		}
	})
	defer stop()

	h := &handshaker{sock: sock, cfg: cfg}
	res, err := h.run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isHandshakeError(err) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		h.logState("FAILED", err.Error())
		return nil, err
	}
	h.logState("COMPLETE", "")
	return res, nil
}

type handshaker struct {
	sock transport.Socket
	cfg  Config
}

func (h *handshaker) run() (*Result, error) {
	kp, err := ecdhe.Generate()
	if err != nil {
		return nil, err
	}

	local := &wire.Hello{
		Version:    wire.ProtocolVersion,
		NodeID:     h.cfg.Identity.ID().Bytes(),
		Ephemeral:  kp.PublicKey(),
		Caps:       h.cfg.Caps,
		ListenPort: h.cfg.ListenPort,
		ClientName: h.cfg.ClientName,
	}
	local.Signature = h.cfg.Identity.Sign(helloMessage(local.NodeID, local.Ephemeral))

	var remote wire.Hello
	if err := h.exchange(wire.PacketHello, local, &remote); err != nil {
		return nil, err
	}

	remoteID, err := h.verifyHello(&remote)
	if err != nil {
		return nil, err
	}

	secret, err := kp.Agree(remote.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEphemeral, err)
	}

	confirmKey, sessionKey, err := deriveKeys(secret, local.Ephemeral, remote.Ephemeral)
	if err != nil {
		return nil, err
	}

	ourMAC := confirmMAC(confirmKey, local.NodeID, local.Ephemeral)
	var theirs wire.AuthConfirm
	if err := h.exchange(wire.PacketAuthConfirm, &wire.AuthConfirm{MAC: ourMAC}, &theirs); err != nil {
		return nil, err
	}
	want := confirmMAC(confirmKey, remote.NodeID, remote.Ephemeral)
	if !hmac.Equal(want, theirs.MAC) {
		return nil, ErrBadConfirmation
	}

	return &Result{
		Remote:     remoteID,
		Hello:      &remote,
		SharedCaps: SharedCaps(h.cfg.Caps, remote.Caps),
		SessionKey: sessionKey,
	}, nil
}

func (h *handshaker) verifyHello(remote *wire.Hello) (peer.NodeID, error) {
	if remote.Version != wire.ProtocolVersion {
		return peer.NodeID{}, fmt.Errorf("%w: remote %d, local %d", ErrVersionMismatch, remote.Version, wire.ProtocolVersion)
	}
	id, err := peer.NodeIDFromBytes(remote.NodeID)
	if err != nil || id.IsZero() {
		return peer.NodeID{}, ErrNullIdentity
	}
	if len(remote.Ephemeral) != ecdhe.KeySize {
		return peer.NodeID{}, fmt.Errorf("%w: length %d", ErrBadEphemeral, len(remote.Ephemeral))
	}
	if !id.Verify(helloMessage(remote.NodeID, remote.Ephemeral), remote.Signature) {
		return peer.NodeID{}, ErrBadSignature
	}
	if !h.cfg.Expect.IsZero() && id != h.cfg.Expect {
		return peer.NodeID{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedIdentity, id.Short(), h.cfg.Expect.Short())
	}
	return id, nil
}

// exchange sends our packet while reading the remote one. Both sides write
// first, so the send cannot wait for the read on synchronous transports.
func (h *handshaker) exchange(t wire.PacketType, out any, in any) error {
	data, err := wire.EncodePacket(t, out)
	if err != nil {
		return err
	}

	sent := make(chan error, 1)
	go func() {
		_, err := h.sock.Write(transport.Encode(data, wire.ProtocolSession))
		sent <- err
	}()
	h.logControl(t, log.DirectionOut)

	recvErr := h.receive(t, in)
	sendErr := <-sent
	if recvErr != nil {
		return recvErr
	}
	if sendErr != nil {
		return fmt.Errorf("handshake: failed to send %s: %w", t, sendErr)
	}
	return nil
}

func (h *handshaker) receive(want wire.PacketType, v any) error {
	payload, protocolID, err := ReadFrame(h.sock, h.cfg.MaxPacketSize)
	if err != nil {
		return err
	}
	if protocolID != wire.ProtocolSession {
		return fmt.Errorf("%w: protocol 0x%04x before handshake completed", ErrUnexpectedPacket, protocolID)
	}
	pkt, err := wire.DecodePacket(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedPacket, err)
	}
	if pkt.Type == wire.PacketDisconnect {
		var d wire.Disconnect
		_ = pkt.DecodeBody(&d)
		return &RemoteDisconnectError{Reason: d.Reason}
	}
	if pkt.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPacket, pkt.Type, want)
	}
	if err := pkt.DecodeBody(v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedPacket, err)
	}
	h.logControl(want, log.DirectionIn)
	return nil
}

// ReadFrame reads exactly one frame from r without reading past it, so the
// session that takes over the socket sees every byte that follows.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, uint16, error) {
	header := make([]byte, transport.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}
	hdr, _ := transport.ParseHeader(header)
	if err := hdr.Validate(maxSize); err != nil {
		return nil, 0, err
	}

	frame := make([]byte, hdr.FrameSize())
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[transport.HeaderSize:]); err != nil {
		return nil, 0, err
	}
	if err := transport.CheckPacket(frame, maxSize); err != nil {
		return nil, 0, err
	}
	return frame[transport.HeaderSize:], uint16(hdr.ProtocolID), nil
}

// SharedCaps returns the capabilities present on both sides, matched by id
// and name, in local order.
func SharedCaps(local, remote []wire.Cap) []wire.Cap {
	var shared []wire.Cap
	for _, l := range local {
		for _, r := range remote {
			if l.ID == r.ID && l.Name == r.Name {
				shared = append(shared, l)
				break
			}
		}
	}
	return shared
}

func helloMessage(nodeID, ephemeral []byte) []byte {
	msg := make([]byte, 0, len(helloDomain)+len(nodeID)+len(ephemeral))
	msg = append(msg, helloDomain...)
	msg = append(msg, nodeID...)
	return append(msg, ephemeral...)
}

// deriveKeys expands the agreed secret into a confirmation key and a session
// key. The salt orders both ephemeral keys so each side derives the same keys.
func deriveKeys(secret, localEph, remoteEph []byte) (confirmKey, sessionKey []byte, err error) {
	first, second := localEph, remoteEph
	if string(first) > string(second) {
		first, second = second, first
	}
	salt := append(append([]byte(nil), first...), second...)

	r := hkdf.New(sha256.New, secret, salt, []byte(keyInfo))
	confirmKey = make([]byte, 32)
	sessionKey = make([]byte, SessionKeySize)
	if _, err := io.ReadFull(r, confirmKey); err != nil {
		return nil, nil, fmt.Errorf("handshake: key derivation failed: %w", err)
	}
	if _, err := io.ReadFull(r, sessionKey); err != nil {
		return nil, nil, fmt.Errorf("handshake: key derivation failed: %w", err)
	}
	return confirmKey, sessionKey, nil
}

func confirmMAC(key, nodeID, ephemeral []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(confirmDomain))
	mac.Write(nodeID)
	mac.Write(ephemeral)
	return mac.Sum(nil)
}

func isHandshakeError(err error) bool {
	for _, target := range []error{
		ErrVersionMismatch, ErrNullIdentity, ErrBadSignature, ErrBadEphemeral, ErrBadConfirmation,
		ErrUnexpectedIdentity, ErrUnexpectedPacket, ErrRemoteDisconnected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *handshaker) logControl(t wire.PacketType, dir log.Direction) {
	if h.cfg.Logger == nil {
		return
	}
	ctrl := log.ControlMsgHello
	if t == wire.PacketAuthConfirm {
		ctrl = log.ControlMsgAuthConfirm
	}
	h.cfg.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.cfg.ConnID,
		Direction:    dir,
		Layer:        log.LayerSession,
		Category:     log.CategoryControl,
		LocalRole:    h.cfg.Role,
		ControlMsg:   &log.ControlMsgEvent{Type: ctrl},
	})
}

func (h *handshaker) logState(state, reason string) {
	if h.cfg.Logger == nil {
		return
	}
	h.cfg.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.cfg.ConnID,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		LocalRole:    h.cfg.Role,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandshake,
			NewState: state,
			Reason:   reason,
		},
	})
}
