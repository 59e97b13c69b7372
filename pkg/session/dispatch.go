package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/capmux/capmux-go/pkg/log"
	"github.com/capmux/capmux-go/pkg/transport"
	"github.com/capmux/capmux-go/pkg/wire"
)

// dispatch handles one inbound frame. It returns false when the reader
// should stop.
func (s *Session) dispatch(frame *transport.Frame) bool {
	pkt, err := wire.DecodePacket(frame.Payload)
	if err != nil {
		s.fail(wire.DisconnectProtocolViolation, err, "decode")
		return false
	}
	if frame.ProtocolID == wire.ProtocolSession {
		return s.interpret(pkt)
	}
	return s.readPacket(frame.ProtocolID, pkt, len(frame.Payload))
}

// interpret handles session control packets.
func (s *Session) interpret(pkt *wire.Packet) bool {
	switch pkt.Type {
	case wire.PacketPing:
		var ping wire.Ping
		if err := pkt.DecodeBody(&ping); err != nil {
			s.fail(wire.DisconnectProtocolViolation, err, "ping")
			return false
		}
		s.logControl(log.ControlMsgPing, log.DirectionIn, nil, &ping.Nonce, nil)
		if err := s.sendControl(wire.PacketPong, &wire.Pong{Nonce: ping.Nonce}); err != nil {
			return !s.dropped.Load()
		}
		s.logControl(log.ControlMsgPong, log.DirectionOut, nil, &ping.Nonce, nil)
		return true

	case wire.PacketPong:
		var pong wire.Pong
		if err := pkt.DecodeBody(&pong); err != nil {
			s.fail(wire.DisconnectProtocolViolation, err, "pong")
			return false
		}
		var rtt *time.Duration
		s.infoMu.Lock()
		if s.info.pingPending && pong.Nonce == s.info.pingNonce {
			d := time.Since(s.info.lastPingSent)
			s.info.latency = d
			s.info.pingPending = false
			rtt = &d
		}
		s.infoMu.Unlock()
		s.logControl(log.ControlMsgPong, log.DirectionIn, nil, &pong.Nonce, rtt)
		return true

	case wire.PacketDisconnect:
		var d wire.Disconnect
		if err := pkt.DecodeBody(&d); err != nil {
			d.Reason = wire.DisconnectRequested
		}
		s.infoMu.Lock()
		r := d.Reason
		s.info.remoteReason = &r
		s.infoMu.Unlock()

		code := uint8(d.Reason)
		s.logControl(log.ControlMsgDisconnect, log.DirectionIn, &code, nil, nil)
		s.disconnect(d.Reason, true)
		return false

	default:
		// Hello and AuthConfirm are only valid during the handshake.
		s.fail(wire.DisconnectProtocolViolation, fmt.Errorf("unexpected session packet %s", pkt.Type), "interpret")
		return false
	}
}

// readPacket routes a capability packet to its handler.
func (s *Session) readPacket(protocolID uint16, pkt *wire.Packet, size int) bool {
	c, ok := s.caps.Lookup(protocolID)
	if !ok {
		n := int(s.anomalies.Add(1))
		s.logPacket(log.DirectionIn, protocolID, uint8(pkt.Type), size, "", false, nil, true)
		s.logger.Debug().
			Uint16("protocol", protocolID).
			Uint8("type", uint8(pkt.Type)).
			Int("anomalies", n).
			Msg("dropped packet for unregistered capability")
		if s.cfg.AnomalyThreshold >= 0 && n > s.cfg.AnomalyThreshold {
			s.Disconnect(wire.DisconnectCapabilityMismatch)
			return false
		}
		return true
	}

	s.logPacket(log.DirectionIn, protocolID, uint8(pkt.Type), size, c.Name, false, nil, false)

	if err := c.Handler.OnPacket(s, pkt); err != nil {
		if errors.Is(err, ErrSessionClosed) && s.dropped.Load() {
			return false
		}
		s.fail(wire.DisconnectProtocolViolation, fmt.Errorf("capability %s: %w", c.Name, err), "dispatch")
		return false
	}
	return !s.dropped.Load()
}
