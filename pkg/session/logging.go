package session

import (
	"time"

	"github.com/capmux/capmux-go/pkg/log"
)

func (s *Session) event(dir log.Direction, cat log.Category) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerSession,
		Category:     cat,
		LocalRole:    s.role,
		RemoteAddr:   s.remoteAddr,
		NodeID:       s.peer.ID().String(),
	}
}

func (s *Session) logPacket(dir log.Direction, protocolID uint16, typ uint8, size int, capName string, urgent bool, queued *time.Duration, dropped bool) {
	if s.plog == nil {
		return
	}
	ev := s.event(dir, log.CategoryMessage)
	ev.Packet = &log.PacketEvent{
		ProtocolID: protocolID,
		Type:       typ,
		Capability: capName,
		Size:       size,
		Urgent:     urgent,
		QueueTime:  queued,
		Dropped:    dropped,
	}
	s.plog.Log(ev)
}

func (s *Session) logControl(t log.ControlMsgType, dir log.Direction, reason *uint8, nonce *uint64, rtt *time.Duration) {
	if s.plog == nil {
		return
	}
	ev := s.event(dir, log.CategoryControl)
	ev.ControlMsg = &log.ControlMsgEvent{
		Type:   t,
		Reason: reason,
		Nonce:  nonce,
		RTT:    rtt,
	}
	s.plog.Log(ev)
}

func (s *Session) logState(from, to State, reason string) {
	if s.plog == nil {
		return
	}
	ev := s.event(log.DirectionIn, log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: from.String(),
		NewState: to.String(),
		Reason:   reason,
	}
	s.plog.Log(ev)
}

func (s *Session) logError(err error, op string) {
	if s.plog == nil {
		return
	}
	ev := s.event(log.DirectionIn, log.CategoryError)
	ev.Error = &log.ErrorEventData{
		Layer:   log.LayerSession,
		Message: err.Error(),
		Context: op,
	}
	s.plog.Log(ev)
}
