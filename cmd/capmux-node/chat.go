package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/capmux/capmux-go/pkg/session"
	"github.com/capmux/capmux-go/pkg/wire"
)

// Chat is a minimal text capability that lets two nodes exercise a session
// end to end.
const (
	chatProtocol uint16          = 0x10
	chatText     wire.PacketType = 0x00
)

var chatCap = wire.Cap{ID: chatProtocol, Name: "chat", Version: 1}

// chatMessage is one received line.
type chatMessage struct {
	From string
	Text string
}

type chat struct {
	logger zerolog.Logger

	mu       sync.Mutex
	received []chatMessage
}

func newChat(logger zerolog.Logger) *chat {
	return &chat{logger: logger}
}

func (c *chat) OnPacket(s *session.Session, pkt *wire.Packet) error {
	if pkt.Type != chatText {
		return fmt.Errorf("chat: unknown packet type %d", pkt.Type)
	}
	var text string
	if err := pkt.DecodeBody(&text); err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	from := s.NodeID().Short()
	c.mu.Lock()
	c.received = append(c.received, chatMessage{From: from, Text: text})
	c.mu.Unlock()

	c.logger.Info().Str("from", from).Msg(text)
	return nil
}

func (c *chat) OnSessionStart(s *session.Session) {
	c.logger.Debug().Str("node", s.NodeID().Short()).Msg("chat available")
}

func (c *chat) OnSessionEnd(s *session.Session, reason wire.DisconnectReason) {
	c.logger.Debug().Str("node", s.NodeID().Short()).Stringer("reason", reason).Msg("chat closed")
}

// Messages returns the lines received so far.
func (c *chat) Messages() []chatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chatMessage(nil), c.received...)
}
