package log

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter writes protocol events to a zerolog.Logger.
// Useful for development when you want to see protocol events in console.
type ZerologAdapter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewZerologAdapter creates an adapter that logs events at Debug level.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger, level: zerolog.DebugLevel}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *ZerologAdapter) WithLevel(level zerolog.Level) *ZerologAdapter {
	return &ZerologAdapter{logger: a.logger, level: level}
}

// Log writes the event to the zerolog logger.
func (a *ZerologAdapter) Log(event Event) {
	e := a.logger.WithLevel(a.level)
	if !e.Enabled() {
		return
	}

	e = e.Str("conn_id", event.ConnectionID).
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())

	// Add optional identifiers
	if event.NodeID != "" {
		e = e.Str("node", event.NodeID)
	}
	if event.RemoteAddr != "" {
		e = e.Str("remote", event.RemoteAddr)
	}

	// Add type-specific fields
	switch {
	case event.Frame != nil:
		e = e.Int("frame_size", event.Frame.Size).
			Uint16("protocol", event.Frame.ProtocolID).
			Bool("truncated", event.Frame.Truncated)
	case event.Packet != nil:
		e = e.Uint16("protocol", event.Packet.ProtocolID).
			Uint8("type", event.Packet.Type).
			Int("size", event.Packet.Size)
		if event.Packet.Capability != "" {
			e = e.Str("capability", event.Packet.Capability)
		}
		if event.Packet.Urgent {
			e = e.Bool("urgent", true)
		}
		if event.Packet.Dropped {
			e = e.Bool("dropped", true)
		}
		if event.Packet.QueueTime != nil {
			e = e.Dur("queue_time", *event.Packet.QueueTime)
		}
	case event.StateChange != nil:
		e = e.Str("entity", event.StateChange.Entity.String()).
			Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState)
		if event.StateChange.Reason != "" {
			e = e.Str("reason", event.StateChange.Reason)
		}
	case event.ControlMsg != nil:
		e = e.Str("ctrl_type", event.ControlMsg.Type.String())
		if event.ControlMsg.Reason != nil {
			e = e.Uint8("reason", *event.ControlMsg.Reason)
		}
		if event.ControlMsg.Nonce != nil {
			e = e.Uint64("nonce", *event.ControlMsg.Nonce)
		}
		if event.ControlMsg.RTT != nil {
			e = e.Dur("rtt", *event.ControlMsg.RTT)
		}
	case event.Error != nil:
		e = e.Str("error_layer", event.Error.Layer.String()).
			Str("error_msg", event.Error.Message).
			Str("error_context", event.Error.Context)
		if event.Error.Code != nil {
			e = e.Int("error_code", *event.Error.Code)
		}
	}

	e.Time("at", event.Timestamp).Msg("protocol")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
