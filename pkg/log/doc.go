// Package log provides structured protocol logging for capmux sessions.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, session, host).
// It is separate from operational logging (zerolog) - protocol capture
// provides a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// A host takes a Logger in its config. Combine joins several:
//
//	adapter := log.NewZerologAdapter(logs.Unit(corelog.UnitProtocol))
//	file, _ := log.NewFileLogger("/var/log/capmux/node.plog",
//		log.WithHeader(log.FileHeader{NodeID: id.String()}))
//	cfg.ProtocolLogger = log.Combine(adapter, file)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frames (FrameEvent)
//   - Session: Capability packets (PacketEvent) and control traffic (ControlMsgEvent)
//   - Host: Admission and peer table changes (StateChangeEvent)
//
// # File Format
//
// A .plog file is a stream of CBOR records: one tagged FileHeader naming the
// node that created it, then events. FileLogger buffers writes and syncs at
// session end. The capmux-log CLI reads these files.
package log
