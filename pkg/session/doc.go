// Package session runs one authenticated peer connection.
//
// A Session owns the socket, a priority write queue and the dispatch of
// inbound packets to capability handlers. Three goroutines serve it once
// started:
//
//   - the reader, which reassembles frames in arrival order and dispatches
//     them one at a time
//   - the writer, the only goroutine that writes to the socket, which drains
//     the queue urgent-first and never has more than one frame in flight
//   - the liveness monitor, which pings periodically and disconnects when
//     nothing has been received for the liveness window
//
// # Lifecycle
//
//	Connecting ──Start──▶ Active ──Disconnect──▶ Disconnecting ──I/O drained──▶ Closed
//
// Disconnect is idempotent: the first call records the reason and notifies
// the registry, every later call is a no-op. The writer finishes the frame it
// is writing, sends a best-effort Disconnect packet, drops whatever is still
// queued and closes the socket. The session reaches Closed once both the
// reader and the writer have returned.
//
// # Control packets
//
// Protocol 0 is reserved for the session itself: Ping, Pong and Disconnect.
// Every other protocol id is routed to the handler registered for it. Packets
// for unregistered ids count as anomalies; once more than AnomalyThreshold
// have been seen the session disconnects with DisconnectCapabilityMismatch.
package session
