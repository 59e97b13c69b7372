// Package transport carries capmux frames over TCP.
//
// The transport layer handles:
//   - Frame encoding and resumable decoding
//   - The Socket abstraction a session reads and writes through
//   - Optional TLS 1.3 for accepted and dialed connections
//
// # Frame Layout
//
//	┌──────────────┬──────────────────┬─────────────────────┐
//	│ length (4B)  │ protocol id (4B) │ payload             │
//	└──────────────┴──────────────────┴─────────────────────┘
//
// Both header fields are big-endian. The length counts the protocol id field
// and the payload but not itself. Protocol ids above 0xFFFF are malformed.
// A frame whose length exceeds the configured maximum is rejected as soon as
// its length prefix arrives, before any of the claimed body is buffered.
//
// Any FramingError is fatal to the connection. A partial frame is not an
// error: the Decoder keeps the bytes and waits for more.
package transport
