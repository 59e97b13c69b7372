package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/capmux/capmux-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// ProtocolIDSize is the on-wire width of the protocol identifier.
	ProtocolIDSize = 4

	// HeaderSize is the full header: length prefix plus protocol identifier.
	HeaderSize = LengthPrefixSize + ProtocolIDSize

	// MaxProtocolID is the largest protocol identifier a header may carry.
	MaxProtocolID = 0xFFFF

	// DefaultMaxPacketSize is the default bound on the length field (10 MiB).
	DefaultMaxPacketSize = 10 << 20

	// MaxLogFrameDataSize is the maximum frame data size to include in logs (4 KB).
	// Larger frames are truncated in log events to avoid excessive memory usage.
	MaxLogFrameDataSize = 4096

	// readChunkSize is how much FrameReader asks the socket for per read.
	readChunkSize = 32 * 1024
)

// ErrFraming is the sentinel every FramingError unwraps to.
var ErrFraming = errors.New("framing error")

// FramingKind classifies a FramingError.
type FramingKind uint8

const (
	// FramingTooLarge means the length field exceeds the configured maximum.
	FramingTooLarge FramingKind = iota + 1

	// FramingMalformed means the length field cannot describe a valid frame.
	FramingMalformed

	// FramingBadProtocolID means the protocol identifier is out of range.
	FramingBadProtocolID
)

// String returns the kind name.
func (k FramingKind) String() string {
	switch k {
	case FramingTooLarge:
		return "too large"
	case FramingMalformed:
		return "malformed"
	case FramingBadProtocolID:
		return "bad protocol id"
	default:
		return "unknown"
	}
}

// FramingError reports a frame that can never be decoded. It is always fatal
// to the connection.
type FramingError struct {
	Kind       FramingKind
	Length     uint32
	Max        uint32
	ProtocolID uint32
}

func (e *FramingError) Error() string {
	switch e.Kind {
	case FramingTooLarge:
		return fmt.Sprintf("framing error: frame length %d exceeds maximum %d", e.Length, e.Max)
	case FramingMalformed:
		return fmt.Sprintf("framing error: frame length %d shorter than protocol id field", e.Length)
	case FramingBadProtocolID:
		return fmt.Sprintf("framing error: protocol id 0x%x out of range", e.ProtocolID)
	default:
		return "framing error"
	}
}

// Unwrap lets errors.Is match ErrFraming.
func (e *FramingError) Unwrap() error {
	return ErrFraming
}

// Header describes one framed packet. Length covers the protocol identifier
// and the payload but not the length prefix itself.
type Header struct {
	Length     uint32
	ProtocolID uint32
}

// PayloadSize returns the number of payload bytes following the header.
func (h Header) PayloadSize() int {
	return int(h.Length) - ProtocolIDSize
}

// FrameSize returns the total on-wire size of the frame.
func (h Header) FrameSize() int {
	return LengthPrefixSize + int(h.Length)
}

// Validate checks the header against maxSize.
func (h Header) Validate(maxSize uint32) error {
	if h.Length < ProtocolIDSize {
		return &FramingError{Kind: FramingMalformed, Length: h.Length}
	}
	if maxSize > 0 && h.Length > maxSize {
		return &FramingError{Kind: FramingTooLarge, Length: h.Length, Max: maxSize}
	}
	if h.ProtocolID > MaxProtocolID {
		return &FramingError{Kind: FramingBadProtocolID, Length: h.Length, ProtocolID: h.ProtocolID}
	}
	return nil
}

// Frame is one decoded unit: a protocol identifier and its payload.
type Frame struct {
	ProtocolID uint16
	Payload    []byte
}

// Size returns the on-wire size of the frame.
func (f *Frame) Size() int {
	return FrameSize(len(f.Payload))
}

// FrameSize returns the total frame size for a payload of payloadSize bytes.
func FrameSize(payloadSize int) int {
	return HeaderSize + payloadSize
}

// Encode frames payload for protocolID.
func Encode(payload []byte, protocolID uint16) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ProtocolIDSize+len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(protocolID))
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeChecked frames payload after checking it fits within maxSize.
func EncodeChecked(payload []byte, protocolID uint16, maxSize uint32) ([]byte, error) {
	length := uint64(ProtocolIDSize) + uint64(len(payload))
	if maxSize > 0 && length > uint64(maxSize) {
		return nil, &FramingError{Kind: FramingTooLarge, Length: uint32(min(length, 1<<32-1)), Max: maxSize}
	}
	return Encode(payload, protocolID), nil
}

// ParseHeader reads a header from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Length:     binary.BigEndian.Uint32(b[0:4]),
		ProtocolID: binary.BigEndian.Uint32(b[4:8]),
	}, true
}

// CheckPacket validates a complete frame without interpreting its payload.
// b must hold exactly one frame.
func CheckPacket(b []byte, maxSize uint32) error {
	if len(b) < LengthPrefixSize {
		return &FramingError{Kind: FramingMalformed, Length: uint32(len(b))}
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if int64(length) != int64(len(b)-LengthPrefixSize) {
		return &FramingError{Kind: FramingMalformed, Length: length}
	}
	h, ok := ParseHeader(b)
	if !ok {
		return &FramingError{Kind: FramingMalformed, Length: length}
	}
	return h.Validate(maxSize)
}

// Decode parses one frame from the front of buf. It returns a nil frame and
// buf unchanged when buf holds only part of a frame. The returned payload
// aliases buf.
func Decode(buf []byte, maxSize uint32) (*Frame, []byte, error) {
	if len(buf) < LengthPrefixSize {
		return nil, buf, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < ProtocolIDSize {
		return nil, buf, &FramingError{Kind: FramingMalformed, Length: length}
	}
	if maxSize > 0 && length > maxSize {
		return nil, buf, &FramingError{Kind: FramingTooLarge, Length: length, Max: maxSize}
	}
	h, ok := ParseHeader(buf)
	if !ok {
		return nil, buf, nil
	}
	if err := h.Validate(maxSize); err != nil {
		return nil, buf, err
	}
	if len(buf) < h.FrameSize() {
		return nil, buf, nil
	}
	end := h.FrameSize()
	return &Frame{
		ProtocolID: uint16(h.ProtocolID),
		Payload:    buf[HeaderSize:end:end],
	}, buf[end:], nil
}

// Decoder reassembles frames from a byte stream delivered in arbitrary
// pieces. It is not safe for concurrent use. Once it reports a
// FramingError every later call returns the same error.
type Decoder struct {
	maxSize uint32
	buf     []byte
	off     int // start of the unconsumed bytes in buf
	err     error
}

// NewDecoder creates a decoder that rejects frames longer than maxSize.
// A zero maxSize selects DefaultMaxPacketSize.
func NewDecoder(maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = DefaultMaxPacketSize
	}
	return &Decoder{maxSize: maxSize}
}

// Feed appends received bytes. The header of the pending frame is checked as
// soon as its length prefix is available, so an oversized frame is rejected
// before any of its body is buffered.
func (d *Decoder) Feed(p []byte) error {
	if d.err != nil {
		return d.err
	}
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
	_, _, err := Decode(d.buf, d.maxSize)
	if err != nil {
		d.fail(err)
	}
	return d.err
}

// Next returns the next complete frame, or nil when more bytes are needed.
// The returned payload is owned by the caller.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	pending := d.buf[d.off:]
	frame, rest, err := Decode(pending, d.maxSize)
	if err != nil {
		d.fail(err)
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}
	frame.Payload = append([]byte(nil), frame.Payload...)
	d.off += len(pending) - len(rest)
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
	return frame, nil
}

// Buffered returns the number of bytes held for incomplete frames.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the sticky framing error, if any.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
	d.off = 0
}

// FrameReader reads frames from an underlying reader through a Decoder.
type FrameReader struct {
	r     io.Reader
	dec   *Decoder
	chunk []byte

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader with the default maximum size.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxPacketSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:     r,
		dec:   NewDecoder(maxSize),
		chunk: make([]byte, readChunkSize),
	}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame returns the next frame, reading from the underlying reader until
// one is complete. Frames already buffered are returned without reading.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	for {
		frame, err := fr.dec.Next()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			if fr.logger != nil {
				fr.logger.Log(MakeFrameEvent(fr.connID, frame, log.DirectionIn))
			}
			return frame, nil
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			if ferr := fr.dec.Feed(fr.chunk[:n]); ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && fr.dec.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// MakeFrameEvent builds a transport-layer log event for frame.
func MakeFrameEvent(connID string, frame *Frame, direction log.Direction) log.Event {
	data := frame.Payload
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:       frame.Size(),
			ProtocolID: frame.ProtocolID,
			Data:       data,
			Truncated:  truncated,
		},
	}
}
