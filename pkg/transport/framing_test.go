package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/capmux/capmux-go/pkg/log"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		protocolID uint16
		payload    []byte
	}{
		{name: "session protocol", protocolID: 0, payload: []byte{0x82, 0x02, 0xf6}},
		{name: "urgent protocol", protocolID: 0x13, payload: []byte("consensus")},
		{name: "max protocol id", protocolID: 0xFFFF, payload: []byte{0x42}},
		{name: "empty payload", protocolID: 0x20, payload: []byte{}},
		{name: "medium payload", protocolID: 0x15, payload: bytes.Repeat([]byte("x"), 100_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(tt.payload, tt.protocolID)
			if len(data) != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", len(data), FrameSize(len(tt.payload)))
			}

			frame, rest, err := Decode(data, DefaultMaxPacketSize)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if frame == nil {
				t.Fatal("expected complete frame")
			}
			if len(rest) != 0 {
				t.Errorf("rest = %d bytes, want 0", len(rest))
			}
			if frame.ProtocolID != tt.protocolID {
				t.Errorf("protocol id = %#x, want %#x", frame.ProtocolID, tt.protocolID)
			}
			if !bytes.Equal(frame.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(frame.Payload), len(tt.payload))
			}
		})
	}
}

func TestEncodeHeaderLayout(t *testing.T) {
	data := Encode([]byte{0xAA, 0xBB}, 0x0113)

	want := []byte{
		0x00, 0x00, 0x00, 0x06, // length: protocol id + payload
		0x00, 0x00, 0x01, 0x13, // protocol id
		0xAA, 0xBB,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode = %x, want %x", data, want)
	}
}

func TestDecodePartial(t *testing.T) {
	data := Encode([]byte("hello"), 7)

	for n := 0; n < len(data); n++ {
		frame, rest, err := Decode(data[:n], DefaultMaxPacketSize)
		if err != nil {
			t.Fatalf("prefix %d: unexpected error %v", n, err)
		}
		if frame != nil {
			t.Fatalf("prefix %d: unexpected frame", n)
		}
		if len(rest) != n {
			t.Fatalf("prefix %d: rest = %d bytes, buffer must be returned unchanged", n, len(rest))
		}
	}
}

func TestDecoderReassembly(t *testing.T) {
	var stream []byte
	var want []Frame
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		payload := make([]byte, rng.Intn(300))
		rng.Read(payload)
		pid := uint16(rng.Intn(0x30))
		want = append(want, Frame{ProtocolID: pid, Payload: payload})
		stream = append(stream, Encode(payload, pid)...)
	}

	splits := []int{1, 2, 3, 7, 64, 1000, len(stream)}
	for _, chunk := range splits {
		dec := NewDecoder(DefaultMaxPacketSize)
		var got []Frame
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			if err := dec.Feed(stream[off:end]); err != nil {
				t.Fatalf("chunk %d: Feed failed: %v", chunk, err)
			}
			for {
				f, err := dec.Next()
				if err != nil {
					t.Fatalf("chunk %d: Next failed: %v", chunk, err)
				}
				if f == nil {
					break
				}
				got = append(got, *f)
			}
		}

		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d frames, want %d", chunk, len(got), len(want))
		}
		for i := range want {
			if got[i].ProtocolID != want[i].ProtocolID || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Fatalf("chunk %d: frame %d differs", chunk, i)
			}
		}
		if dec.Buffered() != 0 {
			t.Errorf("chunk %d: %d bytes left buffered", chunk, dec.Buffered())
		}
	}
}

func TestDecoderRandomSplits(t *testing.T) {
	var stream []byte
	for i := 0; i < 20; i++ {
		stream = append(stream, Encode(bytes.Repeat([]byte{byte(i)}, i*17), uint16(i))...)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		dec := NewDecoder(0)
		count := 0
		for off := 0; off < len(stream); {
			end := min(off+1+rng.Intn(40), len(stream))
			if err := dec.Feed(stream[off:end]); err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			off = end
			for {
				f, err := dec.Next()
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if f == nil {
					break
				}
				if f.ProtocolID != uint16(count) || len(f.Payload) != count*17 {
					t.Fatalf("round %d: frame %d corrupted", round, count)
				}
				count++
			}
		}
		if count != 20 {
			t.Fatalf("round %d: got %d frames, want 20", round, count)
		}
	}
}

func TestDecoderConsumesWithoutShifting(t *testing.T) {
	const count = 500
	frame := Encode([]byte("tx"), 0x13)
	tail := Encode([]byte("partial"), 0x14)

	var stream []byte
	for i := 0; i < count; i++ {
		stream = append(stream, frame...)
	}
	stream = append(stream, tail[:5]...)

	dec := NewDecoder(0)
	if err := dec.Feed(stream); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	base := &dec.buf[0]

	for i := 0; i < count; i++ {
		f, err := dec.Next()
		if err != nil || f == nil {
			t.Fatalf("frame %d: got %v, %v", i, f, err)
		}
		if want := len(stream) - (i+1)*len(frame); dec.Buffered() != want {
			t.Fatalf("frame %d: buffered %d, want %d", i, dec.Buffered(), want)
		}
		if &dec.buf[0] != base || len(dec.buf) != len(stream) {
			t.Fatalf("frame %d: buffer moved while draining", i)
		}
	}

	if f, err := dec.Next(); f != nil || err != nil {
		t.Fatalf("expected no frame before the tail completes, got %v, %v", f, err)
	}

	if err := dec.Feed(tail[5:]); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if dec.off != 0 || len(dec.buf) != len(tail) {
		t.Errorf("Feed should compact to the pending frame, off=%d len=%d", dec.off, len(dec.buf))
	}
	f, err := dec.Next()
	if err != nil || f == nil {
		t.Fatalf("tail frame: got %v, %v", f, err)
	}
	if f.ProtocolID != 0x14 || string(f.Payload) != "partial" {
		t.Errorf("tail frame = %#x %q", f.ProtocolID, f.Payload)
	}
	if dec.Buffered() != 0 {
		t.Errorf("%d bytes left buffered", dec.Buffered())
	}
}

func BenchmarkDecoderSmallFrames(b *testing.B) {
	frame := Encode([]byte("inv"), 0x13)
	chunk := bytes.Repeat(frame, readChunkSize/len(frame))
	dec := NewDecoder(0)

	b.SetBytes(int64(len(chunk)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := dec.Feed(chunk); err != nil {
			b.Fatal(err)
		}
		for {
			f, err := dec.Next()
			if err != nil {
				b.Fatal(err)
			}
			if f == nil {
				break
			}
		}
	}
}

func TestDecoderRejectsOversizeOnHeader(t *testing.T) {
	dec := NewDecoder(1024)

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], 1<<30)

	err := dec.Feed(lengthBuf[:])
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FramingError, got %v", err)
	}
	if fe.Kind != FramingTooLarge {
		t.Errorf("kind = %v, want %v", fe.Kind, FramingTooLarge)
	}
	if !errors.Is(err, ErrFraming) {
		t.Error("FramingError should unwrap to ErrFraming")
	}
	if dec.Buffered() != 0 {
		t.Errorf("decoder kept %d bytes after rejecting the frame", dec.Buffered())
	}

	// Sticky: later input is refused.
	if err := dec.Feed([]byte{0x00}); !errors.Is(err, ErrFraming) {
		t.Errorf("expected sticky framing error, got %v", err)
	}
	if _, err := dec.Next(); !errors.Is(err, ErrFraming) {
		t.Errorf("expected sticky framing error from Next, got %v", err)
	}
}

func TestDecodeMalformedHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		kind   FramingKind
	}{
		{
			name:   "length shorter than protocol id",
			header: []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00},
			kind:   FramingMalformed,
		},
		{
			name:   "zero length",
			header: []byte{0x00, 0x00, 0x00, 0x00},
			kind:   FramingMalformed,
		},
		{
			name:   "protocol id out of range",
			header: []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x01, 0x00, 0x00},
			kind:   FramingBadProtocolID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.header, DefaultMaxPacketSize)
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FramingError, got %v", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", fe.Kind, tt.kind)
			}
		})
	}
}

func TestCheckPacket(t *testing.T) {
	valid := Encode([]byte("payload"), 0x15)
	if err := CheckPacket(valid, DefaultMaxPacketSize); err != nil {
		t.Errorf("valid frame rejected: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		max  uint32
	}{
		{name: "too short", data: []byte{0x00, 0x00}, max: DefaultMaxPacketSize},
		{name: "length disagrees with buffer", data: valid[:len(valid)-1], max: DefaultMaxPacketSize},
		{name: "trailing bytes", data: append(append([]byte{}, valid...), 0x00), max: DefaultMaxPacketSize},
		{name: "over maximum", data: valid, max: 4},
		{name: "header only length", data: []byte{0x00, 0x00, 0x00, 0x00}, max: DefaultMaxPacketSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckPacket(tt.data, tt.max); !errors.Is(err, ErrFraming) {
				t.Errorf("expected framing error, got %v", err)
			}
		})
	}
}

func TestEncodeChecked(t *testing.T) {
	if _, err := EncodeChecked(make([]byte, 100), 1, 104); err != nil {
		t.Errorf("payload at the limit rejected: %v", err)
	}
	_, err := EncodeChecked(make([]byte, 101), 1, 104)
	var fe *FramingError
	if !errors.As(err, &fe) || fe.Kind != FramingTooLarge {
		t.Errorf("expected FramingTooLarge, got %v", err)
	}
}

// trickleReader returns at most n bytes per Read.
type trickleReader struct {
	r io.Reader
	n int
}

func (tr *trickleReader) Read(p []byte) (int, error) {
	if len(p) > tr.n {
		p = p[:tr.n]
	}
	return tr.r.Read(p)
}

func TestFrameReader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode([]byte("one"), 1))
	buf.Write(Encode([]byte("two"), 2))

	fr := NewFrameReader(&trickleReader{r: &buf, n: 3})

	for i, want := range []string{"one", "two"} {
		f, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if string(f.Payload) != want || f.ProtocolID != uint16(i+1) {
			t.Errorf("frame %d = (%d, %q), want (%d, %q)", i, f.ProtocolID, f.Payload, i+1, want)
		}
	}

	if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at clean end of stream, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	data := Encode([]byte("truncated"), 1)
	fr := NewFrameReader(bytes.NewReader(data[:len(data)-2]))

	if _, err := fr.ReadFrame(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameReaderOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(bytes.Repeat([]byte("x"), 1000), 1))

	fr := NewFrameReaderWithMaxSize(&buf, 100)
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrFraming) {
		t.Errorf("expected framing error, got %v", err)
	}
}

// captureLogger collects events for assertions.
type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(event log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestFrameReaderLogging(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), MaxLogFrameDataSize+10)
	fr := NewFrameReader(bytes.NewReader(Encode(payload, 0x13)))
	logger := &captureLogger{}
	fr.SetLogger(logger, "conn-1")

	if _, err := fr.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if len(logger.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(logger.events))
	}
	ev := logger.events[0]
	if ev.ConnectionID != "conn-1" || ev.Direction != log.DirectionIn || ev.Layer != log.LayerTransport {
		t.Errorf("unexpected event header: %+v", ev)
	}
	if ev.Frame == nil {
		t.Fatal("expected frame payload in event")
	}
	if ev.Frame.Size != FrameSize(len(payload)) {
		t.Errorf("frame size = %d, want %d", ev.Frame.Size, FrameSize(len(payload)))
	}
	if ev.Frame.ProtocolID != 0x13 {
		t.Errorf("protocol id = %#x, want 0x13", ev.Frame.ProtocolID)
	}
	if !ev.Frame.Truncated || len(ev.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("expected data truncated to %d bytes", MaxLogFrameDataSize)
	}
}
