package log

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the .plog layout version recorded in file headers.
const FormatVersion = 1

// headerTag marks the header record that opens a .plog file ("plog").
const headerTag = 0x706c6f67

// FileHeader describes the node that produced a .plog file. It is written
// once, as the first record of a new file.
type FileHeader struct {
	Version    uint8     `cbor:"1,keyasint"`
	NodeID     string    `cbor:"2,keyasint,omitempty"`
	ListenAddr string    `cbor:"3,keyasint,omitempty"`
	Caps       []string  `cbor:"4,keyasint,omitempty"`
	Created    time.Time `cbor:"5,keyasint"`
}

// Timestamps keep nanosecond precision so RTT and queue times line up with
// the frames around them.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("plog: encoder mode: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		IndefLength:     cbor.IndefLengthAllowed,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("plog: decoder mode: %v", err))
	}
	return dm
}

// EncodeEvent encodes a single event record.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes a single event record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func encodeHeader(w io.Writer, h FileHeader) error {
	return encMode.NewEncoder(w).Encode(cbor.Tag{Number: headerTag, Content: h})
}

// record is one decoded item of a .plog stream: either a header or an event.
type record struct {
	header *FileHeader
	event  Event
}

var errUnknownTag = errors.New("plog: unknown record tag")

// readRecord decodes the next record from dec.
func readRecord(dec *cbor.Decoder) (record, error) {
	var raw cbor.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return record{}, err
	}

	// Major type 6 is a tagged item; events are plain maps.
	if len(raw) > 0 && raw[0]>>5 == 6 {
		var tag cbor.RawTag
		if err := decMode.Unmarshal(raw, &tag); err != nil {
			return record{}, err
		}
		if tag.Number != headerTag {
			return record{}, fmt.Errorf("%w %d", errUnknownTag, tag.Number)
		}
		var h FileHeader
		if err := decMode.Unmarshal(tag.Content, &h); err != nil {
			return record{}, fmt.Errorf("plog: header: %w", err)
		}
		return record{header: &h}, nil
	}

	event, err := DecodeEvent(raw)
	if err != nil {
		return record{}, err
	}
	return record{event: event}, nil
}
