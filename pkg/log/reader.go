package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for filtering log events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	// ConnectionID filters by exact connection ID match.
	ConnectionID string

	// Direction filters by message direction.
	Direction *Direction

	// Layer filters by protocol layer.
	Layer *Layer

	// Category filters by event category.
	Category *Category

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time

	// NodeID filters by remote node ID (hex prefix match).
	NodeID string

	// ProtocolID filters frame and packet events by protocol identifier.
	ProtocolID *uint16
}

// matches returns true if the event matches all filter criteria.
func (f *Filter) matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.NodeID != "" && !strings.HasPrefix(event.NodeID, f.NodeID) {
		return false
	}
	if f.ProtocolID != nil {
		pid, ok := event.protocolID()
		if !ok || pid != *f.ProtocolID {
			return false
		}
	}
	return true
}

// Matches reports whether event satisfies every criterion of f.
func (f *Filter) Matches(event Event) bool {
	return f.matches(event)
}

// protocolID returns the protocol identifier carried by frame and packet events.
func (e Event) protocolID() (uint16, bool) {
	switch {
	case e.Frame != nil:
		return e.Frame.ProtocolID, true
	case e.Packet != nil:
		return e.Packet.ProtocolID, true
	default:
		return 0, false
	}
}

// Reader streams events from a .plog file. Header records are not returned
// as events; the first one is available from Header.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
	header  *FileHeader
	pending *Event
	started bool
}

// NewReader opens path and reads every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and reads only events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: decMode.NewDecoder(f),
		filter:  filter,
	}, nil
}

// Header returns the file header. Logs written without one, such as
// concatenated captures, report false.
func (r *Reader) Header() (FileHeader, bool) {
	if err := r.start(); err != nil || r.header == nil {
		return FileHeader{}, false
	}
	return *r.header, true
}

// start reads the leading record so the header is known before the first
// event is returned.
func (r *Reader) start() error {
	if r.started {
		return nil
	}
	r.started = true

	rec, err := readRecord(r.decoder)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if rec.header != nil {
		r.header = rec.header
	} else {
		r.pending = &rec.event
	}
	return nil
}

// Next returns the next event that matches the filter, or io.EOF.
func (r *Reader) Next() (Event, error) {
	if err := r.start(); err != nil {
		return Event{}, err
	}
	for {
		var event Event
		if r.pending != nil {
			event, r.pending = *r.pending, nil
		} else {
			rec, err := readRecord(r.decoder)
			if err != nil {
				return Event{}, err
			}
			if rec.header != nil {
				continue
			}
			event = rec.event
		}

		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
