package session

import (
	"maps"
	"time"

	"github.com/capmux/capmux-go/pkg/peer"
	"github.com/capmux/capmux-go/pkg/wire"
)

// Info is a point-in-time copy of session state. It shares nothing with the
// live session.
type Info struct {
	ConnID     string
	NodeID     peer.NodeID
	RemoteAddr string
	State      State
	Dropped    bool

	ConnectedAt  time.Time
	LastPingSent time.Time
	LastReceived time.Time
	Latency      time.Duration
	PingPending  bool

	// Reason is the disconnect reason, set once the session is dropped.
	Reason *wire.DisconnectReason

	// RemoteReason is the reason the peer sent, if it disconnected us.
	RemoteReason *wire.DisconnectReason

	Notes map[string]string

	QueueLen  int
	Anomalies int
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
}

// info holds the session metadata guarded by Session.infoMu.
type info struct {
	connectedAt  time.Time
	lastPingSent time.Time
	pingNonce    uint64
	pingPending  bool
	latency      time.Duration
	reason       *wire.DisconnectReason
	remoteReason *wire.DisconnectReason
	notes        map[string]string
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.infoMu.RLock()
	snap := Info{
		ConnectedAt:  s.info.connectedAt,
		LastPingSent: s.info.lastPingSent,
		Latency:      s.info.latency,
		PingPending:  s.info.pingPending,
		Reason:       copyReason(s.info.reason),
		RemoteReason: copyReason(s.info.remoteReason),
		Notes:        maps.Clone(s.info.notes),
		Dropped:      s.dropped.Load(),
	}
	s.infoMu.RUnlock()

	if snap.Notes == nil {
		snap.Notes = map[string]string{}
	}
	snap.ConnID = s.connID
	snap.NodeID = s.peer.ID()
	snap.RemoteAddr = s.remoteAddr
	snap.State = s.State()
	snap.LastReceived = s.LastReceived()
	snap.QueueLen = s.queue.Len()
	snap.Anomalies = int(s.anomalies.Load())
	snap.FramesIn = s.framesIn.Load()
	snap.FramesOut = s.framesOut.Load()
	snap.BytesIn = s.bytesIn.Load()
	snap.BytesOut = s.bytesOut.Load()
	return snap
}

// SetNote stores a free-form annotation. New keys are refused once the notes
// map holds MaxNotes entries; existing keys can always be overwritten.
func (s *Session) SetNote(key, value string) error {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()

	if _, exists := s.info.notes[key]; !exists && len(s.info.notes) >= s.cfg.MaxNotes {
		return ErrNotesFull
	}
	s.info.notes[key] = value
	return nil
}

// Note returns the annotation stored under key.
func (s *Session) Note(key string) (string, bool) {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	v, ok := s.info.notes[key]
	return v, ok
}

// DeleteNote removes the annotation stored under key.
func (s *Session) DeleteNote(key string) {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	delete(s.info.notes, key)
}

func copyReason(r *wire.DisconnectReason) *wire.DisconnectReason {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}
