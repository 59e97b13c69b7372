package log

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const fileBufferSize = 64 * 1024

// FileLogger appends events to a .plog file.
//
// Writes are buffered. The buffer is flushed and synced to disk when a
// session reaches CLOSED, when an error event is recorded, and on Flush or
// Close, so a crashed node loses at most the traffic of sessions that were
// still open.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	enc    *cbor.Encoder
	header FileHeader
	closed bool
	err    error
}

// FileOption configures a FileLogger.
type FileOption func(*FileLogger)

// WithHeader sets the header written when the logger creates a new file.
// Version and Created are filled in when left zero.
func WithHeader(h FileHeader) FileOption {
	return func(l *FileLogger) {
		l.header = h
	}
}

// NewFileLogger opens path for appending, creating it if needed. A new or
// empty file starts with a FileHeader record; an existing log keeps its
// original header.
func NewFileLogger(path string, opts ...FileOption) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	l := &FileLogger{file: f, w: bufio.NewWriterSize(f, fileBufferSize)}
	l.enc = encMode.NewEncoder(l.w)
	for _, opt := range opts {
		opt(l)
	}

	if info.Size() == 0 {
		if l.header.Version == 0 {
			l.header.Version = FormatVersion
		}
		if l.header.Created.IsZero() {
			l.header.Created = time.Now().UTC()
		}
		if err := encodeHeader(l.w, l.header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("plog: write header: %w", err)
		}
	}
	return l, nil
}

// Log records event. Write failures are kept and reported by Close; once one
// happens further events are dropped.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.err != nil {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.err = err
		return
	}
	if endsSession(event) {
		l.err = l.flushLocked()
	}
}

// Flush writes buffered events and syncs the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	if l.err == nil {
		l.err = l.flushLocked()
	}
	return l.err
}

// Close flushes and closes the file. Later calls to Log are ignored and
// later calls to Close return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	err := l.err
	if err == nil {
		err = l.flushLocked()
	}
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (l *FileLogger) flushLocked() error {
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// endsSession reports whether event closes out a session or records a
// failure, which are the points a reader most needs on disk.
func endsSession(e Event) bool {
	if e.Category == CategoryError {
		return true
	}
	sc := e.StateChange
	return sc != nil && sc.Entity == StateEntitySession && sc.NewState == "CLOSED"
}

var _ Logger = (*FileLogger)(nil)
