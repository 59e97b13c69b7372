package session

import "errors"

// Session errors.
var (
	// ErrSessionClosed is returned by caller-invoked operations once the
	// session has left Active.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrReservedProtocol is returned when a caller sends on protocol 0.
	ErrReservedProtocol = errors.New("protocol 0 is reserved for session control")

	// ErrNotesFull is returned when the notes map is at capacity.
	ErrNotesFull = errors.New("session notes full")

	// ErrQueueClosed is returned when pushing to a torn-down write queue.
	ErrQueueClosed = errors.New("write queue closed")

	// ErrUnknownCapability is returned when looking up an unregistered id.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrDuplicateCapability is returned when registering an id twice.
	ErrDuplicateCapability = errors.New("capability already registered")
)
