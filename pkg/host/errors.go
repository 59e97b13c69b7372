package host

import (
	"errors"
	"fmt"

	"github.com/capmux/capmux-go/pkg/wire"
)

// Host errors.
var (
	ErrAlreadyStarted = errors.New("host already started")
	ErrNotStarted     = errors.New("host not started")
	ErrClosed         = errors.New("host closed")
	ErrRejected       = errors.New("peer rejected")
	ErrUnknownPeer    = errors.New("unknown peer")
)

// AdmissionError reports why a handshaken peer was turned away.
type AdmissionError struct {
	Reason wire.DisconnectReason
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("peer rejected: %s", e.Reason)
}

// Unwrap lets errors.Is match ErrRejected.
func (e *AdmissionError) Unwrap() error {
	return ErrRejected
}
