package session

// State is the session lifecycle state.
type State int32

const (
	// StateConnecting is the state between construction and Start.
	StateConnecting State = iota

	// StateActive accepts sends and dispatches inbound packets.
	StateActive

	// StateDisconnecting waits for in-flight I/O to drain.
	StateDisconnecting

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
