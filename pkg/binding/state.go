package binding

// State is the externally visible state of a Binding.
type State uint8

const (
	// StateIdle means no I/O is in flight.
	StateIdle State = iota

	// StateRead means a ReadValue call is in flight.
	StateRead

	// StateWrite means a WriteValue call is in flight.
	StateWrite

	// StateDelayedRead means a read is in flight and another is queued.
	StateDelayedRead

	// StateDelayedWrite means a read or write is in flight and a write is queued.
	StateDelayedWrite

	// StateError means a critical error halts new I/O until it is cleared.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRead:
		return "READ"
	case StateWrite:
		return "WRITE"
	case StateDelayedRead:
		return "DELAYED_READ"
	case StateDelayedWrite:
		return "DELAYED_WRITE"
	case StateError:
		return "ERROR_STATE"
	default:
		return "UNKNOWN"
	}
}

// Quiescent reports whether no transition is pending without outside input.
func (s State) Quiescent() bool {
	return s == StateIdle || s == StateError
}

type opKind uint8

const (
	opNone opKind = iota
	opRead
	opWrite
)
