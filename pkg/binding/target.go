package binding

import (
	"context"
	"errors"
)

// Value is an opaque target value. Equality is deep equality.
type Value = any

// Binding errors.
var (
	// ErrInvalidQualifier rejects an unknown qualifier.
	ErrInvalidQualifier = errors.New("invalid qualifier")

	// ErrValueRejected wraps a Config.Validate failure.
	ErrValueRejected = errors.New("value rejected")

	// ErrCritical is returned to refresh callers while a critical error is
	// reported; it wraps the reported cause.
	ErrCritical = errors.New("binding halted by critical error")

	// ErrBusy rejects a request the qualifier cannot queue.
	ErrBusy = errors.New("binding busy")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("binding closed")

	// ErrNilTarget rejects a nil Target.
	ErrNilTarget = errors.New("nil target")
)

// Target is the slow remote side of a binding.
//
// ReadValue and WriteValue may block for as long as the round trip takes.
// The binding calls them from its own goroutines, never more than one at a
// time, and never cancels a call once issued.
type Target interface {
	ReadValue(ctx context.Context) (Value, error)
	WriteValue(ctx context.Context, v Value) error

	// IsConnected reports the current link state. It is called with the
	// binding's lock held and must not call back into the binding.
	IsConnected() bool

	// WhenConnected blocks until the link is up or ctx is done.
	WhenConnected(ctx context.Context) error
}

// WriteGate is implemented by targets whose writes may be held back while
// disconnected. When SuppressWritesWhileDisconnected returns true, a write
// requested while IsConnected is false is accepted locally and written
// through once WhenConnected returns.
type WriteGate interface {
	SuppressWritesWhileDisconnected() bool
}

func suppressesWhileDisconnected(t Target) bool {
	g, ok := t.(WriteGate)
	return ok && g.SuppressWritesWhileDisconnected()
}
