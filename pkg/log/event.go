package log

import (
	"time"

	"github.com/regbind/regbind-go/pkg/wire"
)

// Event is a single captured occurrence at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the link to the target (UUID), if any.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow for transport and wire events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// BindingID identifies the binding instance (UUID) for binding events.
	BindingID string `cbor:"6,keyasint,omitempty"`

	// Name is the human-readable binding or register name.
	Name string `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	IO          *IOEvent          `cbor:"13,keyasint,omitempty"`
	Batch       *BatchEvent       `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerBinding is the value binding state machine.
	LayerBinding Layer = 2
	// LayerBatch is the contiguous-address batching layer.
	LayerBatch Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerBinding:
		return "BINDING"
	case LayerBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a frame or protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryIO indicates a read or write against a target.
	CategoryIO Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryIO:
		return "IO"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded register request or response.
type MessageEvent struct {
	// Type distinguishes request/response.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs.
	MessageID uint32 `cbor:"2,keyasint"`

	// For requests: the operation being performed.
	Op *wire.Op `cbor:"3,keyasint,omitempty"`

	// For requests: address space and start address.
	Group string `cbor:"4,keyasint,omitempty"`
	Addr  *int64 `cbor:"5,keyasint,omitempty"`

	// For multi reads: number of consecutive registers.
	Count uint16 `cbor:"6,keyasint,omitempty"`

	// For responses: the status code.
	Status *wire.Status `cbor:"7,keyasint,omitempty"`

	// Register values carried by the message.
	Values []uint64 `cbor:"8,keyasint,omitempty"`

	// ProcessingTime is the time from request receipt to response send (response only).
	ProcessingTime *time.Duration `cbor:"9,keyasint,omitempty"`
}

// MessageType distinguishes requests from responses.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures link and binding state transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a link state change.
	StateEntityConnection StateEntity = 0
	// StateEntityBinding indicates a binding state change.
	StateEntityBinding StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityBinding:
		return "BINDING"
	default:
		return "UNKNOWN"
	}
}

// IOKind is the kind of target operation.
type IOKind uint8

const (
	// IORead is a ReadValue call.
	IORead IOKind = 0
	// IOWrite is a WriteValue call.
	IOWrite IOKind = 1
)

// String returns the I/O kind name.
func (k IOKind) String() string {
	switch k {
	case IORead:
		return "READ"
	case IOWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// IOEvent captures one completed read or write against a target.
type IOEvent struct {
	Kind IOKind `cbor:"1,keyasint"`

	// Value read or written. Omitted on failure.
	Value any `cbor:"2,keyasint,omitempty"`

	// Duration of the call, stored as nanoseconds.
	Duration time.Duration `cbor:"3,keyasint"`

	// Err is the failure message, empty on success.
	Err string `cbor:"4,keyasint,omitempty"`
}

// BatchEvent captures one read issued by the batcher for a run of slots.
type BatchEvent struct {
	Group string `cbor:"1,keyasint,omitempty"`
	Core  int    `cbor:"2,keyasint"`
	Addr  int64  `cbor:"3,keyasint"`
	Count int    `cbor:"4,keyasint"`

	// Multi is true when the run was served by one multi-register read.
	Multi bool `cbor:"5,keyasint,omitempty"`

	Err string `cbor:"6,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
