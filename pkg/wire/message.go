package wire

import (
	"errors"
	"fmt"
)

// MaxMultiCount bounds a single multi-register read.
const MaxMultiCount = 1024

// Request validation errors.
var (
	ErrReservedMessageID = errors.New("messageId 0 is reserved")
	ErrInvalidOp         = errors.New("invalid operation")
	ErrInvalidCount      = errors.New("invalid register count")
)

// Op is a register protocol operation.
type Op uint8

const (
	// OpRead reads one register.
	OpRead Op = 1

	// OpReadMulti reads Count consecutive registers starting at Addr.
	OpReadMulti Op = 2

	// OpWrite writes Value to one register.
	OpWrite Op = 3

	// OpInfo asks the target for its identity; the response Message
	// carries the target name.
	OpInfo Op = 4
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "Read"
	case OpReadMulti:
		return "ReadMulti"
	case OpWrite:
		return "Write"
	case OpInfo:
		return "Info"
	default:
		return "Unknown"
	}
}

// IsValid reports whether o is a defined operation.
func (o Op) IsValid() bool {
	return o >= OpRead && o <= OpInfo
}

// Request is sent from client to target.
type Request struct {
	MessageID uint32 `cbor:"1,keyasint"`
	Op        Op     `cbor:"2,keyasint"`
	Group     string `cbor:"3,keyasint,omitempty"`
	Addr      int64  `cbor:"4,keyasint"`
	Count     uint16 `cbor:"5,keyasint,omitempty"`
	Core      uint8  `cbor:"6,keyasint,omitempty"`
	Value     uint64 `cbor:"7,keyasint,omitempty"`
}

// Validate checks the structural constraints of a request.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return ErrReservedMessageID
	}
	if !r.Op.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidOp, r.Op)
	}
	if r.Op == OpReadMulti && (r.Count == 0 || r.Count > MaxMultiCount) {
		return fmt.Errorf("%w: %d", ErrInvalidCount, r.Count)
	}
	return nil
}

// Response is sent from target to client.
type Response struct {
	MessageID uint32   `cbor:"1,keyasint"`
	Status    Status   `cbor:"2,keyasint"`
	Values    []uint64 `cbor:"3,keyasint,omitempty"`
	Message   string   `cbor:"4,keyasint,omitempty"`
}

// IsSuccess reports whether the response carries StatusSuccess.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// NewErrorResponse builds a failed response for msgID.
func NewErrorResponse(msgID uint32, status Status, message string) *Response {
	return &Response{MessageID: msgID, Status: status, Message: message}
}
