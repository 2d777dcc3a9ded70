package wire

// Status is a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed.
	StatusSuccess Status = 0

	// StatusInvalidAddress indicates no register exists at the address.
	StatusInvalidAddress Status = 1

	// StatusInvalidGroup indicates the address space is unknown.
	StatusInvalidGroup Status = 2

	// StatusReadOnly indicates a write to a read-only register.
	StatusReadOnly Status = 3

	// StatusWriteOnly indicates a read of a write-only register.
	StatusWriteOnly Status = 4

	// StatusBusy indicates the target cannot serve the request right now.
	StatusBusy Status = 5

	// StatusTargetFault indicates the target failed while accessing the register.
	StatusTargetFault Status = 6

	// StatusInvalidRequest indicates a malformed request.
	StatusInvalidRequest Status = 7

	// StatusInvalidCore indicates the core index is out of range.
	StatusInvalidCore Status = 8
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidAddress:
		return "INVALID_ADDRESS"
	case StatusInvalidGroup:
		return "INVALID_GROUP"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusWriteOnly:
		return "WRITE_ONLY"
	case StatusBusy:
		return "BUSY"
	case StatusTargetFault:
		return "TARGET_FAULT"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusInvalidCore:
		return "INVALID_CORE"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess reports whether s is StatusSuccess.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsTransient reports whether retrying the same request later may succeed.
func (s Status) IsTransient() bool {
	return s == StatusBusy || s == StatusTargetFault
}
