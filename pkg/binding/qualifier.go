package binding

import (
	"fmt"
	"strings"
)

// Qualifier selects the I/O policy of a binding.
type Qualifier uint8

const (
	// Normal reads and writes freely.
	Normal Qualifier = iota

	// ReadOnly accepts values locally but never writes them.
	ReadOnly

	// WriteOnly never reads before the binding has been written.
	WriteOnly

	// Const reads once; afterwards nothing triggers I/O.
	Const

	// NonVolatile lets no refresh or index change overtake a write cycle.
	NonVolatile

	// Interrupt drops writes and index changes that arrive while busy.
	Interrupt
)

var qualifierNames = [...]string{
	Normal:      "normal",
	ReadOnly:    "readonly",
	WriteOnly:   "writeonly",
	Const:       "const",
	NonVolatile: "nonvolatile",
	Interrupt:   "interrupt",
}

// String returns the canonical lower-case name.
func (q Qualifier) String() string {
	if int(q) < len(qualifierNames) {
		return qualifierNames[q]
	}
	return "unknown"
}

// IsValid reports whether q is a defined qualifier.
func (q Qualifier) IsValid() bool {
	return int(q) < len(qualifierNames)
}

// ParseQualifier maps a symbol-table qualifier name to a Qualifier.
// The empty string means Normal. Matching ignores case, '-' and '_'.
func ParseQualifier(s string) (Qualifier, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	if key == "" {
		return Normal, nil
	}
	for q, name := range qualifierNames {
		if name == key {
			return Qualifier(q), nil
		}
	}
	return Normal, fmt.Errorf("%w: %q", ErrInvalidQualifier, s)
}

// policy is the behaviour a qualifier layers over the base state machine.
type policy struct {
	// suppressWrites accepts values locally and never calls WriteValue.
	suppressWrites bool

	// readOnce stops all I/O after the first successful read.
	readOnce bool

	// readAfterWrite ignores read triggers until the first write.
	readAfterWrite bool

	// queueDuringWrite defers read triggers until the write and its
	// confirmation read finish.
	queueDuringWrite bool

	// dropWhenBusy discards writes and index changes while I/O is in flight.
	dropWhenBusy bool
}

func policyFor(q Qualifier) policy {
	switch q {
	case ReadOnly:
		return policy{suppressWrites: true}
	case WriteOnly:
		return policy{readAfterWrite: true}
	case Const:
		return policy{suppressWrites: true, readOnce: true}
	case NonVolatile:
		return policy{queueDuringWrite: true}
	case Interrupt:
		return policy{dropWhenBusy: true}
	default:
		return policy{}
	}
}
