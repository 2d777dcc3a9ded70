// Package binding keeps a locally cached value synchronized with a slow,
// fallible remote target such as a debugger register or target variable.
//
// A Binding owns two copies of the value: the cached value that readers see
// and the committed value last confirmed by the target. Reads and writes are
// issued through a Target and coalesced so that a burst of requests costs as
// few round trips as possible:
//
//   - Any number of Refresh calls that arrive before a read completes share
//     that single read.
//   - SetValue while a read or write is in flight queues exactly one
//     follow-up write carrying the latest value.
//   - Every completed write is followed by a confirmation read.
//
// # States
//
//	IDLE          nothing in flight
//	READ          ReadValue in flight
//	WRITE         WriteValue in flight
//	DELAYED_READ  read in flight, one more read queued behind it
//	DELAYED_WRITE read or write in flight, one write queued behind it
//	ERROR_STATE   a critical error was reported; no new I/O starts
//
// At most one ReadValue or WriteValue call is outstanding per binding.
// In-flight calls are never cancelled; dropping a request means it is never
// issued.
//
// # Qualifiers
//
// A Qualifier layers a policy over the state machine: ReadOnly never writes,
// WriteOnly never reads before its first write, Const reads exactly once,
// NonVolatile never lets refreshes overtake a write cycle, and Interrupt
// drops writes and index changes that arrive while anything is in flight.
//
// # Deferred writes
//
// In deferred mode SetValue only updates the cached value. Turning deferred
// mode off, or passing forceWrite, writes the pending delta through;
// ClearDeferredWrite discards it without touching the target.
//
// # Notifications
//
// Listeners registered with AddEventListener receive ValueChanged,
// StreamingData, StaleChanged and StatusChanged events in the order the
// transitions happened. Delivery runs after the binding's lock is released,
// on one goroutine at a time, so listeners may call back into the binding.
// Events caused by such a call are delivered after the current listener
// returns. Listeners must not block waiting for the binding's own I/O.
package binding
