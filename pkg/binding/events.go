package binding

import "sync"

// EventType identifies a binding notification.
type EventType uint8

const (
	// ValueChanged fires when the cached value changes.
	ValueChanged EventType = iota + 1

	// StreamingData fires for every value pushed through UpdateValue.
	StreamingData

	// StaleChanged fires when the stale flag flips.
	StaleChanged

	// StatusChanged fires when the status error changes.
	StatusChanged
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case ValueChanged:
		return "valueChanged"
	case StreamingData:
		return "streamingData"
	case StaleChanged:
		return "staleChanged"
	case StatusChanged:
		return "statusChanged"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners.
type Event struct {
	Type      EventType
	BindingID string
	Name      string

	// OldValue and NewValue are set for ValueChanged; NewValue for StreamingData.
	OldValue Value
	NewValue Value

	// Stale is the new stale flag for StaleChanged.
	Stale bool

	// Status is the new status for StatusChanged; nil means healthy.
	Status error

	// SuppressSideEffects is true when the change came from the target
	// (a read, a streamed sample or a reverted write) rather than from a
	// local edit. Undo recorders and write-back propagators skip such events.
	SuppressSideEffects bool
}

// Listener receives events.
type Listener func(Event)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// notifier is a small pub-sub registry held by value inside a Binding.
type notifier struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[EventType][]listenerEntry
}

func (n *notifier) add(t EventType, fn Listener) ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[EventType][]listenerEntry)
	}
	n.nextID++
	n.listeners[t] = append(n.listeners[t], listenerEntry{id: n.nextID, fn: fn})
	return n.nextID
}

func (n *notifier) remove(id ListenerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for t, entries := range n.listeners {
		for i, e := range entries {
			if e.id != id {
				continue
			}
			kept := make([]listenerEntry, 0, len(entries)-1)
			kept = append(kept, entries[:i]...)
			kept = append(kept, entries[i+1:]...)
			n.listeners[t] = kept
			return true
		}
	}
	return false
}

func (n *notifier) count(t EventType) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners[t])
}

// emit calls the listeners registered at the moment of the call, in
// registration order.
func (n *notifier) emit(ev Event) {
	n.mu.RLock()
	entries := n.listeners[ev.Type]
	n.mu.RUnlock()

	for _, e := range entries {
		e.fn(ev)
	}
}
