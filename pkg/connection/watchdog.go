package connection

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrLinkLost is reported to watched bindings while the probe is unreachable.
var ErrLinkLost = errors.New("probe link lost")

// CriticalReporter receives link failures. *binding.Binding implements it.
type CriticalReporter interface {
	ReportCriticalError(err error)
}

// Watchdog halts a set of bindings while the link is down.
type Watchdog struct {
	logger *slog.Logger

	mu      sync.Mutex
	targets []CriticalReporter
	cause   error
}

// NewWatchdog watches m. Targets added later inherit the current halt.
func NewWatchdog(m *Manager, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{logger: logger}
	m.OnStateChange(w.handle)
	return w
}

// Add starts watching r.
func (w *Watchdog) Add(r CriticalReporter) {
	w.mu.Lock()
	w.targets = append(w.targets, r)
	cause := w.cause
	w.mu.Unlock()
	if cause != nil {
		r.ReportCriticalError(cause)
	}
}

// Remove stops watching r. It does not clear a halt already reported.
func (w *Watchdog) Remove(r CriticalReporter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.targets {
		if t == r {
			w.targets = append(w.targets[:i], w.targets[i+1:]...)
			return
		}
	}
}

// Halted returns the error currently reported, or nil.
func (w *Watchdog) Halted() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cause
}

func (w *Watchdog) handle(oldState, newState State) {
	var cause error
	switch {
	case newState == StateConnected:
	case oldState == StateConnected && newState == StateClosed:
		cause = ErrConnectionClosed
	case oldState == StateConnected:
		cause = ErrLinkLost
	default:
		return
	}

	w.mu.Lock()
	if w.cause == nil && cause == nil {
		w.mu.Unlock()
		return
	}
	w.cause = cause
	targets := append([]CriticalReporter(nil), w.targets...)
	w.mu.Unlock()

	if cause != nil {
		w.logger.Warn("halting bindings", "count", len(targets), "reason", cause)
	} else {
		w.logger.Info("resuming bindings", "count", len(targets))
	}
	for _, t := range targets {
		t.ReportCriticalError(cause)
	}
}
