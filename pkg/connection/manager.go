package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regbind/regbind-go/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// State represents the link state.
type State uint8

const (
	// StateDisconnected indicates no active link.
	StateDisconnected State = iota

	// StateConnecting indicates a connect attempt is in progress.
	StateConnecting

	// StateConnected indicates the probe is reachable.
	StateConnected

	// StateReconnecting indicates the background loop is retrying.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the link. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Backoff controls reconnect delays.
	Backoff BackoffConfig

	// AutoReconnect restarts the link after it is lost.
	AutoReconnect bool

	// ConnectTimeout bounds each background reconnect attempt.
	ConnectTimeout time.Duration

	Logger      *slog.Logger
	EventLogger log.Logger
}

// DefaultConfig returns auto-reconnect with the default backoff.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffConfig(),
		AutoReconnect:  true,
		ConnectTimeout: 5 * time.Second,
	}
}

// Manager manages the probe link lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	id             string
	state          State
	backoff        *Backoff
	connectFn      ConnectFunc
	autoReconnect  bool
	connectTimeout time.Duration
	logger         *slog.Logger
	events         log.Logger

	// linkUp is closed on the next transition to StateConnected.
	linkUp chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	onStateChange  []func(oldState, newState State)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewManager creates a link manager around connectFn.
func NewManager(connectFn ConnectFunc, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	m := &Manager{
		id:             uuid.NewString(),
		state:          StateDisconnected,
		backoff:        NewBackoffWithConfig(cfg.Backoff),
		connectFn:      connectFn,
		autoReconnect:  cfg.AutoReconnect,
		connectTimeout: cfg.ConnectTimeout,
		logger:         cfg.Logger,
		events:         log.OrNoop(cfg.EventLogger),
		linkUp:         make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// ID returns the connection ID used in event logs.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if the probe is reachable.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// WhenConnected blocks until the link is up, ctx is done or the manager
// is closed.
func (m *Manager) WhenConnected(ctx context.Context) error {
	m.mu.RLock()
	switch m.state {
	case StateConnected:
		m.mu.RUnlock()
		return nil
	case StateClosed:
		m.mu.RUnlock()
		return ErrConnectionClosed
	}
	ch := m.linkUp
	m.mu.RUnlock()

	select {
	case <-ch:
		if m.State() == StateClosed {
			return ErrConnectionClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAutoReconnect enables or disables automatic reconnection.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReconnect = enabled
}

// Connect runs the connect function once.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	notify := m.setStateLocked(StateConnecting, "connect")
	m.mu.Unlock()
	notify()

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if err != nil {
		notify = m.setStateLocked(StateDisconnected, err.Error())
		m.mu.Unlock()
		notify()
		return err
	}
	m.backoff.Reset()
	notify = m.setStateLocked(StateConnected, "connect")
	m.mu.Unlock()
	notify()
	return nil
}

// Disconnect drops the link on purpose. Reconnection follows when
// auto-reconnect is enabled.
func (m *Manager) Disconnect() {
	m.lost("disconnect")
}

// NotifyConnectionLost reports a link failure detected by the transport.
func (m *Manager) NotifyConnectionLost() {
	m.lost("connection lost")
}

func (m *Manager) lost(reason string) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	next := StateDisconnected
	if m.autoReconnect {
		next = StateReconnecting
	}
	notify := m.setStateLocked(next, reason)
	m.mu.Unlock()
	notify()

	if next == StateReconnecting {
		m.triggerReconnect()
	}
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts the manager down and releases WhenConnected waiters.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	notify := m.setStateLocked(StateClosed, "close")
	close(m.linkUp)
	m.mu.Unlock()
	notify()

	m.cancel()
	m.wg.Wait()
}

// setStateLocked changes the state and returns a function that runs the
// callbacks. Call it after releasing the lock.
func (m *Manager) setStateLocked(next State, reason string) func() {
	prev := m.state
	if prev == next {
		return func() {}
	}
	m.state = next
	if next == StateConnected {
		close(m.linkUp)
		m.linkUp = make(chan struct{})
	}
	callbacks := append([]func(State, State){}, m.onStateChange...)

	m.logger.Debug("link state changed", "connection", m.id, "from", prev, "to", next, "reason", reason)
	m.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.id,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})

	return func() {
		for _, fn := range callbacks {
			fn(prev, next)
		}
	}
}

func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

func (m *Manager) attemptReconnect() {
	for {
		if s := m.State(); s == StateClosed || s == StateConnected {
			return
		}

		delay := m.backoff.Next()
		attempts := m.backoff.Attempts()

		m.mu.RLock()
		callbacks := append([]func(int, time.Duration){}, m.onReconnecting...)
		m.mu.RUnlock()
		for _, fn := range callbacks {
			fn(attempts, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		if s := m.State(); s == StateClosed || s == StateConnected {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.connectTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err != nil {
			m.logger.Debug("reconnect failed", "connection", m.id, "attempt", attempts, "error", err)
			continue
		}

		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			return
		}
		m.backoff.Reset()
		notify := m.setStateLocked(StateConnected, "reconnect")
		m.mu.Unlock()
		notify()
		return
	}
}

// OnStateChange registers a callback for state changes. Callbacks run in
// registration order on the goroutine that caused the change.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = append(m.onStateChange, fn)
}

// OnConnected registers a callback for entering StateConnected.
func (m *Manager) OnConnected(fn func()) {
	m.OnStateChange(func(_, newState State) {
		if newState == StateConnected {
			fn()
		}
	})
}

// OnDisconnected registers a callback for leaving StateConnected.
func (m *Manager) OnDisconnected(fn func()) {
	m.OnStateChange(func(oldState, newState State) {
		if oldState == StateConnected && newState != StateClosed {
			fn()
		}
	})
}

// OnReconnecting registers a callback run before each reconnect attempt.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = append(m.onReconnecting, fn)
}

// BackoffAttempts returns the current number of reconnect attempts.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}
