package interactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/regbind/regbind-go/pkg/binding"
	"github.com/regbind/regbind-go/pkg/connection"
	"github.com/regbind/regbind-go/pkg/interaction"
	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/metrics"
	"github.com/regbind/regbind-go/pkg/refresh"
	"github.com/regbind/regbind-go/pkg/register"
)

// Session errors.
var (
	ErrUnknownRegister = errors.New("unknown register")
	ErrUnknownField    = errors.New("unknown field")
	ErrCoreOutOfRange  = errors.New("core out of range")
	ErrSessionStarted  = errors.New("session already started")
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Address of the probe server.
	Address string

	Symbols *register.SymbolTable

	// Client configures every dial, including reconnects. OnLost is
	// overwritten.
	Client interaction.Config

	// Connection configures reconnection.
	Connection connection.Config

	// HoldWrites keeps writes local while the probe is unreachable.
	HoldWrites bool

	// Poll configures background polling. A zero Interval disables it.
	Poll refresh.Config

	Logger      *slog.Logger
	EventLogger log.Logger
	Metrics     *metrics.Collector
}

// Session binds every register of a symbol table to a remote probe.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	manager *connection.Manager
	guard   *connection.Watchdog
	link    *remote
	batcher *register.Batcher
	poller  *refresh.Provider

	core    atomic.Int64
	started atomic.Bool

	mu       sync.RWMutex
	info     interaction.Info
	bindings []*binding.Binding
	byName   map[string]*binding.Binding
	regs     map[*binding.Binding]*register.Register
	fields   map[*binding.Binding][]*register.FieldBinding
}

// NewSession prepares a session. Nothing is dialed until Start.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.EventLogger = log.OrNoop(cfg.EventLogger)

	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		byName: make(map[string]*binding.Binding),
		regs:   make(map[*binding.Binding]*register.Register),
		fields: make(map[*binding.Binding][]*register.FieldBinding),
	}

	ccfg := cfg.Connection
	if ccfg.Logger == nil {
		ccfg.Logger = cfg.Logger
	}
	if ccfg.EventLogger == nil {
		ccfg.EventLogger = cfg.EventLogger
	}
	s.manager = connection.NewManager(s.connect, ccfg)
	s.guard = connection.NewWatchdog(s.manager, cfg.Logger)
	s.link = &remote{manager: s.manager}
	s.batcher = register.NewBatcher(s.link, register.BatcherConfig{
		Logger:      cfg.Logger,
		EventLogger: cfg.EventLogger,
		Metrics:     cfg.Metrics,
	})

	pcfg := cfg.Poll
	if pcfg.Logger == nil {
		pcfg.Logger = cfg.Logger
	}
	if pcfg.Metrics == nil {
		pcfg.Metrics = cfg.Metrics
	}
	s.poller = refresh.New(pcfg)

	s.manager.OnReconnecting(func(attempt int, delay time.Duration) {
		s.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})
	s.manager.OnConnected(s.resync)
	return s
}

func (s *Session) connect(ctx context.Context) error {
	ccfg := s.cfg.Client
	if ccfg.Logger == nil {
		ccfg.Logger = s.logger
	}
	if ccfg.EventLogger == nil {
		ccfg.EventLogger = s.cfg.EventLogger
	}
	ccfg.OnLost = func(err error) {
		s.logger.Warn("probe link lost", "address", s.cfg.Address, "error", err)
		s.manager.NotifyConnectionLost()
	}

	c, err := interaction.Dial(ctx, s.cfg.Address, ccfg)
	if err != nil {
		return err
	}
	info, err := c.Info(ctx)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("probe info: %w", err)
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	s.link.set(c)

	s.logger.Info("connected", "address", s.cfg.Address, "probe", info.Name, "cores", info.Cores, "max_multi", info.MaxMultiCount)
	return nil
}

// resync re-reads every binding after the link comes back.
func (s *Session) resync() {
	for _, b := range s.Bindings() {
		b.RefreshAsync(nil)
	}
}

// Start connects, binds every register and starts polling.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}
	s.manager.StartReconnectLoop()
	if err := s.manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Address, err)
	}

	for _, reg := range s.cfg.Symbols.Registers() {
		if err := s.bind(reg); err != nil {
			return err
		}
	}

	if s.cfg.Poll.Interval > 0 {
		if err := s.poller.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) bind(reg *register.Register) error {
	target := register.NewRegisterTarget(reg, s.batcher, s.link, register.TargetConfig{
		Core:                        s.Core,
		Link:                        s.link,
		HoldWritesWhileDisconnected: s.cfg.HoldWrites,
	})
	b, err := register.NewRegisterBinding(target, binding.Config{
		Logger:      s.logger,
		EventLogger: s.cfg.EventLogger,
		Metrics:     s.cfg.Metrics,
	})
	if err != nil {
		return err
	}

	var fbs []*register.FieldBinding
	for _, f := range reg.Fields {
		fb, err := register.NewFieldBinding(b, f)
		if err != nil {
			b.Close()
			return fmt.Errorf("register %s: %w", reg, err)
		}
		fbs = append(fbs, fb)
	}

	s.mu.Lock()
	s.bindings = append(s.bindings, b)
	s.byName[reg.Name] = b
	s.byName[reg.String()] = b
	s.regs[b] = reg
	s.fields[b] = fbs
	s.mu.Unlock()

	s.guard.Add(b)
	s.poller.Add(b)
	return nil
}

// Close stops polling, closes every binding and drops the link.
func (s *Session) Close() {
	if s.poller.IsRunning() {
		_ = s.poller.Stop()
	}

	s.mu.Lock()
	bindings := s.bindings
	fields := s.fields
	s.bindings = nil
	s.mu.Unlock()

	for _, b := range bindings {
		s.poller.Remove(b)
		s.guard.Remove(b)
		for _, fb := range fields[b] {
			fb.Close()
		}
		b.Close()
	}
	s.manager.Close()
	s.link.set(nil)
}

// Core returns the core index used for register access.
func (s *Session) Core() int {
	return int(s.core.Load())
}

// SetCore switches the core index and re-reads every binding.
func (s *Session) SetCore(core int) error {
	cores := s.Cores()
	if core < 0 || core >= cores {
		return fmt.Errorf("%w: %d (target has %d)", ErrCoreOutOfRange, core, cores)
	}
	if int(s.core.Swap(int64(core))) == core {
		return nil
	}
	for _, b := range s.Bindings() {
		b.OnIndexChanged()
	}
	return nil
}

// Cores returns the core count reported by the probe, or the symbol table's
// count before the first connect.
func (s *Session) Cores() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info.Cores > 0 {
		return s.info.Cores
	}
	return s.cfg.Symbols.Cores()
}

// Info returns the last probe description.
func (s *Session) Info() interaction.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Address returns the probe address.
func (s *Session) Address() string { return s.cfg.Address }

// LinkState returns the connection state.
func (s *Session) LinkState() connection.State { return s.manager.State() }

// Halted returns the link failure currently halting the bindings, or nil.
func (s *Session) Halted() error { return s.guard.Halted() }

// Poller returns the refresh provider.
func (s *Session) Poller() *refresh.Provider { return s.poller }

// Bindings returns the bindings in symbol table order.
func (s *Session) Bindings() []*binding.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*binding.Binding(nil), s.bindings...)
}

// Lookup finds a binding by NAME or group.NAME.
func (s *Session) Lookup(name string) (*binding.Binding, *register.Register, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byName[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return b, s.regs[b], nil
}

// Register returns the register behind b.
func (s *Session) Register(b *binding.Binding) *register.Register {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[b]
}

// Fields returns the field bindings of b.
func (s *Session) Fields(b *binding.Binding) []*register.FieldBinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[b]
}

// LookupField finds a field binding by register and field name.
func (s *Session) LookupField(name, field string) (*register.FieldBinding, error) {
	b, _, err := s.Lookup(name)
	if err != nil {
		return nil, err
	}
	for _, fb := range s.Fields(b) {
		if fb.Field().Name == field {
			return fb, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, name, field)
}

// remote routes register access to the current client.
type remote struct {
	manager *connection.Manager

	mu     sync.RWMutex
	client *interaction.Client
}

// set replaces the client, closing the previous one.
func (r *remote) set(c *interaction.Client) {
	r.mu.Lock()
	old := r.client
	r.client = c
	r.mu.Unlock()
	if old != nil && old != c {
		_ = old.Close()
	}
}

func (r *remote) current() (*interaction.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, connection.ErrNotConnected
	}
	return r.client, nil
}

func (r *remote) ReadRegister(ctx context.Context, reg *register.Register, core int) (uint64, error) {
	c, err := r.current()
	if err != nil {
		return 0, err
	}
	return c.ReadRegister(ctx, reg, core)
}

func (r *remote) ReadRegisters(ctx context.Context, first *register.Register, count, core int) ([]uint64, error) {
	c, err := r.current()
	if err != nil {
		return nil, err
	}
	return c.ReadRegisters(ctx, first, count, core)
}

func (r *remote) SupportsMultiRead() bool {
	c, err := r.current()
	if err != nil {
		return false
	}
	return c.SupportsMultiRead()
}

func (r *remote) WriteRegister(ctx context.Context, reg *register.Register, core int, v uint64) error {
	c, err := r.current()
	if err != nil {
		return err
	}
	return c.WriteRegister(ctx, reg, core, v)
}

func (r *remote) IsConnected() bool {
	return r.manager.IsConnected()
}

func (r *remote) WhenConnected(ctx context.Context) error {
	return r.manager.WhenConnected(ctx)
}
