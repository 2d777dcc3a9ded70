package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/regbind/regbind-go/pkg/binding"
	"github.com/regbind/regbind-go/pkg/register"
	"github.com/regbind/regbind-go/pkg/wire"
)

// Fault is a target-side failure with the wire status it maps to.
type Fault struct {
	Status wire.Status
	Msg    string
}

func (f *Fault) Error() string { return f.Msg }

// WireStatus returns the status reported to remote clients.
func (f *Fault) WireStatus() wire.Status { return f.Status }

// Target faults.
var (
	ErrInvalidAddress = &Fault{wire.StatusInvalidAddress, "no register at address"}
	ErrInvalidGroup   = &Fault{wire.StatusInvalidGroup, "unknown register group"}
	ErrInvalidCore    = &Fault{wire.StatusInvalidCore, "core out of range"}
	ErrReadOnly       = &Fault{wire.StatusReadOnly, "register is read-only"}
	ErrValueRange     = &Fault{wire.StatusInvalidRequest, "value exceeds register width"}
	ErrTargetFault    = &Fault{wire.StatusTargetFault, "injected target fault"}
)

// Config configures a Memory.
type Config struct {
	// Latency is added to every access.
	Latency time.Duration

	Logger *slog.Logger
}

// Stats counts accesses served.
type Stats struct {
	Reads      int
	MultiReads int
	Writes     int
	Faults     int
}

type cell struct {
	reg    *register.Register
	values []uint64
}

type key struct {
	group string
	addr  int64
}

// Memory is a simulated register file.
type Memory struct {
	name   string
	cores  int
	logger *slog.Logger

	mu        sync.Mutex
	cells     map[key]*cell
	groups    map[string]struct{}
	latency   time.Duration
	failNext  int
	stats     Stats
	listeners []func(reg *register.Register, core int, v uint64)
}

// New creates a Memory with every register of st set to zero.
func New(st *register.SymbolTable, cfg Config) *Memory {
	m := &Memory{
		name:    st.Target(),
		cores:   st.Cores(),
		logger:  cfg.Logger,
		latency: cfg.Latency,
		cells:   make(map[key]*cell),
		groups:  make(map[string]struct{}),
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	for _, r := range st.Registers() {
		m.cells[key{r.Group, r.Addr}] = &cell{reg: r, values: make([]uint64, m.cores)}
		m.groups[r.Group] = struct{}{}
	}
	return m
}

// Name returns the target name.
func (m *Memory) Name() string { return m.name }

// Cores returns the number of cores.
func (m *Memory) Cores() int { return m.cores }

// SetLatency changes the per-access delay.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailNext makes the next n accesses fail with ErrTargetFault.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// Stats returns access counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// OnWrite registers a callback for values changed by Write or Poke. It
// runs after the access completes, outside the memory lock.
func (m *Memory) OnWrite(fn func(reg *register.Register, core int, v uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Read returns the value of one register.
func (m *Memory) Read(ctx context.Context, group string, addr int64, core int) (uint64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faultLocked(); err != nil {
		return 0, err
	}
	c, err := m.cellLocked(group, addr, core)
	if err != nil {
		return 0, err
	}
	m.stats.Reads++
	return c.values[core], nil
}

// ReadMulti returns count consecutive registers starting at addr. Every
// address in the range must exist.
func (m *Memory) ReadMulti(ctx context.Context, group string, addr int64, count, core int) ([]uint64, error) {
	if count <= 0 || count > wire.MaxMultiCount {
		return nil, &Fault{wire.StatusInvalidRequest, fmt.Sprintf("invalid count %d", count)}
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faultLocked(); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		c, err := m.cellLocked(group, addr+int64(i), core)
		if err != nil {
			return nil, err
		}
		out[i] = c.values[core]
	}
	m.stats.MultiReads++
	return out, nil
}

// Write stores v. Read-only and const registers reject writes.
func (m *Memory) Write(ctx context.Context, group string, addr int64, core int, v uint64) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.faultLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	c, err := m.cellLocked(group, addr, core)
	if err == nil {
		err = checkWritable(c.reg, v)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	c.values[core] = v
	m.stats.Writes++
	listeners := m.listeners
	m.mu.Unlock()

	m.logger.Debug("register written", "register", c.reg.String(), "core", core, "value", v)
	for _, fn := range listeners {
		fn(c.reg, core, v)
	}
	return nil
}

// Poke sets a register from the target side, bypassing qualifiers,
// latency and fault injection.
func (m *Memory) Poke(group string, addr int64, core int, v uint64) error {
	m.mu.Lock()
	c, err := m.cellLocked(group, addr, core)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	c.values[core] = v & c.reg.Mask()
	listeners := m.listeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(c.reg, core, v&c.reg.Mask())
	}
	return nil
}

// Peek returns a register value without counting an access.
func (m *Memory) Peek(group string, addr int64, core int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.cellLocked(group, addr, core)
	if err != nil {
		return 0, err
	}
	return c.values[core], nil
}

// ReadRegister implements register.Reader.
func (m *Memory) ReadRegister(ctx context.Context, reg *register.Register, core int) (uint64, error) {
	return m.Read(ctx, reg.Group, reg.Addr, core)
}

// ReadRegisters implements register.MultiReader.
func (m *Memory) ReadRegisters(ctx context.Context, first *register.Register, count, core int) ([]uint64, error) {
	return m.ReadMulti(ctx, first.Group, first.Addr, count, core)
}

// WriteRegister implements register.Writer.
func (m *Memory) WriteRegister(ctx context.Context, reg *register.Register, core int, v uint64) error {
	return m.Write(ctx, reg.Group, reg.Addr, core, v)
}

func (m *Memory) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) faultLocked() error {
	if m.failNext <= 0 {
		return nil
	}
	m.failNext--
	m.stats.Faults++
	return ErrTargetFault
}

func (m *Memory) cellLocked(group string, addr int64, core int) (*cell, error) {
	if core < 0 || core >= m.cores {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCore, core)
	}
	c, ok := m.cells[key{group, addr}]
	if !ok {
		if _, known := m.groups[group]; !known {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
		}
		return nil, fmt.Errorf("%w: %s/%#x", ErrInvalidAddress, group, addr)
	}
	return c, nil
}

func checkWritable(reg *register.Register, v uint64) error {
	q, err := binding.ParseQualifier(reg.Qualifier)
	if err != nil {
		return err
	}
	if q == binding.ReadOnly || q == binding.Const {
		return fmt.Errorf("%w: %s", ErrReadOnly, reg)
	}
	if v&^reg.Mask() != 0 {
		return fmt.Errorf("%w: %#x for %s", ErrValueRange, v, reg)
	}
	return nil
}

var (
	_ register.Reader      = (*Memory)(nil)
	_ register.MultiReader = (*Memory)(nil)
	_ register.Writer      = (*Memory)(nil)
)
