package binding

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/metrics"
)

// Config configures a Binding.
type Config struct {
	// Name is used in logs and events.
	Name string

	// Qualifier selects the I/O policy.
	Qualifier Qualifier

	// Default is the cached and committed value before the first read.
	Default Value

	// Deferred starts the binding in deferred-write mode.
	Deferred bool

	// Validate, if set, rejects values passed to SetValue.
	Validate func(Value) error

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// EventLogger receives structured capture events. Optional.
	EventLogger log.Logger

	// Metrics receives counters. Optional.
	Metrics *metrics.Collector
}

// DefaultConfig returns a Normal, non-deferred configuration.
func DefaultConfig() Config {
	return Config{Qualifier: Normal}
}

// Binding synchronizes one cached value with a Target.
type Binding struct {
	id       string
	name     string
	target   Target
	validate func(Value) error
	logger   *slog.Logger
	events   log.Logger
	metrics  *metrics.Collector
	notifier notifier

	// ioCtx is handed to every target call; it is never cancelled.
	ioCtx context.Context

	mu     sync.Mutex
	outbox []func()

	// queue holds outboxes waiting for the delivering goroutine.
	queue      []func()
	delivering bool

	qualifier Qualifier
	policy    policy

	cached    Value
	committed Value
	deferred  bool
	stale     bool
	staleGen  uint64
	status    error
	critical  error
	closed    bool
	lastState State

	op         opKind
	readGen    uint64 // staleGen when the in-flight read started
	writeCycle bool   // a write or its confirmation read is running

	readPending  bool
	writePending bool
	pendingValue Value

	readWaiters       []completion // resolved by the in-flight read
	nextReadWaiters   []completion // resolved by the next read to start
	afterWriteWaiters []completion // resolved by the read queued behind a write cycle
	writeWaiters      []completion // resolved by the in-flight write cycle
	nextWriteWaiters  []completion // resolved by the queued write cycle

	linkPending  bool
	linkValue    Value
	linkWaiters  []completion
	awaitingLink bool

	everRead bool
	written  bool

	settleWaiters []chan struct{}
}

// New creates a binding and issues its kickstart read.
// WriteOnly bindings skip the kickstart read.
func New(target Target, cfg Config) (*Binding, error) {
	if target == nil {
		return nil, ErrNilTarget
	}
	if !cfg.Qualifier.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQualifier, cfg.Qualifier)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Binding{
		id:        uuid.NewString(),
		name:      cfg.Name,
		target:    target,
		validate:  cfg.Validate,
		events:    log.OrNoop(cfg.EventLogger),
		metrics:   cfg.Metrics,
		ioCtx:     context.Background(),
		qualifier: cfg.Qualifier,
		policy:    policyFor(cfg.Qualifier),
		cached:    cfg.Default,
		committed: cfg.Default,
		deferred:  cfg.Deferred,
		lastState: StateIdle,
	}
	b.logger = logger.With("binding", b.displayName())

	b.mu.Lock()
	if !b.policy.readAfterWrite {
		b.startReadLocked()
	}
	b.settleLocked("kickstart")
	b.unlock()

	return b, nil
}

// ID returns the binding's unique identifier.
func (b *Binding) ID() string { return b.id }

// Name returns the configured name.
func (b *Binding) Name() string { return b.name }

func (b *Binding) displayName() string {
	if b.name != "" {
		return b.name
	}
	return b.id[:8]
}

// Value returns the cached value.
func (b *Binding) Value() Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cached
}

// CommittedValue returns the last value confirmed by the target.
func (b *Binding) CommittedValue() Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// State returns the current state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// IsStale reports whether the cached value may be outdated.
func (b *Binding) IsStale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}

// Status returns the last I/O error, or the critical error, or nil.
func (b *Binding) Status() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Qualifier returns the active qualifier.
func (b *Binding) Qualifier() Qualifier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.qualifier
}

// DeferredMode reports whether deferred-write mode is on.
func (b *Binding) DeferredMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deferred
}

// IsDeferredWritePending reports whether a local edit awaits write-through.
func (b *Binding) IsDeferredWritePending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deferred && !equal(b.cached, b.committed)
}

// AddEventListener registers fn for events of type t.
func (b *Binding) AddEventListener(t EventType, fn Listener) ListenerID {
	return b.notifier.add(t, fn)
}

// RemoveEventListener unregisters a listener. It reports whether id was found.
func (b *Binding) RemoveEventListener(id ListenerID) bool {
	return b.notifier.remove(id)
}

// ListenerCount returns the number of listeners for t.
func (b *Binding) ListenerCount(t EventType) int {
	return b.notifier.count(t)
}

// Refresh requests a read and blocks until the read that serves it completes
// or ctx is done. Concurrent refreshes share one read.
func (b *Binding) Refresh(ctx context.Context, progress *Progress) error {
	select {
	case err := <-b.RefreshAsync(progress):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAsync requests a read and returns a channel that receives the
// outcome once.
func (b *Binding) RefreshAsync(progress *Progress) <-chan error {
	c := newCompletion(progress, true)

	b.mu.Lock()
	b.refreshLocked(c)
	b.settleLocked("refresh")
	b.unlock()

	return c.ch
}

// OnRefresh is the polling hook. It requests a read like Refresh and reports
// how many new target reads it caused (0 or 1). Bindings halted by a critical
// error are skipped.
func (b *Binding) OnRefresh(ctx context.Context) (int, error) {
	c := newCompletion(nil, true)

	b.mu.Lock()
	if b.critical != nil || b.closed {
		b.mu.Unlock()
		return 0, nil
	}
	started := b.refreshLocked(c)
	b.settleLocked("poll")
	b.unlock()

	n := 0
	if started {
		n = 1
	}
	select {
	case err := <-c.ch:
		return n, err
	case <-ctx.Done():
		return n, ctx.Err()
	}
}

// refreshLocked routes a read request and reports whether it started a read.
func (b *Binding) refreshLocked(c completion) bool {
	switch {
	case b.closed:
		b.resolveLocked(c, ErrClosed)
	case b.readBlockedLocked():
		b.metrics.Dropped(b.qualifier.String(), "read")
		b.resolveLocked(c, nil)
	case b.critical != nil:
		b.readPending = true
		b.resolveLocked(c, fmt.Errorf("%w: %w", ErrCritical, b.critical))
	case b.writeCycle && b.policy.queueDuringWrite:
		if b.readPending {
			b.metrics.Coalesced("read")
		}
		b.readPending = true
		b.afterWriteWaiters = append(b.afterWriteWaiters, c)
	case b.op == opRead:
		b.metrics.Coalesced("read")
		b.readWaiters = append(b.readWaiters, c)
	case b.op == opNone && !b.linkPending:
		b.nextReadWaiters = append(b.nextReadWaiters, c)
		b.startReadLocked()
		return true
	default:
		// The confirmation read that follows the write serves this request.
		b.metrics.Coalesced("read")
		b.nextReadWaiters = append(b.nextReadWaiters, c)
	}
	return false
}

// readBlockedLocked reports whether the qualifier forbids reading now.
func (b *Binding) readBlockedLocked() bool {
	return (b.policy.readOnce && b.everRead) || (b.policy.readAfterWrite && !b.written)
}

// OnIndexChanged marks the value stale and schedules a read. Triggers that
// arrive while a read is in flight collapse into one queued read.
func (b *Binding) OnIndexChanged() {
	b.mu.Lock()
	defer b.unlock()

	q := b.qualifier.String()
	switch {
	case b.closed:
		return
	case b.policy.readOnce:
		b.metrics.Dropped(q, "index")
		return
	case b.policy.dropWhenBusy && b.op != opNone:
		b.metrics.Dropped(q, "index")
		return
	case b.policy.readAfterWrite && !b.written:
		b.metrics.Dropped(q, "index")
		return
	}

	b.staleGen++
	b.setStaleLocked(true)

	switch {
	case b.critical != nil:
		b.readPending = true
	case b.writeCycle && b.policy.queueDuringWrite:
		if b.readPending {
			b.metrics.Coalesced("read")
		}
		b.readPending = true
	case b.op == opNone:
		b.startReadLocked()
	case b.op == opRead && !b.writePending:
		if b.readPending {
			b.metrics.Coalesced("read")
		}
		b.readPending = true
	default:
		// A write is in flight or queued; its confirmation read re-fetches.
		b.metrics.Coalesced("read")
	}
	b.settleLocked("index changed")
}

// SetValue stores v in the cached value and writes it to the target
// according to the qualifier and deferred mode. forceWrite writes even in
// deferred mode or when v equals the committed value.
//
// Validation failures and closed bindings are reported synchronously; write
// outcomes are reported through progress.
func (b *Binding) SetValue(v Value, progress *Progress, forceWrite bool) error {
	if b.validate != nil {
		if err := b.validate(v); err != nil {
			return fmt.Errorf("%w: %w", ErrValueRejected, err)
		}
	}

	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return ErrClosed
	}
	c := newCompletion(progress, false)
	q := b.qualifier.String()

	switch {
	case b.policy.readOnce:
		b.metrics.Dropped(q, "write")
		b.resolveLocked(c, nil)
		return nil
	case b.policy.suppressWrites:
		b.committed = v
		b.setCachedLocked(v, false)
		b.resolveLocked(c, nil)
		return nil
	case b.deferred && !forceWrite:
		b.setCachedLocked(v, false)
		b.resolveLocked(c, nil)
		return nil
	case b.policy.dropWhenBusy && b.op != opNone:
		b.metrics.Dropped(q, "write")
		b.resolveLocked(c, nil)
		return nil
	}

	b.setCachedLocked(v, false)
	b.requestWriteLocked(v, []completion{c}, forceWrite, true)
	b.settleLocked("set value")
	return nil
}

// requestWriteLocked routes a write of v. The cached value is already v.
func (b *Binding) requestWriteLocked(v Value, waiters []completion, force, gate bool) {
	if gate && b.linkPending {
		// The new value replaces the held one.
		b.metrics.Coalesced("write")
		waiters = append(b.linkWaiters, waiters...)
		b.linkPending = false
		b.linkValue = nil
		b.linkWaiters = nil
	}

	if !force && b.op == opNone && !b.writePending && b.critical == nil && equal(v, b.committed) {
		b.resolveAllLocked(waiters, nil)
		return
	}

	if gate && suppressesWhileDisconnected(b.target) && !b.target.IsConnected() {
		b.linkPending = true
		b.linkValue = v
		b.linkWaiters = append(b.linkWaiters, waiters...)
		if !b.awaitingLink {
			b.awaitingLink = true
			go b.awaitLink()
		}
		return
	}

	switch {
	case b.op == opNone && b.critical == nil:
		b.writeWaiters = append(b.writeWaiters, waiters...)
		b.startWriteLocked(v)
	default:
		if b.writePending {
			b.metrics.Coalesced("write")
		}
		b.writePending = true
		b.pendingValue = v
		b.nextWriteWaiters = append(b.nextWriteWaiters, waiters...)
		if !b.policy.queueDuringWrite {
			// The write's confirmation read supersedes a queued read.
			b.readPending = false
		}
	}
}

// awaitLink waits for the link and writes the latest gated value through once.
func (b *Binding) awaitLink() {
	err := b.target.WhenConnected(b.ioCtx)

	b.mu.Lock()
	defer b.unlock()

	b.awaitingLink = false
	if !b.linkPending {
		return
	}
	v, waiters := b.linkValue, b.linkWaiters
	b.linkPending = false
	b.linkValue = nil
	b.linkWaiters = nil

	if b.closed {
		b.resolveAllLocked(waiters, ErrClosed)
		return
	}
	if err != nil {
		b.setStatusLocked(err)
		if !b.deferred {
			b.setCachedLocked(b.committed, true)
		}
		b.resolveAllLocked(waiters, err)
		b.advanceLocked()
		b.settleLocked("link wait failed")
		return
	}

	b.logger.Debug("link up, writing held value")
	b.requestWriteLocked(v, waiters, true, false)
	b.settleLocked("link up")
}

// UpdateValue applies a value observed on the target side without any I/O.
// A pending local edit keeps the cached value; the committed value is
// updated either way.
func (b *Binding) UpdateValue(v Value, skipStreaming bool) {
	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return
	}
	keepLocal := b.writePending || b.linkPending || b.op == opWrite ||
		(b.deferred && !equal(b.cached, b.committed))
	b.committed = v
	if !keepLocal {
		b.setCachedLocked(v, true)
	}
	if !skipStreaming {
		b.emitLocked(Event{Type: StreamingData, NewValue: v, SuppressSideEffects: true})
	}
}

// SetDeferredMode turns deferred-write mode on or off. Turning it off, or
// passing forceWrite, writes a pending delta through. Interrupt bindings
// refuse with ErrBusy while I/O is in flight.
func (b *Binding) SetDeferredMode(on, forceWrite bool) error {
	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return ErrClosed
	}
	flush := (!on || forceWrite) && !equal(b.cached, b.committed) &&
		!b.policy.suppressWrites
	if flush && b.policy.dropWhenBusy && b.op != opNone {
		return ErrBusy
	}

	b.deferred = on
	if flush {
		b.requestWriteLocked(b.cached, nil, false, true)
	}
	b.settleLocked("deferred mode")
	return nil
}

// ClearDeferredWrite discards a pending local edit, restoring the committed
// value. The target is not touched.
func (b *Binding) ClearDeferredWrite() {
	b.mu.Lock()
	defer b.unlock()

	if !b.deferred {
		return
	}
	b.setCachedLocked(b.committed, false)
}

// ReportCriticalError halts new I/O when err is non-nil and resumes when it
// is nil. I/O already in flight completes normally. On resume, a queued
// write runs first, then a queued read.
func (b *Binding) ReportCriticalError(err error) {
	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return
	}
	if err != nil {
		b.critical = err
		b.setStatusValueLocked(err)

		queued := append(b.nextReadWaiters, b.afterWriteWaiters...)
		b.nextReadWaiters = nil
		b.afterWriteWaiters = nil
		if len(queued) > 0 {
			b.readPending = true
		}
		b.resolveAllLocked(queued, fmt.Errorf("%w: %w", ErrCritical, err))
		b.logger.Warn("critical error reported", "error", err)
		b.settleLocked("critical error")
		return
	}

	if b.critical == nil {
		return
	}
	b.critical = nil
	b.setStatusValueLocked(nil)
	b.logger.Info("critical error cleared")
	b.advanceLocked()
	b.settleLocked("critical error cleared")
}

// SetQualifier switches the I/O policy and resets its scheduling state.
// Queued writes are discarded; a read is issued when idle.
func (b *Binding) SetQualifier(q Qualifier) error {
	if !q.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidQualifier, q)
	}

	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return ErrClosed
	}
	if q == b.qualifier {
		return nil
	}
	b.logger.Debug("qualifier changed", "from", b.qualifier, "to", q)
	b.qualifier = q
	b.policy = policyFor(q)
	b.everRead = false
	b.written = false

	if b.writePending {
		b.writePending = false
		b.pendingValue = nil
		b.resolveAllLocked(b.nextWriteWaiters, nil)
		b.nextWriteWaiters = nil
		if b.op != opWrite && !b.deferred {
			b.setCachedLocked(b.committed, true)
		}
	}
	if len(b.afterWriteWaiters) > 0 {
		b.nextReadWaiters = append(b.nextReadWaiters, b.afterWriteWaiters...)
		b.afterWriteWaiters = nil
	}
	b.readPending = false

	if b.op == opNone && b.critical == nil && !b.policy.readAfterWrite {
		b.startReadLocked()
	}
	b.settleLocked("qualifier changed")
	return nil
}

// Settled blocks until the binding is quiescent (IDLE or ERROR_STATE) and
// every event queued so far has been delivered. It must not be called from
// a listener.
func (b *Binding) Settled(ctx context.Context) error {
	b.mu.Lock()
	ch := make(chan struct{})
	switch {
	case !b.stateLocked().Quiescent() || b.linkPending:
		b.settleWaiters = append(b.settleWaiters, ch)
	case b.delivering:
		b.queue = append(b.queue, func() { close(ch) })
	default:
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the binding. Queued requests resolve with ErrClosed; I/O in
// flight completes but starts nothing further.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.readPending = false
	b.writePending = false
	b.linkPending = false

	var queued []completion
	queued = append(queued, b.nextReadWaiters...)
	queued = append(queued, b.afterWriteWaiters...)
	queued = append(queued, b.nextWriteWaiters...)
	queued = append(queued, b.linkWaiters...)
	b.nextReadWaiters = nil
	b.afterWriteWaiters = nil
	b.nextWriteWaiters = nil
	b.linkWaiters = nil
	b.resolveAllLocked(queued, ErrClosed)
	b.settleLocked("closed")
}

// --- I/O ---

func (b *Binding) startReadLocked() {
	b.op = opRead
	b.readGen = b.staleGen
	b.readWaiters = append(b.readWaiters, b.nextReadWaiters...)
	b.nextReadWaiters = nil
	b.metrics.Read(b.qualifier.String())
	go b.doRead()
}

func (b *Binding) doRead() {
	start := time.Now()
	v, err := b.target.ReadValue(b.ioCtx)
	b.logIO(log.IORead, v, err, time.Since(start))

	b.mu.Lock()
	defer b.unlock()
	b.finishReadLocked(v, err)
}

func (b *Binding) finishReadLocked(v Value, err error) {
	waiters := b.readWaiters
	b.readWaiters = nil
	b.op = opNone

	if b.writeCycle {
		b.writeCycle = false
		b.nextReadWaiters = append(b.nextReadWaiters, b.afterWriteWaiters...)
		b.afterWriteWaiters = nil
	}

	if err != nil {
		b.metrics.Failure("read")
		b.logger.Debug("read failed", "error", err)
		b.setStatusLocked(err)
	} else {
		b.setStatusLocked(nil)
		if b.policy.readOnce {
			b.everRead = true
		}
		if b.policy.readAfterWrite {
			// The confirmation cycle is over until the next write.
			b.written = false
		}
		b.applyReadLocked(v)
		if b.readGen == b.staleGen {
			b.setStaleLocked(false)
		}
	}
	b.resolveAllLocked(waiters, err)
	b.advanceLocked()
	b.settleLocked("read done")
}

// applyReadLocked folds a read result into the binding. A queued write makes
// the result informational only.
func (b *Binding) applyReadLocked(v Value) {
	if b.writePending {
		return
	}
	keepLocal := b.linkPending || (b.deferred && !equal(b.cached, b.committed))
	b.committed = v
	if !keepLocal {
		b.setCachedLocked(v, true)
	}
}

func (b *Binding) startWriteLocked(v Value) {
	b.op = opWrite
	b.writeCycle = true
	b.written = true
	b.metrics.Write(b.qualifier.String())
	go b.doWrite(v)
}

func (b *Binding) doWrite(v Value) {
	start := time.Now()
	err := b.target.WriteValue(b.ioCtx, v)
	b.logIO(log.IOWrite, v, err, time.Since(start))

	b.mu.Lock()
	defer b.unlock()
	b.finishWriteLocked(v, err)
}

func (b *Binding) finishWriteLocked(v Value, err error) {
	waiters := b.writeWaiters
	b.writeWaiters = nil
	b.op = opNone

	if err != nil {
		b.metrics.Failure("write")
		b.logger.Debug("write failed", "error", err)
		b.writeCycle = false
		b.setStatusLocked(err)
		if !b.writePending && !b.deferred {
			b.setCachedLocked(b.committed, true)
		}
		b.resolveAllLocked(waiters, err)
		b.advanceLocked()
		b.settleLocked("write failed")
		return
	}

	b.setStatusLocked(nil)
	b.committed = v

	if b.writePending || b.critical != nil || b.closed {
		// No confirmation read for a superseded write; the queued write's
		// read covers it. Under a critical error the read waits for clearance.
		b.writeCycle = false
		if b.critical != nil && !b.writePending {
			b.readPending = true
		}
		b.resolveAllLocked(waiters, nil)
		b.advanceLocked()
		b.settleLocked("write done")
		return
	}

	b.nextReadWaiters = append(b.nextReadWaiters, waiters...)
	b.startReadLocked()
	b.settleLocked("write done")
}

// advanceLocked starts the next queued operation once nothing is in flight.
func (b *Binding) advanceLocked() {
	if b.op != opNone || b.closed || b.critical != nil {
		return
	}
	switch {
	case b.writePending:
		v := b.pendingValue
		b.writePending = false
		b.pendingValue = nil
		b.writeWaiters = append(b.writeWaiters, b.nextWriteWaiters...)
		b.nextWriteWaiters = nil
		b.startWriteLocked(v)
	case b.readPending || len(b.nextReadWaiters) > 0:
		b.readPending = false
		if b.readBlockedLocked() {
			b.metrics.Dropped(b.qualifier.String(), "read")
			b.resolveAllLocked(b.nextReadWaiters, nil)
			b.nextReadWaiters = nil
			return
		}
		b.startReadLocked()
	}
}

// --- state, events, logging ---

func (b *Binding) stateLocked() State {
	switch {
	case b.critical != nil:
		return StateError
	case b.op == opNone:
		return StateIdle
	case b.writePending:
		return StateDelayedWrite
	case b.op == opWrite:
		return StateWrite
	case b.readPending:
		return StateDelayedRead
	default:
		return StateRead
	}
}

// settleLocked records a state change and wakes Settled callers.
func (b *Binding) settleLocked(reason string) {
	s := b.stateLocked()
	if s != b.lastState {
		b.logger.Debug("state changed", "from", b.lastState, "to", s, "reason", reason)
		b.events.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerBinding,
			Category:  log.CategoryState,
			BindingID: b.id,
			Name:      b.name,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityBinding,
				OldState: b.lastState.String(),
				NewState: s.String(),
				Reason:   reason,
			},
		})
		b.lastState = s
	}
	if s.Quiescent() && !b.linkPending && len(b.settleWaiters) > 0 {
		for _, ch := range b.settleWaiters {
			b.outbox = append(b.outbox, func() { close(ch) })
		}
		b.settleWaiters = nil
	}
}

func (b *Binding) setCachedLocked(v Value, fromTarget bool) {
	if equal(b.cached, v) {
		return
	}
	old := b.cached
	b.cached = v
	b.emitLocked(Event{Type: ValueChanged, OldValue: old, NewValue: v, SuppressSideEffects: fromTarget})
}

func (b *Binding) setStaleLocked(stale bool) {
	if b.stale == stale {
		return
	}
	b.stale = stale
	b.emitLocked(Event{Type: StaleChanged, Stale: stale, SuppressSideEffects: true})
}

// setStatusLocked records an I/O outcome. A critical error masks it.
func (b *Binding) setStatusLocked(err error) {
	if b.critical != nil {
		return
	}
	b.setStatusValueLocked(err)
}

func (b *Binding) setStatusValueLocked(err error) {
	if sameError(b.status, err) {
		return
	}
	b.status = err
	b.emitLocked(Event{Type: StatusChanged, Status: err, SuppressSideEffects: true})
}

func (b *Binding) emitLocked(ev Event) {
	ev.BindingID = b.id
	ev.Name = b.name
	b.outbox = append(b.outbox, func() { b.notifier.emit(ev) })
}

func (b *Binding) resolveLocked(c completion, err error) {
	b.outbox = append(b.outbox, func() { c.resolve(err) })
}

func (b *Binding) resolveAllLocked(cs []completion, err error) {
	for _, c := range cs {
		b.resolveLocked(c, err)
	}
}

// unlock releases the lock and then runs queued listener calls and
// completions in the order they were queued. One goroutine delivers at a
// time: an outbox filled while another goroutine is delivering, including
// by a listener calling back into the binding, joins that goroutine's queue.
func (b *Binding) unlock() {
	b.queue = append(b.queue, b.outbox...)
	b.outbox = nil
	if b.delivering || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}

	b.delivering = true
	for len(b.queue) > 0 {
		out := b.queue
		b.queue = nil
		b.mu.Unlock()
		for _, fn := range out {
			fn()
		}
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

func (b *Binding) logIO(kind log.IOKind, v Value, err error, d time.Duration) {
	io := &log.IOEvent{Kind: kind, Duration: d}
	cat := log.CategoryIO
	if err != nil {
		io.Err = err.Error()
		cat = log.CategoryError
	} else {
		io.Value = v
	}
	b.events.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerBinding,
		Category:  cat,
		BindingID: b.id,
		Name:      b.name,
		IO:        io,
	})
}

func equal(a, b Value) bool {
	return reflect.DeepEqual(a, b)
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b || a.Error() == b.Error()
}
