package binding

import (
	"context"
	"sync"
	"testing"
	"time"
)

// targetCall is one ReadValue or WriteValue held by a manual fakeTarget
// until the test answers it.
type targetCall struct {
	kind  string
	value Value
	reply chan error
}

func (c *targetCall) ok()            { c.reply <- nil }
func (c *targetCall) fail(err error) { c.reply <- err }

// fakeTarget records every call. In manual mode each call is parked on the
// calls channel until answered; otherwise it completes after latency.
type fakeTarget struct {
	mu          sync.Mutex
	manual      bool
	latency     time.Duration
	calls       chan *targetCall
	value       Value
	reads       int
	writes      int
	writeLog    []Value
	readErr     error
	writeErr    error
	inflight    int
	maxInflight int

	gate      bool
	connected bool
	linkUp    chan struct{}
}

func newManualTarget(v Value) *fakeTarget {
	return &fakeTarget{manual: true, value: v, calls: make(chan *targetCall, 64), connected: true}
}

func newAutoTarget(v Value) *fakeTarget {
	return &fakeTarget{value: v, calls: make(chan *targetCall, 64), connected: true}
}

func (f *fakeTarget) enter(kind string, v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == "read" {
		f.reads++
	} else {
		f.writes++
		f.writeLog = append(f.writeLog, v)
	}
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
}

func (f *fakeTarget) exit() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeTarget) await(kind string, v Value) error {
	f.mu.Lock()
	manual, latency := f.manual, f.latency
	f.mu.Unlock()

	if manual {
		c := &targetCall{kind: kind, value: v, reply: make(chan error, 1)}
		f.calls <- c
		return <-c.reply
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == "read" {
		return f.readErr
	}
	return f.writeErr
}

func (f *fakeTarget) ReadValue(ctx context.Context) (Value, error) {
	f.enter("read", nil)
	defer f.exit()
	if err := f.await("read", nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, nil
}

func (f *fakeTarget) WriteValue(ctx context.Context, v Value) error {
	f.enter("write", v)
	defer f.exit()
	if err := f.await("write", v); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
	return nil
}

func (f *fakeTarget) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTarget) WhenConnected(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	ch := f.linkUp
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTarget) SuppressWritesWhileDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gate
}

func (f *fakeTarget) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = true
	f.connected = false
	f.linkUp = make(chan struct{})
}

func (f *fakeTarget) connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	close(f.linkUp)
}

func (f *fakeTarget) setValue(v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = v
}

func (f *fakeTarget) counts() (reads, writes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.writes
}

func (f *fakeTarget) written() []Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Value(nil), f.writeLog...)
}

func (f *fakeTarget) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// next returns the next parked call.
func (f *fakeTarget) next(t *testing.T) *targetCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a target call")
		return nil
	}
}

// expectRead returns the next parked call and fails unless it is a read.
func (f *fakeTarget) expectRead(t *testing.T) *targetCall {
	t.Helper()
	c := f.next(t)
	if c.kind != "read" {
		t.Fatalf("expected read, got %s(%v)", c.kind, c.value)
	}
	return c
}

// expectWrite returns the next parked call and fails unless it writes want.
func (f *fakeTarget) expectWrite(t *testing.T, want Value) *targetCall {
	t.Helper()
	c := f.next(t)
	if c.kind != "write" {
		t.Fatalf("expected write(%v), got %s", want, c.kind)
	}
	if !equal(c.value, want) {
		t.Fatalf("expected write(%v), got write(%v)", want, c.value)
	}
	return c
}

func (f *fakeTarget) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected %s(%v)", c.kind, c.value)
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder captures events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(b *Binding, types ...EventType) *recorder {
	r := &recorder{}
	for _, typ := range types {
		b.AddEventListener(typ, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return Event{}, false
}

func mustNew(t *testing.T, target Target, cfg Config) *Binding {
	t.Helper()
	b, err := New(target, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func settle(t *testing.T, b *Binding) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Settled(ctx); err != nil {
		t.Fatalf("binding did not settle (state %s): %v", b.State(), err)
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for refresh")
		return nil
	}
}

func assertPending(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("refresh resolved early: %v", err)
	default:
	}
}
