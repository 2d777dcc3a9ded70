package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbind/regbind-go/pkg/binding"
)

func fixed(n int, err error) RefresherFunc {
	return func(context.Context) (int, error) { return n, err }
}

func TestPollSumsOperations(t *testing.T) {
	p := New(DefaultConfig())
	p.Add(fixed(1, nil), fixed(0, nil), fixed(2, nil))

	ops, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ops)

	s := p.Stats()
	assert.Equal(t, uint64(1), s.Passes)
	assert.Equal(t, uint64(3), s.Operations)
	assert.False(t, s.LastPass.IsZero())
}

func TestPollEmpty(t *testing.T) {
	ops, err := New(Config{}).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ops)
}

func TestPollJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	var ran atomic.Int32
	p := New(DefaultConfig())
	p.Add(fixed(1, errA), fixed(1, errB), RefresherFunc(func(context.Context) (int, error) {
		ran.Add(1)
		return 1, nil
	}))

	ops, err := p.Poll(context.Background())
	assert.Equal(t, 3, ops)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, int32(1), ran.Load(), "a failing refresher does not stop the others")
	assert.Equal(t, uint64(2), p.Stats().Failures)
}

func TestPollRunsConcurrently(t *testing.T) {
	const n = 5
	var started sync.WaitGroup
	started.Add(n)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	p := New(DefaultConfig())
	for range n {
		p.Add(RefresherFunc(func(ctx context.Context) (int, error) {
			started.Done()
			select {
			case <-all:
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ops, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, ops)
}

func TestPollRateLimited(t *testing.T) {
	// 20 ops/s with a burst of 2: six refreshers need four 50ms tokens.
	p := New(Config{MaxOpsPerSecond: 20})
	for range 6 {
		p.Add(fixed(1, nil))
	}

	start := time.Now()
	ops, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, ops)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPollCancelled(t *testing.T) {
	p := New(Config{MaxOpsPerSecond: 1})
	for range 3 {
		p.Add(fixed(1, nil))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The second token is a second away, past the deadline.
	ops, err := p.Poll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, ops)
}

func TestAddRemove(t *testing.T) {
	p := New(DefaultConfig())
	a, b := &counter{ops: 1}, &counter{ops: 10}
	p.Add(a, b)
	assert.Equal(t, 2, p.Len())

	assert.True(t, p.Remove(a))
	assert.False(t, p.Remove(a))
	assert.Equal(t, 1, p.Len())

	ops, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, ops)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

type counter struct {
	ops   int
	calls atomic.Int32
}

func (c *counter) OnRefresh(context.Context) (int, error) {
	c.calls.Add(1)
	return c.ops, nil
}

func TestStartStop(t *testing.T) {
	var passes atomic.Int32
	p := New(Config{
		Interval: 10 * time.Millisecond,
		OnPass:   func(int, error) { passes.Add(1) },
	})
	p.Add(fixed(1, nil))

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.ErrorIs(t, p.Start(context.Background()), ErrRunning)

	require.Eventually(t, func() bool { return passes.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	after := passes.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, passes.Load())
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
}

func TestStartStopsWithContext(t *testing.T) {
	p := New(Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()
	require.NoError(t, p.Stop())
}

// gatedTarget blocks every read until release is signalled.
type gatedTarget struct {
	reads   atomic.Int32
	release chan struct{}
}

func (g *gatedTarget) ReadValue(ctx context.Context) (binding.Value, error) {
	n := g.reads.Add(1)
	select {
	case <-g.release:
		return uint64(n), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedTarget) WriteValue(context.Context, binding.Value) error { return nil }
func (g *gatedTarget) IsConnected() bool                               { return true }
func (g *gatedTarget) WhenConnected(context.Context) error             { return nil }

func TestPollCoalescesBindingReads(t *testing.T) {
	target := &gatedTarget{release: make(chan struct{}, 4)}
	b, err := binding.New(target, binding.Config{Name: "STATUS"})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	target.release <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Settled(ctx))

	// The same binding twice in one pass: one read starts, the other joins it.
	p := New(DefaultConfig())
	p.Add(b, b)

	type result struct {
		ops int
		err error
	}
	done := make(chan result, 1)
	go func() {
		ops, err := p.Poll(ctx)
		done <- result{ops, err}
	}()

	require.Eventually(t, func() bool { return target.reads.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	target.release <- struct{}{}

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.ops)
	assert.Equal(t, int32(2), target.reads.Load())
	assert.Equal(t, uint64(2), b.Value())
}

func TestPollSkipsHaltedBindings(t *testing.T) {
	target := &gatedTarget{release: make(chan struct{}, 4)}
	b, err := binding.New(target, binding.Config{})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	target.release <- struct{}{}
	require.NoError(t, b.Settled(context.Background()))

	b.ReportCriticalError(errors.New("probe gone"))
	p := New(DefaultConfig())
	p.Add(b)

	ops, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ops)
	assert.Equal(t, int32(1), target.reads.Load())
}
