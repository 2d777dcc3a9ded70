package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Jitter: -1}
	return cfg
}

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			250 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			10 * time.Second,
			10 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 20)
		for i := range samples {
			samples[i] = b.Peek()
		}

		upper := time.Duration(float64(InitialBackoff) * (1 + JitterFactor))
		allSame := true
		for i, s := range samples {
			if s < InitialBackoff || s > upper {
				t.Errorf("Sample %d: %v out of range [%v, %v]", i, s, InitialBackoff, upper)
			}
			if s != samples[0] {
				allSame = false
			}
		}
		if allSame {
			t.Error("All jittered samples are identical")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("Backoff should have increased")
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("After Reset: Current() = %v, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("After Reset: Attempts() = %d, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 3.0,
			Jitter:     -1,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			300 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("Sequence", func(t *testing.T) {
		seq := NewBackoff().Sequence()
		if len(seq) != 7 {
			t.Fatalf("Sequence() has %d elements, want 7", len(seq))
		}
		if seq[0] != InitialBackoff {
			t.Errorf("First element = %v, want %v", seq[0], InitialBackoff)
		}
		if seq[len(seq)-1] != MaxBackoff {
			t.Errorf("Last element = %v, want %v", seq[len(seq)-1], MaxBackoff)
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("InitialState", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		defer m.Close()

		if m.State() != StateDisconnected {
			t.Errorf("Initial state = %v, want StateDisconnected", m.State())
		}
		if m.IsConnected() {
			t.Error("IsConnected() = true, want false")
		}
		if m.ID() == "" {
			t.Error("ID() is empty")
		}
	})

	t.Run("SuccessfulConnect", func(t *testing.T) {
		connectCalled := false
		m := NewManager(func(ctx context.Context) error {
			connectCalled = true
			return nil
		}, DefaultConfig())
		defer m.Close()

		var connectedCalled bool
		m.OnConnected(func() { connectedCalled = true })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if !connectCalled {
			t.Error("Connect function was not called")
		}
		if !connectedCalled {
			t.Error("OnConnected callback was not called")
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %v, want StateConnected", m.State())
		}
	})

	t.Run("FailedConnect", func(t *testing.T) {
		expectedErr := errors.New("probe not found")
		m := NewManager(func(ctx context.Context) error { return expectedErr }, DefaultConfig())
		defer m.Close()

		if err := m.Connect(context.Background()); err != expectedErr {
			t.Errorf("Connect() error = %v, want %v", err, expectedErr)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		defer m.Close()

		_ = m.Connect(context.Background())
		if err := m.Connect(context.Background()); err != ErrAlreadyConnected {
			t.Errorf("Second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})

	t.Run("Disconnect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		m.SetAutoReconnect(false)
		defer m.Close()

		_ = m.Connect(context.Background())

		var disconnectedCalled bool
		m.OnDisconnected(func() { disconnectedCalled = true })
		m.Disconnect()

		if !disconnectedCalled {
			t.Error("OnDisconnected callback was not called")
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
	})

	t.Run("StateChangeCallback", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		m.SetAutoReconnect(false)
		defer m.Close()

		var transitions []struct{ old, new State }
		m.OnStateChange(func(old, new State) {
			transitions = append(transitions, struct{ old, new State }{old, new})
		})

		_ = m.Connect(context.Background())
		m.Disconnect()

		expected := []struct{ old, new State }{
			{StateDisconnected, StateConnecting},
			{StateConnecting, StateConnected},
			{StateConnected, StateDisconnected},
		}
		if len(transitions) != len(expected) {
			t.Fatalf("Got %d transitions, want %d", len(transitions), len(expected))
		}
		for i, exp := range expected {
			if transitions[i] != exp {
				t.Errorf("Transition %d: got %v->%v, want %v->%v",
					i, transitions[i].old, transitions[i].new, exp.old, exp.new)
			}
		}
	})
}

func TestWhenConnected(t *testing.T) {
	t.Run("ReleasedOnConnect", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		defer m.Close()

		done := make(chan error, 1)
		go func() { done <- m.WhenConnected(context.Background()) }()

		select {
		case err := <-done:
			t.Fatalf("WhenConnected returned early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}

		_ = m.Connect(context.Background())
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("WhenConnected() error = %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("WhenConnected not released")
		}

		if err := m.WhenConnected(context.Background()); err != nil {
			t.Errorf("WhenConnected() while connected = %v", err)
		}
	})

	t.Run("Context", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
		defer m.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := m.WhenConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WhenConnected() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())

		done := make(chan error, 1)
		go func() { done <- m.WhenConnected(context.Background()) }()
		time.Sleep(10 * time.Millisecond)
		m.Close()

		select {
		case err := <-done:
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("WhenConnected() error = %v, want ErrConnectionClosed", err)
			}
		case <-time.After(time.Second):
			t.Fatal("WhenConnected not released by Close")
		}
	})
}

func TestManagerReconnect(t *testing.T) {
	t.Run("AutoReconnectOnLoss", func(t *testing.T) {
		var connectCount atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			connectCount.Add(1)
			return nil
		}, quickConfig())
		m.StartReconnectLoop()
		defer m.Close()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Initial Connect() error = %v", err)
		}

		m.NotifyConnectionLost()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.WhenConnected(ctx); err != nil {
			t.Fatalf("WhenConnected() error = %v", err)
		}
		if connectCount.Load() < 2 {
			t.Errorf("Connect was called %d times, want at least 2", connectCount.Load())
		}
	})

	t.Run("BackoffOnFailure", func(t *testing.T) {
		var connectCount atomic.Int32
		var mu sync.Mutex
		var delays []time.Duration

		m := NewManager(func(ctx context.Context) error {
			if connectCount.Add(1) < 3 {
				return errors.New("not yet")
			}
			return nil
		}, quickConfig())
		m.OnReconnecting(func(_ int, delay time.Duration) {
			mu.Lock()
			delays = append(delays, delay)
			mu.Unlock()
		})
		m.StartReconnectLoop()
		defer m.Close()

		m.mu.Lock()
		m.state = StateReconnecting
		m.mu.Unlock()
		m.triggerReconnect()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.WhenConnected(ctx); err != nil {
			t.Fatalf("WhenConnected() error = %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
		if len(delays) != len(want) {
			t.Fatalf("Got %d reconnect delays, want %d", len(delays), len(want))
		}
		for i := range want {
			if delays[i] != want[i] {
				t.Errorf("Delay %d = %v, want %v", i, delays[i], want[i])
			}
		}
		if m.BackoffAttempts() != 0 {
			t.Errorf("BackoffAttempts() = %d after success, want 0", m.BackoffAttempts())
		}
	})

	t.Run("DisabledAutoReconnect", func(t *testing.T) {
		var connectCount atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			connectCount.Add(1)
			return nil
		}, quickConfig())
		m.SetAutoReconnect(false)
		m.StartReconnectLoop()
		defer m.Close()

		_ = m.Connect(context.Background())
		m.Disconnect()

		time.Sleep(100 * time.Millisecond)

		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want StateDisconnected", m.State())
		}
		if connectCount.Load() != 1 {
			t.Errorf("Connect called %d times, want 1", connectCount.Load())
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
