package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastKeepAlive() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 3,
	}
}

func TestKeepAliveConfig(t *testing.T) {
	cfg := DefaultKeepAliveConfig()
	assert.Equal(t, 2*time.Second, cfg.PingInterval)
	assert.Equal(t, 7*time.Second, cfg.DetectionDelay())

	ka := NewKeepAlive(KeepAliveConfig{}, func(uint32) error { return nil }, nil)
	assert.Equal(t, cfg, ka.config, "zero fields take defaults")
}

func TestKeepAliveAnsweredPingsKeepLinkAlive(t *testing.T) {
	var ka *KeepAlive
	var timeouts atomic.Int32
	ka = NewKeepAlive(fastKeepAlive(), func(seq uint32) error {
		go ka.PongReceived(seq)
		return nil
	}, func() { timeouts.Add(1) })

	ka.Start(context.Background())
	defer ka.Stop()

	require.Eventually(t, func() bool { return ka.Stats().CurrentSeq >= 5 }, time.Second, time.Millisecond)
	assert.Zero(t, timeouts.Load())
	assert.True(t, ka.IsRunning())
	assert.False(t, ka.Stats().LastPongTime.IsZero())
}

func TestKeepAliveTimesOut(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once
	ka := NewKeepAlive(fastKeepAlive(), func(uint32) error { return nil }, func() {
		once.Do(func() { close(done) })
	})
	ka.Start(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback not called")
	}
	assert.Eventually(t, func() bool { return !ka.IsRunning() }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, ka.Stats().MissedPongs, 3)
}

func TestKeepAliveLatePongIgnored(t *testing.T) {
	ka := NewKeepAlive(fastKeepAlive(), func(uint32) error { return nil }, nil)
	ka.ping()
	ka.ping()

	ka.pong(1)
	assert.True(t, ka.hasPending, "answer to an older ping does not clear the pending one")
	ka.pong(2)
	assert.False(t, ka.hasPending)
	assert.Zero(t, ka.Stats().MissedPongs)
}

func TestKeepAliveStartStop(t *testing.T) {
	var pings atomic.Int32
	ka := NewKeepAlive(fastKeepAlive(), func(seq uint32) error {
		pings.Add(1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ka.Start(ctx)
	ka.Start(ctx)
	assert.True(t, ka.IsRunning())

	ka.Stop()
	ka.Stop()
	assert.False(t, ka.IsRunning())

	n := pings.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, pings.Load(), n+1)
}
