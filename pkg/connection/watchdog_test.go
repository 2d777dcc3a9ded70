package connection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *reporter) ReportCriticalError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reporter) reports() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestWatchdogHaltsAndResumes(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
	m.SetAutoReconnect(false)
	defer m.Close()

	w := NewWatchdog(m, nil)
	a, b := &reporter{}, &reporter{}
	w.Add(a)
	w.Add(b)

	require.NoError(t, m.Connect(context.Background()))
	assert.Empty(t, a.reports(), "connecting without a halt reports nothing")

	m.NotifyConnectionLost()
	assert.ErrorIs(t, w.Halted(), ErrLinkLost)
	assert.Equal(t, []error{ErrLinkLost}, a.reports())

	late := &reporter{}
	w.Add(late)
	assert.Equal(t, []error{ErrLinkLost}, late.reports(), "late targets inherit the halt")

	w.Remove(b)
	require.NoError(t, m.Connect(context.Background()))
	assert.NoError(t, w.Halted())
	assert.Equal(t, []error{ErrLinkLost, nil}, a.reports())
	assert.Equal(t, []error{ErrLinkLost}, b.reports(), "removed targets are not resumed")
	assert.Equal(t, []error{ErrLinkLost, nil}, late.reports())
}

func TestWatchdogReportsClose(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil }, DefaultConfig())
	w := NewWatchdog(m, nil)
	r := &reporter{}
	w.Add(r)

	require.NoError(t, m.Connect(context.Background()))
	m.Close()
	assert.Equal(t, []error{ErrConnectionClosed}, r.reports())
}
