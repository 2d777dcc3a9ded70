package interactive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regbind/regbind-go/pkg/connection"
	"github.com/regbind/regbind-go/pkg/interaction"
	"github.com/regbind/regbind-go/pkg/register"
	"github.com/regbind/regbind-go/pkg/sim"
	"github.com/regbind/regbind-go/pkg/transport"
)

const benchSymbols = `
target: bench
cores: 2
registers:
  - name: CTRL
    group: periph
    addr: 0x10
    size: 16
    fields:
      - {name: EN, start: 0, width: 1}
      - {name: MODE, start: 4, width: 3}
  - name: STATUS
    group: periph
    addr: 0x11
    qualifier: readonly
  - name: DATA
    group: periph
    addr: 0x12
    size: 8
`

type fixture struct {
	mem     *sim.Memory
	session *Session
	console *Console
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := register.ParseSymbols([]byte(benchSymbols))
	require.NoError(t, err)

	mem := sim.New(st, sim.Config{})
	handler := interaction.NewServer(interaction.ServerConfig{Backend: mem})
	srv := transport.NewServer(transport.ServerConfig{
		Address:   "127.0.0.1:0",
		OnMessage: handler.OnMessage,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { _ = srv.Stop() })

	s := NewSession(SessionConfig{
		Address: srv.Addr().String(),
		Symbols: st,
		Client:  interaction.Config{Timeout: 2 * time.Second},
	})
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Close)
	settle(t, s)

	out := &bytes.Buffer{}
	return &fixture{mem: mem, session: s, console: NewWithWriter(s, out), out: out}
}

func settle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, b := range s.Bindings() {
		require.NoError(t, b.Settled(ctx))
	}
}

func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	assert.True(t, f.console.Execute(context.Background(), line))
	return f.out.String()
}

func TestSessionBindsEveryRegister(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, f.session.Bindings(), 3)
	assert.Equal(t, connection.StateConnected, f.session.LinkState())
	assert.Equal(t, "bench", f.session.Info().Name)
	assert.Equal(t, 2, f.session.Cores())

	b, reg, err := f.session.Lookup("periph.CTRL")
	require.NoError(t, err)
	assert.Equal(t, "CTRL", reg.Name)
	same, _, err := f.session.Lookup("CTRL")
	require.NoError(t, err)
	assert.Same(t, b, same)
	assert.Len(t, f.session.Fields(b), 2)

	_, _, err = f.session.Lookup("NOPE")
	assert.ErrorIs(t, err, ErrUnknownRegister)
	_, err = f.session.LookupField("CTRL", "NOPE")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestReadAndWrite(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.Poke("periph", 0x12, 0, 0x2A))

	out := f.run(t, "read DATA")
	assert.Contains(t, out, "periph.DATA = 0x2a (42)")

	out = f.run(t, "write CTRL 0x31")
	assert.Contains(t, out, "periph.CTRL <- 0x0031")
	v, err := f.mem.Peek("periph", 0x10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x31), v)

	out = f.run(t, "write CTRL.MODE 5")
	assert.Contains(t, out, "CTRL.MODE <- 5")
	v, err = f.mem.Peek("periph", 0x10, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x51), v)

	out = f.run(t, "fields CTRL")
	assert.Contains(t, out, "MODE")
	assert.Contains(t, out, "6:4")

	out = f.run(t, "write DATA 0x1FF")
	assert.Contains(t, out, "Error:")

	out = f.run(t, "write DATA banana")
	assert.Contains(t, out, "invalid value")
}

func TestWriteToReadonlyIsDropped(t *testing.T) {
	f := newFixture(t)

	f.run(t, "write STATUS 7")
	settle(t, f.session)
	v, err := f.mem.Peek("periph", 0x11, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestCoreSwitchRereads(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.Poke("periph", 0x12, 1, 9))

	out := f.run(t, "core 1")
	assert.Contains(t, out, "core 1 selected")
	settle(t, f.session)

	b, _, err := f.session.Lookup("DATA")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), b.Value())

	out = f.run(t, "core 2")
	assert.Contains(t, out, "core out of range")
	assert.Equal(t, 1, f.session.Core())

	out = f.run(t, "core")
	assert.Contains(t, out, "core 1 of 2")
}

func TestDeferredCommitAndRevert(t *testing.T) {
	f := newFixture(t)

	f.run(t, "defer on DATA")
	f.run(t, "write DATA 5")
	b, _, err := f.session.Lookup("DATA")
	require.NoError(t, err)
	assert.True(t, b.IsDeferredWritePending())
	v, _ := f.mem.Peek("periph", 0x12, 0)
	assert.Equal(t, uint64(0), v)

	out := f.run(t, "revert")
	assert.Contains(t, out, "reverted 1 pending writes")
	assert.Equal(t, uint64(0), b.Value())

	f.run(t, "write DATA 6")
	out = f.run(t, "commit DATA")
	assert.Contains(t, out, "committed 1 pending writes")
	v, _ = f.mem.Peek("periph", 0x12, 0)
	assert.Equal(t, uint64(6), v)
	assert.True(t, b.DeferredMode())

	f.run(t, "write DATA 7")
	f.run(t, "defer off")
	settle(t, f.session)
	v, _ = f.mem.Peek("periph", 0x12, 0)
	assert.Equal(t, uint64(7), v)
	assert.False(t, b.DeferredMode())
}

func TestCriticalHaltsAndClearResumes(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "critical bench power off")
	assert.Contains(t, out, "halted 3 bindings: bench power off")

	b, _, err := f.session.Lookup("DATA")
	require.NoError(t, err)
	assert.EqualError(t, b.Status(), "bench power off")

	out = f.run(t, "refresh")
	assert.Contains(t, out, "0 reads")

	require.NoError(t, f.mem.Poke("periph", 0x12, 0, 3))
	f.run(t, "clear")
	assert.NoError(t, b.Status())

	out = f.run(t, "refresh")
	assert.Contains(t, out, "refreshed 3 bindings")
	assert.Equal(t, uint64(3), b.Value())
}

func TestListAndStatus(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "list")
	assert.Contains(t, out, "REGISTER")
	assert.Contains(t, out, "periph.STATUS")
	assert.Contains(t, out, "readonly")

	out = f.run(t, "list core")
	assert.NotContains(t, out, "periph.CTRL")

	out = f.run(t, "status")
	assert.Contains(t, out, "Link:     CONNECTED")
	assert.Contains(t, out, "Bindings: 3")

	out = f.run(t, "frobnicate")
	assert.Contains(t, out, "Unknown command: frobnicate")

	f.out.Reset()
	assert.False(t, f.console.Execute(context.Background(), "quit"))
}

func TestLinkLossHaltsBindings(t *testing.T) {
	st, err := register.ParseSymbols([]byte(benchSymbols))
	require.NoError(t, err)
	mem := sim.New(st, sim.Config{})
	handler := interaction.NewServer(interaction.ServerConfig{Backend: mem})
	srv := transport.NewServer(transport.ServerConfig{Address: "127.0.0.1:0", OnMessage: handler.OnMessage})
	require.NoError(t, srv.Start(context.Background()))

	s := NewSession(SessionConfig{
		Address:    srv.Addr().String(),
		Symbols:    st,
		Client:     interaction.Config{Timeout: time.Second},
		Connection: connection.Config{AutoReconnect: false},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	settle(t, s)

	require.NoError(t, srv.Stop())
	require.Eventually(t, func() bool { return s.Halted() != nil }, 2*time.Second, 10*time.Millisecond)

	b, _, err := s.Lookup("DATA")
	require.NoError(t, err)
	assert.ErrorIs(t, b.Status(), connection.ErrLinkLost)
	assert.Equal(t, connection.StateDisconnected, s.LinkState())
}

func TestCutField(t *testing.T) {
	reg, field, ok := cutField("periph.CTRL.MODE")
	assert.True(t, ok)
	assert.Equal(t, "periph.CTRL", reg)
	assert.Equal(t, "MODE", field)

	_, _, ok = cutField("CTRL")
	assert.False(t, ok)
	_, _, ok = cutField("CTRL.")
	assert.False(t, ok)
}
