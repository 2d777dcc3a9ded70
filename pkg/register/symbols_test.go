package register

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoSymbols = `
target: demo-mcu
cores: 2
registers:
  - name: STATUS
    group: periph
    addr: 0x11
    qualifier: readonly
  - name: CTRL
    group: periph
    addr: 0x10
    size: 16
    qualifier: nonvolatile
    fields:
      - {name: EN, start: 0, width: 1}
      - {name: MODE, start: 4, width: 3}
  - name: DATA
    group: periph
    addr: 0x12
  - name: PC
    group: core
    addr: 0
    qualifier: interrupt
`

func TestParseSymbols(t *testing.T) {
	st, err := ParseSymbols([]byte(demoSymbols))
	require.NoError(t, err)

	assert.Equal(t, "demo-mcu", st.Target())
	assert.Equal(t, 2, st.Cores())
	assert.Equal(t, []string{"core", "periph"}, st.Groups())

	var names []string
	for _, r := range st.Registers() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"PC", "CTRL", "STATUS", "DATA"}, names)

	ctrl, ok := st.Lookup("CTRL")
	require.True(t, ok)
	assert.Equal(t, 16, ctrl.Size())
	assert.Len(t, ctrl.Fields, 2)

	head := st.Blocks().Head("periph")
	require.NotNil(t, head)
	assert.Equal(t, int64(0x10), head.Addr())
	assert.Equal(t, 3, head.Len())
	assert.Same(t, head, ctrl.Block())
}

func TestParseSymbolsErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  error
	}{
		{"duplicate name", "registers: [{name: A, addr: 1}, {name: A, addr: 2}]", ErrDuplicateName},
		{"duplicate addr", "registers: [{name: A, addr: 1}, {name: B, addr: 1}]", ErrDuplicateAddress},
		{"bad field", "registers: [{name: A, addr: 1, size: 8, fields: [{name: F, start: 7, width: 2}]}]", ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSymbols([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := ParseSymbols([]byte("registers: [{name: A, addr: 1, qualifier: sticky}]"))
	assert.Error(t, err)
	_, err = ParseSymbols([]byte("registers: {"))
	assert.Error(t, err)
}

func TestReloadReplacesRegisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demoSymbols), 0o644))

	st, err := LoadSymbols(path)
	require.NoError(t, err)
	old, _ := st.Lookup("CTRL")

	require.NoError(t, os.WriteFile(path, []byte("registers: [{name: CTRL, addr: 0x40}]"), 0o644))
	require.NoError(t, st.Reload())

	fresh, ok := st.Lookup("CTRL")
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, int64(0x40), fresh.Addr)
	assert.Equal(t, int64(0x10), old.Addr, "previous registers are not edited")
	_, ok = st.Lookup("DATA")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("registers: [{name: A, addr: 1}, {name: A, addr: 2}]"), 0o644))
	assert.Error(t, st.Reload())
	_, ok = st.Lookup("CTRL")
	assert.True(t, ok, "a failed reload keeps the previous table")
}

func TestLoadSymbolsMissingFile(t *testing.T) {
	_, err := LoadSymbols(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
