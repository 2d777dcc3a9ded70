package register

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/regbind/regbind-go/pkg/binding"
)

// symbolFile is the YAML layout of a symbol table:
//
//	target: demo-mcu
//	registers:
//	  - name: CTRL
//	    group: periph
//	    addr: 0x10
//	    size: 32
//	    qualifier: nonvolatile
//	    fields:
//	      - {name: EN, start: 0, width: 1}
type symbolFile struct {
	Target    string      `yaml:"target"`
	Cores     int         `yaml:"cores,omitempty"`
	Registers []*Register `yaml:"registers"`
}

// SymbolTable is a target's register map. Reload replaces every register
// and rebuilds the block index; registers are never edited in place.
type SymbolTable struct {
	mu     sync.RWMutex
	path   string
	target string
	cores  int
	regs   []*Register
	byName map[string]*Register
	blocks *Blocks
}

// LoadSymbols reads a symbol table file.
func LoadSymbols(path string) (*SymbolTable, error) {
	t := &SymbolTable{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseSymbols parses a symbol table from YAML.
func ParseSymbols(data []byte) (*SymbolTable, error) {
	t := &SymbolTable{}
	if err := t.load(data); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the table's file.
func (t *SymbolTable) Reload() error {
	if t.path == "" {
		return fmt.Errorf("symbol table has no file")
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read symbol table: %w", err)
	}
	return t.load(data)
}

func (t *SymbolTable) load(data []byte) error {
	var f symbolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse symbol table: %w", err)
	}

	byName := make(map[string]*Register, len(f.Registers))
	blocks := NewBlocks()
	for _, r := range f.Registers {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, err := binding.ParseQualifier(r.Qualifier); err != nil {
			return fmt.Errorf("register %s: %w", r, err)
		}
		for _, fld := range r.Fields {
			if _, err := binding.ParseQualifier(fld.Qualifier); err != nil {
				return fmt.Errorf("field %s.%s: %w", r, fld.Name, err)
			}
		}
		if _, dup := byName[r.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
		}
		byName[r.Name] = r
		if err := blocks.AddRegister(r); err != nil {
			return err
		}
	}

	regs := append([]*Register(nil), f.Registers...)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Group != regs[j].Group {
			return regs[i].Group < regs[j].Group
		}
		return regs[i].Addr < regs[j].Addr
	})

	cores := f.Cores
	if cores <= 0 {
		cores = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = f.Target
	t.cores = cores
	t.regs = regs
	t.byName = byName
	t.blocks = blocks
	return nil
}

// Target returns the target name declared by the table.
func (t *SymbolTable) Target() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

// Cores returns the number of cores, at least 1.
func (t *SymbolTable) Cores() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cores
}

// Registers returns all registers sorted by group and address.
func (t *SymbolTable) Registers() []*Register {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Register(nil), t.regs...)
}

// Lookup returns the register with the given name.
func (t *SymbolTable) Lookup(name string) (*Register, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byName[name]
	return r, ok
}

// Blocks returns the block index of the current load.
func (t *SymbolTable) Blocks() *Blocks {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocks
}

// Groups returns the group keys.
func (t *SymbolTable) Groups() []string {
	return t.Blocks().Groups()
}
