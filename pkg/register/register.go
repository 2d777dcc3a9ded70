package register

import (
	"context"
	"errors"
	"fmt"
)

// DefaultSizeBits is used for registers that do not declare a size.
const DefaultSizeBits = 32

// Register errors.
var (
	ErrDuplicateAddress = errors.New("duplicate register address")
	ErrDuplicateName    = errors.New("duplicate register name")
	ErrInvalidRegister  = errors.New("invalid register definition")
	ErrInvalidField     = errors.New("invalid field definition")
	ErrFieldReadOnly    = errors.New("field is read-only")
	ErrValueOutOfRange  = errors.New("value out of range")
	ErrShortRead        = errors.New("multi-register read returned wrong count")
)

// Register is one addressable entity in a target's register map.
type Register struct {
	Name        string  `yaml:"name"`
	Addr        int64   `yaml:"addr"`
	SizeBits    int     `yaml:"size,omitempty"`
	Group       string  `yaml:"group,omitempty"`
	Qualifier   string  `yaml:"qualifier,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Fields      []Field `yaml:"fields,omitempty"`

	block *Block
}

// Block returns the block the register was inserted into, or nil.
func (r *Register) Block() *Block {
	return r.block
}

// Index returns the register's position within its block, or -1.
func (r *Register) Index() int {
	if r.block == nil {
		return -1
	}
	return int(r.Addr - r.block.addr)
}

// Size returns SizeBits, defaulted.
func (r *Register) Size() int {
	if r.SizeBits <= 0 {
		return DefaultSizeBits
	}
	return r.SizeBits
}

// Mask returns the mask of valid value bits.
func (r *Register) Mask() uint64 {
	return bitMask(r.Size())
}

// Field returns the named field.
func (r *Register) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks the register and its fields.
func (r *Register) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: missing name at address %#x", ErrInvalidRegister, r.Addr)
	}
	if r.Addr < 0 {
		return fmt.Errorf("%w: %s: negative address", ErrInvalidRegister, r.Name)
	}
	if r.SizeBits < 0 || r.SizeBits > 64 {
		return fmt.Errorf("%w: %s: size %d", ErrInvalidRegister, r.Name, r.SizeBits)
	}
	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("%w: %s.%q", ErrInvalidField, r.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Start < 0 || f.Width <= 0 || f.Start+f.Width > r.Size() {
			return fmt.Errorf("%w: %s.%s: bits %d+%d exceed %d-bit register",
				ErrInvalidField, r.Name, f.Name, f.Start, f.Width, r.Size())
		}
	}
	return nil
}

func (r *Register) String() string {
	if r.Group == "" {
		return fmt.Sprintf("%s@%#x", r.Name, r.Addr)
	}
	return fmt.Sprintf("%s/%s@%#x", r.Group, r.Name, r.Addr)
}

// Field is a bit field within a register.
type Field struct {
	Name      string `yaml:"name"`
	Start     int    `yaml:"start"`
	Width     int    `yaml:"width"`
	Qualifier string `yaml:"qualifier,omitempty"`
}

// Mask returns the field mask in register position.
func (f Field) Mask() uint64 {
	return bitMask(f.Width) << uint(f.Start)
}

// Extract returns the field value from a register value.
func (f Field) Extract(reg uint64) uint64 {
	return (reg & f.Mask()) >> uint(f.Start)
}

// Insert returns reg with the field replaced by v.
func (f Field) Insert(reg, v uint64) uint64 {
	return (reg &^ f.Mask()) | ((v << uint(f.Start)) & f.Mask())
}

func bitMask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

// Reader reads one register.
type Reader interface {
	ReadRegister(ctx context.Context, reg *Register, core int) (uint64, error)
}

// MultiReader reads count contiguous registers starting at first.
type MultiReader interface {
	ReadRegisters(ctx context.Context, first *Register, count, core int) ([]uint64, error)
}

// MultiReadCapable is implemented by readers whose multi-read support is
// only known at run time.
type MultiReadCapable interface {
	SupportsMultiRead() bool
}

// Writer writes one register.
type Writer interface {
	WriteRegister(ctx context.Context, reg *Register, core int, v uint64) error
}

// ReadWriter is the full register access surface of a target.
type ReadWriter interface {
	Reader
	Writer
}
