package register

import (
	"context"
	"fmt"

	"github.com/regbind/regbind-go/pkg/binding"
)

// Link reports the state of the connection to the target.
type Link interface {
	IsConnected() bool
	WhenConnected(ctx context.Context) error
}

// TargetConfig configures a RegisterTarget.
type TargetConfig struct {
	// Core selects the core index for each access. Nil means core 0.
	Core func() int

	// Link gates access on connectivity. Nil means always connected.
	Link Link

	// HoldWritesWhileDisconnected keeps writes local until the link is up.
	HoldWritesWhileDisconnected bool
}

// RegisterTarget adapts one register to binding.Target. Reads go through a
// Batcher so that bindings over adjacent registers share round trips.
type RegisterTarget struct {
	reg     *Register
	batcher *Batcher
	writer  Writer
	cfg     TargetConfig
}

// NewRegisterTarget creates a target for reg.
func NewRegisterTarget(reg *Register, batcher *Batcher, writer Writer, cfg TargetConfig) *RegisterTarget {
	return &RegisterTarget{reg: reg, batcher: batcher, writer: writer, cfg: cfg}
}

// Register returns the underlying register.
func (t *RegisterTarget) Register() *Register { return t.reg }

func (t *RegisterTarget) core() int {
	if t.cfg.Core == nil {
		return 0
	}
	return t.cfg.Core()
}

// ReadValue reads the register as a uint64.
func (t *RegisterTarget) ReadValue(ctx context.Context) (binding.Value, error) {
	v, err := t.batcher.ReadRegister(ctx, t.reg, t.core())
	if err != nil {
		return nil, err
	}
	return v & t.reg.Mask(), nil
}

// WriteValue writes an unsigned integer value to the register.
func (t *RegisterTarget) WriteValue(ctx context.Context, v binding.Value) error {
	u, err := ToUint64(v)
	if err != nil {
		return err
	}
	if u&^t.reg.Mask() != 0 {
		return fmt.Errorf("%w: %#x for %d-bit %s", ErrValueOutOfRange, u, t.reg.Size(), t.reg)
	}
	return t.writer.WriteRegister(ctx, t.reg, t.core(), u)
}

// IsConnected implements binding.Target.
func (t *RegisterTarget) IsConnected() bool {
	return t.cfg.Link == nil || t.cfg.Link.IsConnected()
}

// WhenConnected implements binding.Target.
func (t *RegisterTarget) WhenConnected(ctx context.Context) error {
	if t.cfg.Link == nil {
		return nil
	}
	return t.cfg.Link.WhenConnected(ctx)
}

// SuppressWritesWhileDisconnected implements binding.WriteGate.
func (t *RegisterTarget) SuppressWritesWhileDisconnected() bool {
	return t.cfg.HoldWritesWhileDisconnected
}

// NewRegisterBinding creates a binding over t. The binding's name and
// qualifier come from the register definition; values are uint64.
func NewRegisterBinding(t *RegisterTarget, cfg binding.Config) (*binding.Binding, error) {
	q, err := binding.ParseQualifier(t.reg.Qualifier)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", t.reg, err)
	}
	if cfg.Name == "" {
		cfg.Name = t.reg.String()
	}
	cfg.Qualifier = q
	if cfg.Default == nil {
		cfg.Default = uint64(0)
	}
	if cfg.Validate == nil {
		mask := t.reg.Mask()
		cfg.Validate = func(v binding.Value) error {
			u, err := ToUint64(v)
			if err != nil {
				return err
			}
			if u&^mask != 0 {
				return fmt.Errorf("%w: %#x", ErrValueOutOfRange, u)
			}
			return nil
		}
	}
	return binding.New(t, cfg)
}

// ToUint64 converts a non-negative integer value to uint64.
func ToUint64(v binding.Value) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case int:
		if n >= 0 {
			return uint64(n), nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	case int32:
		if n >= 0 {
			return uint64(n), nil
		}
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrValueOutOfRange, v)
	}
	return 0, fmt.Errorf("%w: %v", ErrValueOutOfRange, v)
}
