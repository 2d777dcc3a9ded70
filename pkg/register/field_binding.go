package register

import (
	"context"
	"sync"

	"github.com/regbind/regbind-go/pkg/binding"
)

// FieldListener is called when a field's extracted value changes.
type FieldListener func(old, new uint64, suppressSideEffects bool)

// FieldBinding is a bit-field view of a register binding. It holds a
// reference to the parent and a listener on it; Close removes the listener.
type FieldBinding struct {
	parent   *binding.Binding
	field    Field
	readOnly bool
	sub      binding.ListenerID

	mu        sync.Mutex
	value     uint64
	listeners []FieldListener
	closed    bool
}

// NewFieldBinding attaches a field view to parent.
func NewFieldBinding(parent *binding.Binding, f Field) (*FieldBinding, error) {
	q, err := binding.ParseQualifier(f.Qualifier)
	if err != nil {
		return nil, err
	}
	fb := &FieldBinding{
		parent:   parent,
		field:    f,
		readOnly: q == binding.ReadOnly || q == binding.Const,
	}
	if u, err := ToUint64(parent.Value()); err == nil {
		fb.value = f.Extract(u)
	}
	fb.sub = parent.AddEventListener(binding.ValueChanged, fb.onParentChanged)
	return fb, nil
}

// Field returns the field definition.
func (fb *FieldBinding) Field() Field { return fb.field }

// Parent returns the register binding.
func (fb *FieldBinding) Parent() *binding.Binding { return fb.parent }

// Value returns the field value extracted from the parent's cached value.
func (fb *FieldBinding) Value() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.value
}

// OnChange registers fn for field value changes.
func (fb *FieldBinding) OnChange(fn FieldListener) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.listeners = append(fb.listeners, fn)
}

// SetValue writes v into the field with a read-modify-write of the parent's
// cached value.
func (fb *FieldBinding) SetValue(v uint64, progress *binding.Progress, forceWrite bool) error {
	if fb.readOnly {
		return ErrFieldReadOnly
	}
	if v > fb.field.Mask()>>uint(fb.field.Start) {
		return ErrValueOutOfRange
	}
	cur, err := ToUint64(fb.parent.Value())
	if err != nil {
		return err
	}
	return fb.parent.SetValue(fb.field.Insert(cur, v), progress, forceWrite)
}

// Refresh re-reads the parent register.
func (fb *FieldBinding) Refresh(ctx context.Context, progress *binding.Progress) error {
	return fb.parent.Refresh(ctx, progress)
}

// Close detaches from the parent. It is safe to call more than once.
func (fb *FieldBinding) Close() {
	fb.mu.Lock()
	if fb.closed {
		fb.mu.Unlock()
		return
	}
	fb.closed = true
	fb.listeners = nil
	fb.mu.Unlock()

	fb.parent.RemoveEventListener(fb.sub)
}

func (fb *FieldBinding) onParentChanged(ev binding.Event) {
	u, err := ToUint64(ev.NewValue)
	if err != nil {
		return
	}
	nv := fb.field.Extract(u)

	fb.mu.Lock()
	if fb.closed || nv == fb.value {
		fb.mu.Unlock()
		return
	}
	old := fb.value
	fb.value = nv
	listeners := append([]FieldListener(nil), fb.listeners...)
	fb.mu.Unlock()

	for _, fn := range listeners {
		fn(old, nv, ev.SuppressSideEffects)
	}
}
