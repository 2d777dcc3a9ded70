package register

import (
	"fmt"
	"sort"
)

// Block is a run of registers with contiguous addresses in one group.
// Registers()[i].Addr == Addr()+i.
type Block struct {
	group string
	addr  int64
	regs  []*Register
	next  *Block

	// pending holds the reads parked for the current tick, per core,
	// indexed by Addr-addr. Guarded by the Batcher's mutex.
	pending   map[int][]*pendingRead
	scheduled bool
}

func newBlock(r *Register) *Block {
	b := &Block{group: r.Group, addr: r.Addr, regs: []*Register{r}}
	r.block = b
	return b
}

// Group returns the block's group key.
func (b *Block) Group() string { return b.group }

// Addr returns the start address.
func (b *Block) Addr() int64 { return b.addr }

// Len returns the number of registers.
func (b *Block) Len() int { return len(b.regs) }

// End returns the address one past the last register.
func (b *Block) End() int64 { return b.addr + int64(len(b.regs)) }

// Next returns the following block in the group, or nil.
func (b *Block) Next() *Block { return b.next }

// Registers returns the registers in address order.
func (b *Block) Registers() []*Register {
	return append([]*Register(nil), b.regs...)
}

// At returns the register at addr, or nil.
func (b *Block) At(addr int64) *Register {
	if addr < b.addr || addr >= b.End() {
		return nil
	}
	return b.regs[addr-b.addr]
}

func (b *Block) prepend(r *Register) {
	b.regs = append([]*Register{r}, b.regs...)
	b.addr--
	r.block = b
}

func (b *Block) append(r *Register) {
	b.regs = append(b.regs, r)
	r.block = b
}

// absorb merges the directly following block into b.
func (b *Block) absorb(n *Block) {
	for _, r := range n.regs {
		r.block = b
	}
	b.regs = append(b.regs, n.regs...)
	b.next = n.next
}

func (b *Block) String() string {
	return fmt.Sprintf("%s[%#x..%#x]", b.group, b.addr, b.End()-1)
}

// Blocks indexes registers into per-group, address-ascending lists of
// blocks. Blocks in a group never overlap or touch.
//
// Blocks is built once per symbol table load and is not safe for
// concurrent mutation.
type Blocks struct {
	heads map[string]*Block
}

// NewBlocks returns an empty index.
func NewBlocks() *Blocks {
	return &Blocks{heads: make(map[string]*Block)}
}

// AddRegister inserts r, extending or merging blocks as needed.
func (bs *Blocks) AddRegister(r *Register) error {
	var prev *Block
	for b := bs.heads[r.Group]; b != nil; prev, b = b, b.next {
		switch {
		case r.Addr < b.addr-1:
			nb := newBlock(r)
			nb.next = b
			bs.link(prev, nb)
			return nil
		case r.Addr == b.addr-1:
			b.prepend(r)
			return nil
		case r.Addr < b.End():
			return fmt.Errorf("%w: %s collides with %s", ErrDuplicateAddress, r, b.At(r.Addr))
		case r.Addr == b.End():
			b.append(r)
			if b.next != nil && b.next.addr == b.End() {
				b.absorb(b.next)
			}
			return nil
		}
	}
	bs.link(prev, newBlock(r))
	return nil
}

func (bs *Blocks) link(prev, b *Block) {
	if prev == nil {
		bs.heads[b.group] = b
		return
	}
	prev.next = b
}

// Head returns the first block of group, or nil.
func (bs *Blocks) Head(group string) *Block {
	return bs.heads[group]
}

// Groups returns the group keys in sorted order.
func (bs *Blocks) Groups() []string {
	groups := make([]string, 0, len(bs.heads))
	for g := range bs.heads {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Find returns the register at addr in group, or nil.
func (bs *Blocks) Find(group string, addr int64) *Register {
	for b := bs.heads[group]; b != nil && b.addr <= addr; b = b.next {
		if r := b.At(addr); r != nil {
			return r
		}
	}
	return nil
}

// Count returns the number of blocks across all groups.
func (bs *Blocks) Count() int {
	n := 0
	for _, head := range bs.heads {
		for b := head; b != nil; b = b.next {
			n++
		}
	}
	return n
}
