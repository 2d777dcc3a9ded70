// Package register models a target's register map and batches reads of
// contiguous registers into multi-register reads.
//
// Registers are grouped by Group (an address space or device). Within a
// group, Blocks keeps registers in address-ascending runs of contiguous
// addresses. A run is extended at either end or merged with its neighbour
// as registers are added; runs are never split.
//
// A Batcher collects the reads requested for one block during a scheduling
// tick. When the tick's flush runs, every maximal run of adjacent requested
// registers is served by one ReadRegisters call, or by a single
// ReadRegister call when the run has one register:
//
//	requested: 10 11 12 .. 14
//	issued:    ReadRegisters(10, 3)  ReadRegister(14)
//
// RegisterTarget adapts a register to binding.Target so a binding.Binding
// can keep a register value synchronized, and FieldBinding exposes a bit
// field of a register binding.
package register
