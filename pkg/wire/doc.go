// Package wire defines the register access protocol spoken between
// regbind clients and targets.
//
// A client sends a Request naming an operation, an address space (group),
// a start address, a core index and, for writes, the value. The target
// answers with a Response carrying a Status and the register values read.
//
// Messages are CBOR maps with small integer keys, encoded canonically so the
// same request always produces the same bytes:
//
//	Request  {1: messageId, 2: op, 3: group, 4: addr, 5: count, 6: core, 7: value}
//	Response {1: messageId, 2: status, 3: values, 4: message}
//
// OpReadMulti reads count consecutive registers starting at addr in one round
// trip; it is what the batching layer issues for contiguous runs.
package wire
