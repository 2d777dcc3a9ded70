// Package refresh drives periodic polling of bindings.
//
// A Provider holds a set of Refreshers (usually *binding.Binding) and calls
// OnRefresh on each of them once per interval. A pass fans out to every
// refresher concurrently and completes when all of them have answered, so
// passes never overlap: a tick that fires while a pass is still running is
// dropped.
//
// Bindings coalesce polls into reads already in flight, and the batcher in
// package register merges the reads of adjacent registers, so a pass over a
// whole register map usually costs a handful of round trips. MaxOpsPerSecond
// caps how fast refreshers are started when the target is slow.
package refresh
