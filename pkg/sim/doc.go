// Package sim provides an in-memory register target.
//
// A Memory holds one value per (group, core, address) for every register
// of a symbol table. It enforces read-only qualifiers and register widths,
// and can add latency or inject faults so that binding behavior under slow
// or failing probes can be exercised without hardware. Memory implements
// register.Reader, register.MultiReader and register.Writer for in-process
// use and is the backend of the probe server in cmd/regbind-sim.
package sim
