// Package log provides structured event capture for regbind.
//
// Operational logging goes through log/slog. This package is the second,
// machine-readable channel: every frame, decoded request, binding state
// transition, target I/O and batched read can be recorded as an Event and
// written to a CBOR file for later inspection with regbind-log.
//
// # Basic Usage
//
//	// Development: mirror events to the console
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture to file
//	fl, _ := log.NewFileLogger("/tmp/session.rlog")
//	cfg.EventLogger = fl
//
//	// Both
//	cfg.EventLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
// Events are tagged with the layer that produced them:
//   - Transport: raw length-prefixed frames (FrameEvent)
//   - Wire: decoded register requests and responses (MessageEvent)
//   - Binding: binding state transitions and target I/O (StateChangeEvent, IOEvent)
//   - Batch: multi-register reads issued by the batcher (BatchEvent)
//
// # File Format
//
// Files are a plain concatenation of CBOR-encoded events with integer map
// keys, conventionally named *.rlog.
package log
