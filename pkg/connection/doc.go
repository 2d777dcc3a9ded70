// Package connection tracks the state of the link to a debug probe.
//
// A Manager owns the connect function for one probe and moves through
// DISCONNECTED, CONNECTING, CONNECTED and RECONNECTING until it is closed.
// When the link drops and auto-reconnect is enabled, a background loop
// retries with exponential backoff:
//
//  1. Initial delay: 250 milliseconds
//  2. Doubling: 500ms, 1s, 2s, 4s, 8s
//  3. Maximum delay: 10 seconds, repeated until the probe answers
//  4. Reset to the initial delay after a successful connect
//
// Each delay carries up to 25% random jitter so that several consoles
// attached to one probe server do not retry in lockstep.
//
// # Bindings
//
// A Manager is the link half of a binding target: IsConnected and
// WhenConnected let bindings hold suppressible writes until the probe is
// back. A Watchdog goes one step further and puts a set of bindings into
// their error state while the link is down, releasing them on reconnect.
package connection
