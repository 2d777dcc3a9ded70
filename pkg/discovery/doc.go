// Package discovery finds register probes on the local network with
// mDNS/DNS-SD.
//
// A probe server advertises one instance of _regbind._tcp per target it
// serves. The instance name is the probe's display name, or regbind-<id>
// when none is set. TXT records carry:
//
//	id      probe ID (required, at most 32 characters)
//	name    display name (optional)
//	target  target name from the symbol table (optional)
//	groups  comma-separated register groups (optional)
//	cores   number of cores (optional)
//
// A Browser reports probes as they appear and disappear. Answers arriving on
// several interfaces are merged into one ProbeService per instance, and a
// probe is reported gone only when its last address is withdrawn.
package discovery
