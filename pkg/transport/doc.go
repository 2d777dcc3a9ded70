// Package transport carries register protocol messages between a console
// and a probe server.
//
// Every message travels in one frame: a 4-byte big-endian length followed
// by the CBOR payload from package wire. Frames larger than the configured
// maximum (64 KB by default) are rejected on both ends.
//
//	┌────────────────────────────────┐
//	│   CBOR request / response      │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// Server accepts connections and hands each frame to a callback; Dial
// opens the console side. KeepAlive watches a link with periodic pings
// and reports when too many go unanswered. Frames and connection state
// changes can be captured through a pkg/log Logger.
package transport
