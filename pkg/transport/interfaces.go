package transport

import "net"

// ServerConnection is what a message handler needs from one accepted
// connection. ServerConn implements it; tests substitute recorders.
type ServerConnection interface {
	RemoteAddr() net.Addr
	Send(data []byte) error
	Close() error
}

var _ ServerConnection = (*ServerConn)(nil)
