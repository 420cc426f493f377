// Package transport provides concrete, swappable vnc.Transport
// implementations. The core vnc package never imports this package;
// embedders wire one of these in themselves.
package transport

import "net"

// TCP wraps a net.Conn dialed to an RFB server. net.Conn already
// satisfies io.Reader/io.Writer, so this exists mainly to give the
// direct-socket case a name alongside WebSocket and a single place to
// hang a Close that embedders can defer.
type TCP struct {
	net.Conn
}

// Dial connects to an RFB server over plain TCP.
func Dial(addr string) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCP{Conn: conn}, nil
}
