package tlsengine

import (
	"net"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
)

// deadliner is implemented by raw sockets that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// rawConn presents a raw stack socket as the net.Conn crypto/tls expects.
// Deadlines are forwarded when the raw socket supports them and ignored
// otherwise.
type rawConn struct {
	sockstack.RawSocket
}

func newRawConn(raw sockstack.RawSocket) *rawConn {
	return &rawConn{RawSocket: raw}
}

func (c *rawConn) LocalAddr() net.Addr {
	if a, ok := c.RawSocket.(interface{ LocalAddr() net.Addr }); ok {
		if addr := a.LocalAddr(); addr != nil {
			return addr
		}
	}
	return rawAddr("local")
}

func (c *rawConn) RemoteAddr() net.Addr {
	if a, ok := c.RawSocket.(interface{ RemoteAddr() net.Addr }); ok {
		if addr := a.RemoteAddr(); addr != nil {
			return addr
		}
	}
	return rawAddr("remote")
}

func (c *rawConn) SetDeadline(t time.Time) error {
	if d, ok := c.RawSocket.(deadliner); ok {
		return d.SetDeadline(t)
	}
	return nil
}

func (c *rawConn) SetReadDeadline(t time.Time) error {
	if d, ok := c.RawSocket.(deadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

func (c *rawConn) SetWriteDeadline(t time.Time) error {
	if d, ok := c.RawSocket.(deadliner); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}

// rawAddr stands in for sockets that cannot report an address.
type rawAddr string

func (a rawAddr) Network() string { return "raw" }
func (a rawAddr) String() string  { return string(a) }
