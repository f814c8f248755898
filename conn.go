package sockstack

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Conn is an acquired, connected handle presented as an io.ReadWriteCloser.
// Closing it releases the handle back to its stack exactly once.
type Conn struct {
	stack  *Stack
	handle Handle
	remote netip.AddrPort

	// closed is set once Close has run
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error

	logger *logger.Logger
}

// Dial acquires a handle, connects it to remote and returns it as a Conn.
// If the connection cannot be established the handle is released before
// the error is returned.
func (st *Stack) Dial(remote netip.AddrPort) (*Conn, error) {
	h, err := st.Acquire()
	if err != nil {
		return nil, err
	}

	if err := st.Connect(h, remote); err != nil {
		if relErr := st.Release(h); relErr != nil {
			st.logger.WithError(relErr).WithField("handle", h.String()).
				Warn("error releasing handle after failed dial")
		}
		return nil, err
	}

	return &Conn{
		stack:  st,
		handle: h,
		remote: remote,
		logger: log,
	}, nil
}

// DialString parses an "ip:port" remote and dials it.
func (st *Stack) DialString(address string) (*Conn, error) {
	remote, err := ParseRemote(address)
	if err != nil {
		return nil, err
	}
	return st.Dial(remote)
}

// Read receives decrypted bytes through the handle.
func (c *Conn) Read(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, c.closedError(opReceive)
	}
	return c.stack.Receive(c.handle, b)
}

// Write sends bytes through the handle.
func (c *Conn) Write(b []byte) (int, error) {
	if c.closed.Load() {
		return 0, c.closedError(opSend)
	}
	return c.stack.Send(c.handle, b)
}

// Close releases the handle. Subsequent calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.stack.Release(c.handle)
		c.logger.WithField("handle", c.handle.String()).Debug("Conn closed")
	})
	return c.closeErr
}

// Handle returns the stack handle backing this Conn.
func (c *Conn) Handle() Handle {
	return c.handle
}

// RemoteAddr returns the remote endpoint.
func (c *Conn) RemoteAddr() net.Addr {
	return NewSocketAddr(c.handle, c.remote)
}

// closedError reports use of a Conn after Close. The handle may already
// belong to someone else, so the stack is not consulted.
func (c *Conn) closedError(op string) error {
	return newError(KindConnectionClosed, op, c.handle, oops.
		Code("CONN_CLOSED").
		In("sockstack").
		Errorf("connection is closed"))
}
