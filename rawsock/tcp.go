package rawsock

import (
	"net"
	"net/netip"
	"sync"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// TCPConfig configures host TCP sockets.
// It follows the builder pattern for optional configuration and validation.
type TCPConfig struct {
	// DialTimeout bounds Open. A timed-out Open is reported as would-block.
	// Default: 10 seconds (0 = no timeout)
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive period.
	// Default: 0 (operating system default); negative disables keep-alives
	KeepAlive time.Duration

	// LocalAddr optionally pins the local IPv4 address
	LocalAddr netip.Addr
}

// NewTCPConfig creates a TCPConfig with defaults.
func NewTCPConfig() *TCPConfig {
	return &TCPConfig{
		DialTimeout: 10 * time.Second,
	}
}

// WithDialTimeout sets the connect timeout.
func (c *TCPConfig) WithDialTimeout(timeout time.Duration) *TCPConfig {
	c.DialTimeout = timeout
	return c
}

// WithKeepAlive sets the keep-alive period.
func (c *TCPConfig) WithKeepAlive(period time.Duration) *TCPConfig {
	c.KeepAlive = period
	return c
}

// WithLocalAddr pins the local address.
func (c *TCPConfig) WithLocalAddr(addr netip.Addr) *TCPConfig {
	c.LocalAddr = addr
	return c
}

// Validate checks the configuration.
func (c *TCPConfig) Validate() error {
	if c.DialTimeout < 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("rawsock").
			With("dial_timeout", c.DialTimeout.String()).
			Errorf("dial timeout cannot be negative")
	}
	if c.LocalAddr.IsValid() && !c.LocalAddr.Unmap().Is4() {
		return oops.
			Code("INVALID_LOCAL_ADDR").
			In("rawsock").
			With("local_addr", c.LocalAddr.String()).
			Errorf("local address must be IPv4")
	}
	return nil
}

// TCP is a reusable host TCP socket. Each Open dials a fresh connection;
// Close drops it and leaves the socket ready for the next Open.
type TCP struct {
	config TCPConfig

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates a closed TCP socket.
func NewTCP(config *TCPConfig) (*TCP, error) {
	if config == nil {
		config = NewTCPConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TCP{config: *config}, nil
}

// NewTCPSockets builds the fixed socket set for a stack of capacity n.
func NewTCPSockets(n int, config *TCPConfig) ([]sockstack.RawSocket, error) {
	if n <= 0 {
		return nil, oops.
			Code("INVALID_CAPACITY").
			In("rawsock").
			With("capacity", n).
			Errorf("socket count must be positive")
	}

	socks := make([]sockstack.RawSocket, 0, n)
	for i := 0; i < n; i++ {
		s, err := NewTCP(config)
		if err != nil {
			return nil, err
		}
		socks = append(socks, s)
	}
	return socks, nil
}

// Open dials remote over IPv4.
func (t *TCP) Open(remote netip.AddrPort) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return oops.
			Code("ALREADY_OPEN").
			In("rawsock").
			With("remote", remote.String()).
			Wrapf(ErrAlreadyOpen, "open on a connected socket")
	}

	if !remote.Addr().Unmap().Is4() {
		return oops.
			Code("UNSUPPORTED_ADDRESS").
			In("rawsock").
			With("remote", remote.String()).
			Wrapf(errNotIPv4, "cannot dial")
	}

	conn, err := t.dialer().Dial("tcp4", remote.String())
	if err != nil {
		return oops.
			Code("DIAL_FAILED").
			In("rawsock").
			With("remote", remote.String()).
			With("timeout", t.config.DialTimeout.String()).
			Wrapf(err, "tcp dial failed")
	}

	t.conn = conn
	log.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"remote": remote.String(),
	}).Debug("tcp socket opened")
	return nil
}

func (t *TCP) dialer() *net.Dialer {
	d := &net.Dialer{
		Timeout:   t.config.DialTimeout,
		KeepAlive: t.config.KeepAlive,
	}
	if t.config.LocalAddr.IsValid() {
		d.LocalAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(t.config.LocalAddr.Unmap(), 0))
	}
	return d
}

// Read reads from the current connection.
func (t *TCP) Read(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	return conn.Read(p)
}

// Write writes to the current connection.
func (t *TCP) Write(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	return conn.Write(p)
}

// SetDeadline sets the read and write deadline of the current connection.
func (t *TCP) SetDeadline(d time.Time) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	return conn.SetDeadline(d)
}

// SetReadDeadline sets the read deadline of the current connection.
func (t *TCP) SetReadDeadline(d time.Time) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	return conn.SetReadDeadline(d)
}

// SetWriteDeadline sets the write deadline of the current connection.
func (t *TCP) SetWriteDeadline(d time.Time) error {
	conn, err := t.current()
	if err != nil {
		return err
	}
	return conn.SetWriteDeadline(d)
}

// LocalAddr returns the local address of the current connection, or nil.
func (t *TCP) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the current connection, or nil.
func (t *TCP) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// Close drops the current connection. Closing a closed socket is a no-op.
func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil {
		return oops.
			Code("CLOSE_FAILED").
			In("rawsock").
			Wrapf(err, "tcp close failed")
	}
	log.Debug("tcp socket closed")
	return nil
}

// Classify implements sockstack.Classifier.
func (t *TCP) Classify(err error) sockstack.Kind {
	return Classify(err)
}

func (t *TCP) current() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotOpen
	}
	return t.conn, nil
}
