package rawsock

import (
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/stacks"
)

// SeqsConfig configures sockets over an embedded seqs port stack.
type SeqsConfig struct {
	// TxBufSize and RxBufSize size each socket's buffers. They are allocated
	// once when the socket set is built.
	TxBufSize uint16
	RxBufSize uint16

	// RouterAddr is the gateway all remotes are reached through.
	RouterAddr netip.Addr

	// RouterMAC skips ARP resolution when non-zero.
	RouterMAC [6]byte

	// EstablishTimeout bounds Open. Default: 10 seconds
	EstablishTimeout time.Duration

	// PollInterval is how often connection state is checked during Open.
	// Default: 5 milliseconds
	PollInterval time.Duration
}

// NewSeqsConfig creates a SeqsConfig with defaults for the given gateway.
func NewSeqsConfig(router netip.Addr) *SeqsConfig {
	return &SeqsConfig{
		TxBufSize:        2048,
		RxBufSize:        2048,
		RouterAddr:       router,
		EstablishTimeout: 10 * time.Second,
		PollInterval:     5 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *SeqsConfig) Validate() error {
	if c.TxBufSize == 0 || c.RxBufSize == 0 {
		return oops.
			Code("INVALID_BUFFER_SIZE").
			In("rawsock").
			With("tx", c.TxBufSize).
			With("rx", c.RxBufSize).
			Errorf("buffer sizes must be positive")
	}
	if c.RouterMAC == ([6]byte{}) && !c.RouterAddr.Unmap().Is4() {
		return oops.
			Code("INVALID_ROUTER").
			In("rawsock").
			With("router", c.RouterAddr.String()).
			Errorf("an IPv4 router address or router MAC is required")
	}
	if c.EstablishTimeout <= 0 || c.PollInterval <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("rawsock").
			With("establish_timeout", c.EstablishTimeout.String()).
			With("poll_interval", c.PollInterval.String()).
			Errorf("timeouts must be positive")
	}
	return nil
}

// ephemeral port counter shared by every seqs socket
var nextLocalPort atomic.Uint32

func init() {
	nextLocalPort.Store(uint32(time.Now().UnixNano() % 16384))
}

// localPort returns a port from the dynamic range 49152-65535.
func localPort() uint16 {
	return uint16(49152 + nextLocalPort.Add(1)%16384)
}

// Seqs is a raw TCP socket on a seqs port stack. The underlying TCPConn and
// its buffers are allocated once and reused for every connection.
type Seqs struct {
	stack  *stacks.PortStack
	conn   *stacks.TCPConn
	config SeqsConfig
	router *routerCache

	mu   sync.Mutex
	open bool
}

// routerCache holds the gateway MAC resolved for a socket set.
type routerCache struct {
	mu  sync.Mutex
	mac [6]byte
	ok  bool
}

// NewSeqsSockets builds n sockets sharing stack and gateway.
func NewSeqsSockets(stack *stacks.PortStack, n int, config *SeqsConfig) ([]sockstack.RawSocket, error) {
	if stack == nil {
		return nil, oops.
			Code("INVALID_STACK").
			In("rawsock").
			Errorf("port stack cannot be nil")
	}
	if n <= 0 {
		return nil, oops.
			Code("INVALID_CAPACITY").
			In("rawsock").
			With("capacity", n).
			Errorf("socket count must be positive")
	}
	if config == nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("rawsock").
			Errorf("seqs config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	router := &routerCache{}
	if config.RouterMAC != ([6]byte{}) {
		router.mac, router.ok = config.RouterMAC, true
	}

	socks := make([]sockstack.RawSocket, 0, n)
	for i := 0; i < n; i++ {
		conn, err := stacks.NewTCPConn(stack, stacks.TCPConnConfig{
			TxBufSize: config.TxBufSize,
			RxBufSize: config.RxBufSize,
		})
		if err != nil {
			return nil, oops.
				Code("SOCKET_ALLOC_FAILED").
				In("rawsock").
				With("index", i).
				Wrapf(err, "failed to allocate seqs tcp conn")
		}
		socks = append(socks, &Seqs{
			stack:  stack,
			conn:   conn,
			config: *config,
			router: router,
		})
	}
	return socks, nil
}

// Open dials remote and waits for the connection to be established.
func (s *Seqs) Open(remote netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return oops.
			Code("ALREADY_OPEN").
			In("rawsock").
			With("remote", remote.String()).
			Wrapf(ErrAlreadyOpen, "open on a connected socket")
	}

	addr := remote.Addr().Unmap()
	if !addr.Is4() {
		return oops.
			Code("UNSUPPORTED_ADDRESS").
			In("rawsock").
			With("remote", remote.String()).
			Wrapf(errNotIPv4, "cannot dial")
	}
	remote = netip.AddrPortFrom(addr, remote.Port())

	mac, err := s.routerMAC()
	if err != nil {
		return err
	}

	// A previous connection may still be closing.
	if err := s.release(); err != nil {
		return err
	}

	port := localPort()
	iss := seqs.Value(uint32(time.Now().UnixNano()))
	if err := s.conn.OpenDialTCP(port, mac, remote, iss); err != nil {
		return oops.
			Code("DIAL_FAILED").
			In("rawsock").
			With("remote", remote.String()).
			With("local_port", port).
			Wrapf(err, "seqs dial failed")
	}

	if err := s.awaitEstablished(remote); err != nil {
		if rerr := s.release(); rerr != nil {
			log.WithError(rerr).Warn("seqs socket still closing after failed open")
		}
		return err
	}

	s.open = true
	log.WithFields(logrus.Fields{
		"local_port": port,
		"remote":     remote.String(),
	}).Debug("seqs socket opened")
	return nil
}

// awaitEstablished polls the connection state until it is established,
// closed or the establish timeout passes.
func (s *Seqs) awaitEstablished(remote netip.AddrPort) error {
	deadline := time.Now().Add(s.config.EstablishTimeout)
	for {
		switch s.conn.State() {
		case seqs.StateEstablished:
			return nil
		case seqs.StateClosed:
			return oops.
				Code("CONN_REFUSED").
				In("rawsock").
				With("remote", remote.String()).
				Wrapf(ErrNotOpen, "connection closed during establishment")
		}

		if time.Now().After(deadline) {
			return oops.
				Code("ESTABLISH_TIMEOUT").
				In("rawsock").
				With("remote", remote.String()).
				With("timeout", s.config.EstablishTimeout.String()).
				Wrapf(os.ErrDeadlineExceeded, "connection not established in time")
		}
		time.Sleep(s.config.PollInterval)
	}
}

// release closes the TCPConn and polls until the port stack has torn it
// down, giving up after the establish timeout. The stack's idle abort
// bounds how long a closing connection can linger.
func (s *Seqs) release() error {
	if s.conn.State().IsClosed() {
		return nil
	}
	// Close errors on half-closed states; the state poll below covers them.
	_ = s.conn.Close()

	deadline := time.Now().Add(s.config.EstablishTimeout)
	for !s.conn.State().IsClosed() {
		if time.Now().After(deadline) {
			return oops.
				Code("CLOSE_TIMEOUT").
				In("rawsock").
				With("state", s.conn.State().String()).
				With("timeout", s.config.EstablishTimeout.String()).
				Errorf("seqs connection did not close in time")
		}
		time.Sleep(s.config.PollInterval)
	}
	return nil
}

// routerMAC returns the gateway hardware address, resolving it by ARP on
// first use.
func (s *Seqs) routerMAC() ([6]byte, error) {
	s.router.mu.Lock()
	defer s.router.mu.Unlock()

	if s.router.ok {
		return s.router.mac, nil
	}

	arpc := s.stack.ARP()
	arpc.Abort()
	if err := arpc.BeginResolve(s.config.RouterAddr); err != nil {
		return [6]byte{}, oops.
			Code("ARP_FAILED").
			In("rawsock").
			With("router", s.config.RouterAddr.String()).
			Wrapf(err, "arp request failed")
	}

	const maxretries = 20
	for retries := maxretries; !arpc.IsDone(); retries-- {
		if retries == 0 {
			return [6]byte{}, oops.
				Code("ARP_TIMEOUT").
				In("rawsock").
				With("router", s.config.RouterAddr.String()).
				Wrapf(os.ErrDeadlineExceeded, "arp timed out")
		}
		time.Sleep(time.Second / maxretries)
	}

	_, hw, err := arpc.ResultAs6()
	if err != nil {
		return [6]byte{}, oops.
			Code("ARP_FAILED").
			In("rawsock").
			With("router", s.config.RouterAddr.String()).
			Wrapf(err, "arp resolution failed")
	}

	s.router.mac, s.router.ok = hw, true
	return hw, nil
}

// Read reads from the current connection.
func (s *Seqs) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, ErrNotOpen
	}
	return s.conn.Read(p)
}

// Write writes to the current connection.
func (s *Seqs) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, ErrNotOpen
	}
	return s.conn.Write(p)
}

// Close closes the current connection and waits for the port stack to
// release it so the socket can be reopened.
func (s *Seqs) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	if err := s.release(); err != nil {
		return err
	}
	log.Debug("seqs socket closed")
	return nil
}

// Classify implements sockstack.Classifier.
func (s *Seqs) Classify(err error) sockstack.Kind {
	return Classify(err)
}

func (s *Seqs) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
