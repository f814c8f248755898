package sockstack

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/go-i2p/go-sockstack/internal"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// SocketState is the lifecycle state of a slot.
type SocketState = internal.SocketState

// Slot lifecycle states.
const (
	StateIdle        = internal.StateIdle
	StateHandshaking = internal.StateHandshaking
	StateSecured     = internal.StateSecured
	StateFailed      = internal.StateFailed
	StateClosed      = internal.StateClosed
)

// SecuredSocket is one stack slot. It wraps exactly one raw transport socket
// and, once connected, the secured session layered on top of it.
// Slots are created once and recycled; they are never destroyed while the
// stack is in use.
type SecuredSocket struct {
	// link is either the raw socket or the session that consumed it
	link link

	// config is the fixed identity of this slot (peer name, trust, version)
	config *SocketConfig

	// engine builds the secured session over the raw socket
	engine Engine

	// handle is the slot index assigned by the owning stack
	handle Handle

	// remote is the endpoint of the current connection
	remote netip.AddrPort

	// state tracks the connection lifecycle
	state internal.SocketState

	// metrics tracks the current occupant's traffic
	metrics *internal.SocketMetrics

	// mu serializes state transitions. Connect holds it for the whole
	// handshake; Read and Write only hold it to fetch the session.
	mu sync.Mutex

	logger *logger.Logger
}

// NewSecuredSocket creates a slot from a raw socket, an engine and the fixed
// socket identity. The config is copied.
func NewSecuredSocket(raw RawSocket, engine Engine, config *SocketConfig) (*SecuredSocket, error) {
	if err := validateNewSocketParams(raw, engine, config); err != nil {
		return nil, err
	}

	s := &SecuredSocket{
		link:    rawLink{sock: raw},
		config:  config.clone(),
		engine:  engine,
		handle:  NoHandle,
		state:   internal.StateIdle,
		metrics: internal.NewSocketMetrics(),
		logger:  log,
	}

	s.logger.WithField("server_name", s.config.ServerName).Debug("SecuredSocket created")
	return s, nil
}

// Connect opens the raw transport connection to remote and upgrades it to a
// secured session, running the handshake to completion before returning.
//
// A non-IPv4 remote fails with KindUnsupported before anything is touched.
// If the raw connection fails the socket stays idle and the classified raw
// error is returned. Once the raw socket has been handed to the engine, any
// failure is terminal: the socket must be closed before it can be used again.
// Calling Connect on a socket that is handshaking, secured or failed is a
// caller contract violation and reported as KindOther.
func (s *SecuredSocket) Connect(remote netip.AddrPort) error {
	remote, err := requireIPv4(opConnect, s.handle, remote)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateConnectState(); err != nil {
		return err
	}

	raw, ok := s.link.(rawLink)
	if !ok || raw.sock == nil {
		return newError(KindOther, opConnect, s.handle, oops.
			Code("TRANSPORT_LOST").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("slot does not own a raw socket"))
	}

	if err := raw.sock.Open(remote); err != nil {
		return newError(raw.sock.Classify(err), opConnect, s.handle, oops.
			Code("RAW_OPEN_FAILED").
			In("sockstack").
			With("remote", remote.String()).
			Wrapf(err, "raw transport connect failed"))
	}

	s.remote = remote
	return s.secure(raw.sock)
}

// secure hands the connected raw socket to the engine and runs the handshake.
func (s *SecuredSocket) secure(raw RawSocket) error {
	s.setState(internal.StateHandshaking)
	s.metrics.SetHandshakeStart()

	sess, err := s.engine.NewSession(raw, s.config.peer())
	if err != nil {
		// The engine refused the raw socket, so it is still ours; it stays
		// connected until Close.
		s.setState(internal.StateFailed)
		return newError(terminal(s.engine.Classify(err)), opConnect, s.handle, oops.
			Code("SESSION_INIT_FAILED").
			In("sockstack").
			With("server_name", s.config.ServerName).
			With("remote", s.remote.String()).
			Wrapf(err, "failed to create secured session"))
	}

	// From here on the raw socket belongs to the session.
	s.link = sessionLink{sess: sess}

	if err := sess.Handshake(); err != nil {
		s.setState(internal.StateFailed)
		return newError(terminal(s.engine.Classify(err)), opConnect, s.handle, oops.
			Code("HANDSHAKE_FAILED").
			In("sockstack").
			With("server_name", s.config.ServerName).
			With("remote", s.remote.String()).
			Wrapf(err, "secured handshake failed"))
	}

	s.metrics.SetHandshakeEnd()
	s.setState(internal.StateSecured)
	s.logger.WithFields(logrus.Fields{
		"handle":      s.handle.String(),
		"remote":      s.remote.String(),
		"server_name": s.config.ServerName,
		"duration":    s.metrics.HandshakeDuration(),
	}).Info("secured session established")
	return nil
}

// validateConnectState checks the socket can start a connection.
func (s *SecuredSocket) validateConnectState() error {
	switch s.state {
	case internal.StateIdle:
		return nil
	case internal.StateClosed:
		return newError(KindConnectionClosed, opConnect, s.handle, oops.
			Code("CONN_CLOSED").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("socket is closed"))
	default:
		return newError(KindOther, opConnect, s.handle, oops.
			Code("ALREADY_CONNECTED").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("connect called on a socket that is not idle; close it first"))
	}
}

// Read reads decrypted bytes from the secured session.
// It fails with KindNotConnected unless the socket is secured.
func (s *SecuredSocket) Read(b []byte) (int, error) {
	sess, err := s.session(opReceive)
	if err != nil {
		return 0, err
	}

	n, err := sess.Read(b)
	if n > 0 {
		s.metrics.AddBytesRead(int64(n))
	}
	if err != nil {
		return n, s.sessionError(opReceive, "SESSION_READ_FAILED", err)
	}

	s.logger.WithFields(logrus.Fields{
		"handle": s.handle.String(),
		"n":      n,
	}).Trace("data received")
	return n, nil
}

// Write writes bytes through the secured session.
// It fails with KindNotConnected unless the socket is secured.
func (s *SecuredSocket) Write(b []byte) (int, error) {
	sess, err := s.session(opSend)
	if err != nil {
		return 0, err
	}

	n, err := sess.Write(b)
	if n > 0 {
		s.metrics.AddBytesWritten(int64(n))
	}
	if err != nil {
		return n, s.sessionError(opSend, "SESSION_WRITE_FAILED", err)
	}

	s.logger.WithFields(logrus.Fields{
		"handle": s.handle.String(),
		"n":      n,
	}).Trace("data sent")
	return n, nil
}

// session returns the secured session if the socket is in the secured state.
func (s *SecuredSocket) session(op string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case internal.StateSecured:
		if l, ok := s.link.(sessionLink); ok {
			return l.sess, nil
		}
		return nil, newError(KindOther, op, s.handle, oops.
			Code("TRANSPORT_LOST").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("secured socket has no session"))
	case internal.StateClosed:
		return nil, newError(KindConnectionClosed, op, s.handle, oops.
			Code("CONN_CLOSED").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("socket is closed"))
	case internal.StateFailed:
		return nil, newError(KindNotConnected, op, s.handle, oops.
			Code("HANDSHAKE_FAILED").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("handshake failed; socket must be closed"))
	default:
		return nil, newError(KindNotConnected, op, s.handle, oops.
			Code("NOT_CONNECTED").
			In("sockstack").
			With("state", s.state.String()).
			Errorf("socket is not connected"))
	}
}

// sessionError classifies an error from the secured path.
func (s *SecuredSocket) sessionError(op, code string, err error) error {
	return newError(s.engine.Classify(err), op, s.handle, oops.
		Code(code).
		In("sockstack").
		With("handle", s.handle.String()).
		Wrapf(err, "secured %s failed", op))
}

// Close releases the socket's connection resources. It is always legal,
// advisory (no shutdown exchange with the peer) and idempotent: the second
// call returns nil. Any session is discarded and the raw socket reclaimed.
func (s *SecuredSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// closeLocked closes the socket; s.mu must be held.
func (s *SecuredSocket) closeLocked() error {
	if s.state == internal.StateClosed {
		return nil // Already closed
	}

	prev := s.state
	s.setState(internal.StateClosed)

	switch l := s.link.(type) {
	case sessionLink:
		raw, err := l.sess.Close()
		s.link = rawLink{sock: raw}
		if err != nil {
			return newError(s.engine.Classify(err), opClose, s.handle, oops.
				Code("SESSION_CLOSE_FAILED").
				In("sockstack").
				With("prev_state", prev.String()).
				Wrapf(err, "failed to close secured session"))
		}
	case rawLink:
		// Only a failed session setup leaves an opened raw socket behind.
		if prev == internal.StateFailed && l.sock != nil {
			if err := l.sock.Close(); err != nil {
				return newError(l.sock.Classify(err), opClose, s.handle, oops.
					Code("RAW_CLOSE_FAILED").
					In("sockstack").
					With("prev_state", prev.String()).
					Wrapf(err, "failed to close raw socket"))
			}
		}
	}

	return nil
}

// reset prepares the slot for a new occupant: whatever the previous one did,
// the slot comes back idle with fresh metrics.
func (s *SecuredSocket) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != internal.StateIdle && s.state != internal.StateClosed {
		if err := s.closeLocked(); err != nil {
			s.logger.WithError(err).WithField("handle", s.handle.String()).
				Warn("error closing slot during reset")
		}
	}

	s.remote = netip.AddrPort{}
	s.metrics.Reset()
	s.setState(internal.StateIdle)
}

// GetSocketState returns the current socket state
func (s *SecuredSocket) GetSocketState() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetSocketMetrics returns the current occupant's statistics
func (s *SecuredSocket) GetSocketMetrics() (bytesRead, bytesWritten int64, handshakeDuration time.Duration) {
	return s.metrics.GetStats()
}

// Handle returns the slot handle, or NoHandle if the socket is not part of a stack.
func (s *SecuredSocket) Handle() Handle {
	return s.handle
}

// ServerName returns the fixed peer name of this slot.
func (s *SecuredSocket) ServerName() string {
	return s.config.ServerName
}

// RemoteAddr returns the remote address of the current connection.
func (s *SecuredSocket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewSocketAddr(s.handle, s.remote)
}

// setState sets the socket state; s.mu must be held.
func (s *SecuredSocket) setState(newState internal.SocketState) {
	oldState := s.state
	s.state = newState

	s.logger.WithFields(logrus.Fields{
		"handle":    s.handle.String(),
		"old_state": oldState.String(),
		"new_state": newState.String(),
	}).Debug("Socket state changed")
}

// validateNewSocketParams validates the parameters for creating a new SecuredSocket.
func validateNewSocketParams(raw RawSocket, engine Engine, config *SocketConfig) error {
	if raw == nil {
		return oops.
			Code("INVALID_SOCKET").
			In("sockstack").
			Errorf("raw socket cannot be nil")
	}

	if engine == nil {
		return oops.
			Code("INVALID_ENGINE").
			In("sockstack").
			Errorf("session engine cannot be nil")
	}

	if config == nil {
		return oops.
			Code("INVALID_CONFIG").
			In("sockstack").
			Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return oops.
			Code("INVALID_CONFIG").
			In("sockstack").
			Wrapf(err, "config validation failed")
	}

	return nil
}
