package sockstack

import (
	"net/netip"
	"strconv"
	"sync"

	"github.com/go-i2p/go-sockstack/pool"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// Handle identifies one slot of a Stack. It is the slot index: unique while
// outstanding, recycled after Release, and carrying nothing from a previous
// occupant.
type Handle int

// NoHandle marks a socket that is not part of a stack.
const NoHandle Handle = -1

// String returns "sock#<index>".
func (h Handle) String() string {
	if h < 0 {
		return "sock#none"
	}
	return "sock#" + strconv.Itoa(int(h))
}

// Stack is a bounded secured-socket client stack. It owns a fixed set of
// SecuredSockets, hands out handles on Acquire and routes every
// handle-scoped operation to the slot behind the handle.
//
// Acquire and Release are serialized, so no two callers are ever granted the
// same slot. Send and Receive on distinct handles do not block each other.
type Stack struct {
	// slots is the fixed socket table plus per-slot usage markers
	slots *pool.Slots[*SecuredSocket]

	// shutdownManager for coordinated shutdown (optional)
	shutdownManager *ShutdownManager
	smMutex         sync.Mutex

	logger *logger.Logger
}

// NewStack creates a stack over pre-built sockets. The number of sockets is
// the stack's capacity and never changes. A socket can belong to one stack only.
func NewStack(sockets ...*SecuredSocket) (*Stack, error) {
	if err := validateStackSockets(sockets); err != nil {
		return nil, err
	}

	items := make([]*SecuredSocket, len(sockets))
	copy(items, sockets)

	slots, err := pool.NewSlots(items)
	if err != nil {
		return nil, oops.
			Code("INVALID_CAPACITY").
			In("stack").
			With("capacity", len(items)).
			Wrapf(err, "cannot create socket table")
	}

	for i, s := range items {
		s.handle = Handle(i)
	}

	st := &Stack{
		slots:  slots,
		logger: log,
	}

	st.logger.WithField("capacity", len(items)).Debug("Stack created")
	return st, nil
}

// NewStackFromRaw builds one SecuredSocket per raw socket, all sharing the
// same engine and identity, and returns a stack over them.
func NewStackFromRaw(raws []RawSocket, engine Engine, config *SocketConfig) (*Stack, error) {
	sockets := make([]*SecuredSocket, 0, len(raws))
	for i, raw := range raws {
		s, err := NewSecuredSocket(raw, engine, config)
		if err != nil {
			return nil, oops.
				Code("SOCKET_INIT_FAILED").
				In("stack").
				With("index", i).
				Wrapf(err, "failed to create socket %d", i)
		}
		sockets = append(sockets, s)
	}
	return NewStack(sockets...)
}

// Acquire returns the handle of the first free slot, found by linear scan.
// The slot is reset to idle. When every slot is in use Acquire fails with
// KindExhausted immediately; it never waits.
func (st *Stack) Acquire() (Handle, error) {
	idx, sock, ok := st.slots.Acquire()
	if !ok {
		if st.slots.Closed() {
			return NoHandle, newError(KindConnectionClosed, opAcquire, NoHandle, oops.
				Code("STACK_CLOSED").
				In("stack").
				Errorf("stack is closed"))
		}
		return NoHandle, newError(KindExhausted, opAcquire, NoHandle, oops.
			Code("POOL_EXHAUSTED").
			In("stack").
			With("capacity", st.slots.Capacity()).
			Errorf("all %d sockets are in use", st.slots.Capacity()))
	}

	sock.reset()

	h := Handle(idx)
	st.logger.WithFields(logrus.Fields{
		"handle": h.String(),
		"in_use": st.slots.Stats()["in_use"],
	}).Debug("handle acquired")
	return h, nil
}

// Connect connects the socket behind h to remote and completes the secured
// handshake. Only IPv4 remotes are supported.
func (st *Stack) Connect(h Handle, remote netip.AddrPort) error {
	sock, err := st.lookup(opConnect, h)
	if err != nil {
		return err
	}
	return sock.Connect(remote)
}

// Send writes b through the socket behind h and returns the number of bytes
// written. A KindWouldBlock error means nothing moved and the call may be
// retried.
func (st *Stack) Send(h Handle, b []byte) (int, error) {
	sock, err := st.lookup(opSend, h)
	if err != nil {
		return 0, err
	}
	return sock.Write(b)
}

// Receive reads into b from the socket behind h and returns the number of
// bytes read. A KindWouldBlock error means nothing moved and the call may be
// retried.
func (st *Stack) Receive(h Handle, b []byte) (int, error) {
	sock, err := st.lookup(opReceive, h)
	if err != nil {
		return 0, err
	}
	return sock.Read(b)
}

// Release closes the socket behind h and returns the slot to the free set.
// The slot is freed even when closing reports an error, and releasing a
// handle twice is harmless.
func (st *Stack) Release(h Handle) error {
	sock, err := st.slots.Item(int(h))
	if err != nil {
		return st.invalidHandle(opRelease, h, err)
	}

	if !st.slots.InUse(int(h)) {
		st.logger.WithField("handle", h.String()).Debug("release of a free handle ignored")
		return nil
	}

	closeErr := sock.Close()

	if err := st.slots.Release(int(h)); err != nil {
		return st.invalidHandle(opRelease, h, err)
	}

	st.logger.WithFields(logrus.Fields{
		"handle": h.String(),
		"in_use": st.slots.Stats()["in_use"],
	}).Debug("handle released")
	return closeErr
}

// Socket returns the slot behind a currently acquired handle.
func (st *Stack) Socket(h Handle) (*SecuredSocket, error) {
	return st.lookup("socket", h)
}

// Capacity returns the fixed number of slots.
func (st *Stack) Capacity() int {
	return st.slots.Capacity()
}

// Stats returns stack statistics: capacity, in_use and available.
func (st *Stack) Stats() map[string]int {
	return st.slots.Stats()
}

// Close stops further acquisition and releases every outstanding handle.
// It returns the first error reported while closing sockets.
func (st *Stack) Close() error {
	st.slots.Close()

	var firstError error
	for _, idx := range st.slots.Used() {
		if err := st.Release(Handle(idx)); err != nil {
			st.logger.WithError(err).WithField("handle", Handle(idx).String()).
				Warn("error releasing handle during stack close")
			if firstError == nil {
				firstError = err
			}
		}
	}

	st.smMutex.Lock()
	sm := st.shutdownManager
	st.shutdownManager = nil
	st.smMutex.Unlock()
	if sm != nil {
		sm.UnregisterStack(st)
	}

	st.logger.Debug("Stack closed")
	return firstError
}

// SetShutdownManager sets the shutdown manager for this stack.
// If a shutdown manager is set, the stack is registered for graceful
// shutdown coordination.
func (st *Stack) SetShutdownManager(sm *ShutdownManager) {
	st.smMutex.Lock()
	st.shutdownManager = sm
	st.smMutex.Unlock()
	if sm != nil {
		sm.RegisterStack(st)
	}
}

// lookup returns the socket behind a handle that is currently in use.
func (st *Stack) lookup(op string, h Handle) (*SecuredSocket, error) {
	sock, err := st.slots.Get(int(h))
	if err != nil {
		return nil, st.invalidHandle(op, h, err)
	}
	return sock, nil
}

// invalidHandle reports a handle that is out of range or not acquired.
// Using such a handle is a caller bug, never a transient condition.
func (st *Stack) invalidHandle(op string, h Handle, cause error) error {
	return newError(KindOther, op, h, oops.
		Code("INVALID_HANDLE").
		In("stack").
		With("capacity", st.slots.Capacity()).
		Wrapf(cause, "invalid handle %s", h))
}

// validateStackSockets checks the sockets handed to NewStack.
func validateStackSockets(sockets []*SecuredSocket) error {
	if len(sockets) == 0 {
		return oops.
			Code("INVALID_CAPACITY").
			In("stack").
			Errorf("a stack needs at least one socket")
	}

	for i, s := range sockets {
		if s == nil {
			return oops.
				Code("INVALID_SOCKET").
				In("stack").
				With("index", i).
				Errorf("socket %d is nil", i)
		}
		if s.handle != NoHandle {
			return oops.
				Code("SOCKET_IN_USE").
				In("stack").
				With("index", i).
				With("handle", s.handle.String()).
				Errorf("socket %d already belongs to a stack", i)
		}
	}

	return nil
}
