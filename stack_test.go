package sockstack

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleString(t *testing.T) {
	assert.Equal(t, "sock#0", Handle(0).String())
	assert.Equal(t, "sock#12", Handle(12).String())
	assert.Equal(t, "sock#none", NoHandle.String())
}

func TestNewStack(t *testing.T) {
	t.Run("assigns handles in order", func(t *testing.T) {
		st, _, _ := testStack(t, 3)
		assert.Equal(t, 3, st.Capacity())
		for i := 0; i < 3; i++ {
			sock, err := st.slots.Item(i)
			require.NoError(t, err)
			assert.Equal(t, Handle(i), sock.Handle())
		}
	})

	t.Run("empty stack rejected", func(t *testing.T) {
		_, err := NewStack()
		require.Error(t, err)
		assert.Equal(t, "INVALID_CAPACITY", errCode(err))
	})

	t.Run("nil socket rejected", func(t *testing.T) {
		_, err := NewStack(nil)
		require.Error(t, err)
		assert.Equal(t, "INVALID_SOCKET", errCode(err))
	})

	t.Run("socket cannot join two stacks", func(t *testing.T) {
		sock, err := NewSecuredSocket(&mockRaw{}, &mockEngine{}, testConfig())
		require.NoError(t, err)

		_, err = NewStack(sock)
		require.NoError(t, err)

		_, err = NewStack(sock)
		require.Error(t, err)
		assert.Equal(t, "SOCKET_IN_USE", errCode(err))
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		_, err := NewStackFromRaw([]RawSocket{&mockRaw{}}, &mockEngine{}, NewSocketConfig(""))
		require.Error(t, err)
		assert.Equal(t, "INVALID_SERVER_NAME", errCode(err))
	})
}

func TestAcquireUpToCapacity(t *testing.T) {
	const n = 4
	st, raws, _ := testStack(t, n)

	seen := make(map[Handle]bool)
	for i := 0; i < n; i++ {
		h, err := st.Acquire()
		require.NoError(t, err)
		assert.Equal(t, Handle(i), h, "first free slot by linear scan")
		assert.False(t, seen[h], "handle handed out twice")
		seen[h] = true
	}

	h, err := st.Acquire()
	require.Error(t, err)
	assert.Equal(t, NoHandle, h)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, KindExhausted, KindOf(err))
	assert.Equal(t, "POOL_EXHAUSTED", errCode(err))

	// Exhaustion is decided locally.
	for _, raw := range raws {
		assert.False(t, raw.touched())
	}

	assert.Equal(t, map[string]int{"capacity": n, "in_use": n, "available": 0}, st.Stats())
}

func TestAcquireFirstFitAfterRelease(t *testing.T) {
	st, _, _ := testStack(t, 3)

	for i := 0; i < 3; i++ {
		_, err := st.Acquire()
		require.NoError(t, err)
	}

	require.NoError(t, st.Release(1))
	require.NoError(t, st.Release(0))

	h, err := st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Handle(0), h)

	h, err = st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)
}

func TestReleaseThenAcquireReturnsFreshSlot(t *testing.T) {
	st, _, engine := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	_, err = st.Send(h, []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, st.Release(h))

	h2, err := st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	sock, err := st.Socket(h2)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sock.GetSocketState())

	read, written, hs := sock.GetSocketMetrics()
	assert.Zero(t, read)
	assert.Zero(t, written)
	assert.Zero(t, hs)
	assert.Equal(t, "sock://0", sock.RemoteAddr().String())

	// The reused slot can connect again with the reclaimed raw socket.
	require.NoError(t, st.Connect(h2, testRemote))
	assert.Len(t, engine.sessions, 2)
}

func TestConnectIPv6Unsupported(t *testing.T) {
	st, raws, engine := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)

	err = st.Connect(h, netip.MustParseAddrPort("[2001:db8::1]:8883"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "UNSUPPORTED_ADDRESS", errCode(err))

	assert.False(t, raws[0].touched(), "raw transport must not be touched")
	assert.Empty(t, engine.peers)

	sock, err := st.Socket(h)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sock.GetSocketState())
}

func TestConnectIPv4MappedAccepted(t *testing.T) {
	st, raws, _ := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)

	require.NoError(t, st.Connect(h, netip.MustParseAddrPort("[::ffff:203.0.113.5]:8883")))
	require.Len(t, raws[0].opens, 1)
	assert.Equal(t, testRemote, raws[0].opens[0])
}

func TestSendReceiveBeforeConnect(t *testing.T) {
	st, raws, _ := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)

	_, err = st.Send(h, []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "NOT_CONNECTED", errCode(err))

	_, err = st.Receive(h, make([]byte, 8))
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.False(t, raws[0].touched())
}

func TestSendReceiveAfterConnect(t *testing.T) {
	st, _, engine := testStack(t, 1)
	engine.prepare = func(s *mockSession) {
		s.toRead.WriteString("pong")
	}

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	n, err := st.Send(h, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = st.Receive(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	sess := engine.lastSession()
	assert.Equal(t, "ping", sess.written.String())

	sock, err := st.Socket(h)
	require.NoError(t, err)
	read, written, _ := sock.GetSocketMetrics()
	assert.Equal(t, int64(4), read)
	assert.Equal(t, int64(4), written)
}

func TestDoubleRelease(t *testing.T) {
	st, raws, engine := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	require.NoError(t, st.Release(h))
	require.NoError(t, st.Release(h))

	assert.Equal(t, 0, st.Stats()["in_use"])
	assert.Equal(t, 1, engine.lastSession().closes)
	assert.Equal(t, 1, raws[0].closeCount())

	_, err = st.Acquire()
	assert.NoError(t, err)
}

func TestReleaseFreesSlotEvenWhenCloseFails(t *testing.T) {
	st, raws, _ := testStack(t, 1)
	raws[0].closeErr = errMockPeerGone

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	err = st.Release(h)
	require.Error(t, err)
	assert.Equal(t, KindConnectionClosed, KindOf(err))
	assert.Equal(t, 0, st.Stats()["in_use"])

	h2, err := st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, h, h2)
}

func TestCapacityOneScenario(t *testing.T) {
	st, _, engine := testStack(t, 1)

	h0, err := st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, Handle(0), h0)

	_, err = st.Acquire()
	assert.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, st.Connect(h0, netip.MustParseAddrPort("203.0.113.5:8883")))

	n, err := st.Send(h0, []byte("PING"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "PING", engine.lastSession().written.String())

	require.NoError(t, st.Release(h0))

	h, err := st.Acquire()
	require.NoError(t, err)
	assert.Equal(t, h0, h)

	sock, err := st.Socket(h)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sock.GetSocketState())
}

func TestHandshakeFailureIsTerminal(t *testing.T) {
	st, raws, engine := testStack(t, 1)
	engine.handshakeErr = errMockBadCert

	h, err := st.Acquire()
	require.NoError(t, err)

	err = st.Connect(h, testRemote)
	require.Error(t, err)
	assert.False(t, IsWouldBlock(err))
	assert.Equal(t, KindOther, KindOf(err))
	assert.Equal(t, "HANDSHAKE_FAILED", errCode(err))
	assert.ErrorIs(t, err, errMockBadCert)

	sock, err := st.Socket(h)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, sock.GetSocketState())

	_, err = st.Send(h, []byte("PING"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = st.Connect(h, testRemote)
	assert.Equal(t, KindOther, KindOf(err))
	assert.Equal(t, "ALREADY_CONNECTED", errCode(err))
	assert.Equal(t, 1, raws[0].openCount(), "failed slot must not reconnect")

	require.NoError(t, st.Release(h))
	assert.Equal(t, 1, engine.lastSession().closes)
	assert.Equal(t, 1, raws[0].closeCount())
}

func TestHandshakeTimeoutIsNotRetryable(t *testing.T) {
	st, _, engine := testStack(t, 1)
	engine.handshakeErr = errMockTimeout

	h, err := st.Acquire()
	require.NoError(t, err)

	err = st.Connect(h, testRemote)
	require.Error(t, err)
	assert.False(t, IsWouldBlock(err))
	assert.Equal(t, KindOther, KindOf(err))
}

func TestSessionInitFailureKeepsRawOwned(t *testing.T) {
	st, raws, engine := testStack(t, 1)
	engine.newErr = errors.New("mock: bad trust material")

	h, err := st.Acquire()
	require.NoError(t, err)

	err = st.Connect(h, testRemote)
	require.Error(t, err)
	assert.Equal(t, "SESSION_INIT_FAILED", errCode(err))

	sock, err := st.Socket(h)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, sock.GetSocketState())

	// The slot still owns the opened raw socket and closes it on release.
	require.NoError(t, st.Release(h))
	assert.Equal(t, 1, raws[0].closeCount())
}

func TestRawOpenFailureStaysIdle(t *testing.T) {
	st, raws, engine := testStack(t, 1)
	raws[0].openErr = errMockRefused

	h, err := st.Acquire()
	require.NoError(t, err)

	err = st.Connect(h, testRemote)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, "RAW_OPEN_FAILED", errCode(err))
	assert.Empty(t, engine.peers)

	sock, err := st.Socket(h)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sock.GetSocketState())

	// A would-block open can simply be retried.
	raws[0].openErr = errMockTimeout
	err = st.Connect(h, testRemote)
	assert.True(t, IsWouldBlock(err))

	raws[0].openErr = nil
	require.NoError(t, st.Connect(h, testRemote))
	assert.Equal(t, StateSecured, sock.GetSocketState())
}

func TestSendWouldBlockIsRetryable(t *testing.T) {
	st, _, engine := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	sess := engine.lastSession()
	sess.mu.Lock()
	sess.writeErr = errMockTimeout
	sess.mu.Unlock()

	n, err := st.Send(h, []byte("PING"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.True(t, IsWouldBlock(err))

	var sockErr *Error
	require.ErrorAs(t, err, &sockErr)
	assert.True(t, sockErr.Temporary())

	sess.mu.Lock()
	sess.writeErr = nil
	sess.mu.Unlock()

	n, err = st.Send(h, []byte("PING"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestReceiveAfterPeerClose(t *testing.T) {
	st, _, engine := testStack(t, 1)
	engine.prepare = func(s *mockSession) {
		s.readErr = errMockPeerGone
	}

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	_, err = st.Receive(h, make([]byte, 8))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, "SESSION_READ_FAILED", errCode(err))
}

func TestInvalidHandles(t *testing.T) {
	st, _, _ := testStack(t, 2)

	tests := []struct {
		name string
		h    Handle
	}{
		{"negative", NoHandle},
		{"out of range", Handle(2)},
		{"not acquired", Handle(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.Connect(tt.h, testRemote)
			assert.Equal(t, KindOther, KindOf(err))

			_, err = st.Send(tt.h, []byte("x"))
			assert.Equal(t, KindOther, KindOf(err))

			_, err = st.Receive(tt.h, make([]byte, 1))
			assert.Equal(t, KindOther, KindOf(err))

			_, err = st.Socket(tt.h)
			assert.Error(t, err)
		})
	}

	assert.Error(t, st.Release(Handle(5)))
	assert.NoError(t, st.Release(Handle(1)), "releasing a free slot is harmless")
	assert.Equal(t, 0, st.Stats()["in_use"])
}

func TestStaleHandleAfterRelease(t *testing.T) {
	st, _, _ := testStack(t, 1)

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Release(h))

	_, err = st.Send(h, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))
	assert.Equal(t, "SLOT_NOT_IN_USE", errCode(err))
}

func TestReleaseAbandonsInFlightReceive(t *testing.T) {
	st, _, engine := testStack(t, 1)
	engine.prepare = func(s *mockSession) {
		s.blockRead = true
	}

	h, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h, testRemote))

	done := make(chan error, 1)
	go func() {
		_, err := st.Receive(h, make([]byte, 8))
		done <- err
	}()

	// Give the receive a moment to block inside the session.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, st.Release(h))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("release did not abandon the in-flight receive")
	}
}

func TestStackClose(t *testing.T) {
	st, raws, _ := testStack(t, 2)

	h0, err := st.Acquire()
	require.NoError(t, err)
	require.NoError(t, st.Connect(h0, testRemote))
	_, err = st.Acquire()
	require.NoError(t, err)

	require.NoError(t, st.Close())
	assert.Equal(t, 0, st.Stats()["in_use"])
	assert.Equal(t, 1, raws[0].closeCount())

	_, err = st.Acquire()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, "STACK_CLOSED", errCode(err))
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const (
		capacity = 4
		workers  = 16
		rounds   = 50
	)
	st, _, _ := testStack(t, capacity)

	var (
		wg      sync.WaitGroup
		holders [capacity]atomic.Int32
		maxSeen atomic.Int32
		current atomic.Int32
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				h, err := st.Acquire()
				if err != nil {
					assert.ErrorIs(t, err, ErrExhausted)
					continue
				}
				if holders[h].Add(1) != 1 {
					t.Errorf("handle %s granted twice", h)
				}
				if c := current.Add(1); c > maxSeen.Load() {
					maxSeen.Store(c)
				}

				current.Add(-1)
				holders[h].Add(-1)
				assert.NoError(t, st.Release(h))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen.Load()), capacity)
	assert.Equal(t, 0, st.Stats()["in_use"])
}
