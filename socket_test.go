package sockstack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSocket(t *testing.T) (*SecuredSocket, *mockRaw, *mockEngine) {
	t.Helper()
	raw := &mockRaw{}
	engine := &mockEngine{}
	s, err := NewSecuredSocket(raw, engine, testConfig())
	require.NoError(t, err)
	return s, raw, engine
}

func TestNewSecuredSocket(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawSocket
		engine  Engine
		config  *SocketConfig
		errCode string
	}{
		{"nil raw", nil, &mockEngine{}, testConfig(), "INVALID_SOCKET"},
		{"nil engine", &mockRaw{}, nil, testConfig(), "INVALID_ENGINE"},
		{"nil config", &mockRaw{}, &mockEngine{}, nil, "INVALID_CONFIG"},
		{"empty server name", &mockRaw{}, &mockEngine{}, NewSocketConfig(""), "INVALID_SERVER_NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSecuredSocket(tt.raw, tt.engine, tt.config)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, tt.errCode, errCode(err))
		})
	}

	t.Run("valid", func(t *testing.T) {
		s, _, _ := newTestSocket(t)
		assert.Equal(t, StateIdle, s.GetSocketState())
		assert.Equal(t, NoHandle, s.Handle())
		assert.Equal(t, "broker.test", s.ServerName())
	})
}

func TestSocketConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	s, err := NewSecuredSocket(&mockRaw{}, &mockEngine{}, cfg)
	require.NoError(t, err)

	cfg.ServerName = "changed.test"
	cfg.Trust.CA[0] = 'X'

	assert.Equal(t, "broker.test", s.ServerName())
	assert.Equal(t, "ca", string(s.config.Trust.CA))
}

func TestSocketConnectLifecycle(t *testing.T) {
	s, raw, engine := newTestSocket(t)

	require.NoError(t, s.Connect(testRemote))
	assert.Equal(t, StateSecured, s.GetSocketState())
	assert.Equal(t, "sock://-1/203.0.113.5:8883", s.RemoteAddr().String())

	require.Len(t, engine.peers, 1)
	peer := engine.peers[0]
	assert.Equal(t, "broker.test", peer.ServerName)
	assert.Equal(t, VersionDefault, peer.Version)
	assert.Equal(t, "ca", string(peer.Trust.CA))

	// Ownership moved into the session.
	_, ok := s.link.(sessionLink)
	assert.True(t, ok)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.GetSocketState())
	assert.Equal(t, 1, raw.closeCount())

	// Ownership came back.
	l, ok := s.link.(rawLink)
	require.True(t, ok)
	assert.Equal(t, raw, l.sock)
}

func TestSocketCloseIdempotent(t *testing.T) {
	s, raw, engine := newTestSocket(t)
	require.NoError(t, s.Connect(testRemote))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, engine.lastSession().closes)
	assert.Equal(t, 1, raw.closeCount())
}

func TestSocketCloseFromIdle(t *testing.T) {
	s, raw, _ := newTestSocket(t)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.GetSocketState())
	assert.Equal(t, 0, raw.closeCount(), "an unopened raw socket needs no close")
}

func TestSocketOperationsAfterClose(t *testing.T) {
	s, _, _ := newTestSocket(t)
	require.NoError(t, s.Close())

	err := s.Connect(testRemote)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSocketConnectTwice(t *testing.T) {
	s, raw, _ := newTestSocket(t)
	require.NoError(t, s.Connect(testRemote))

	err := s.Connect(testRemote)
	require.Error(t, err)
	assert.Equal(t, KindOther, KindOf(err))
	assert.Equal(t, "ALREADY_CONNECTED", errCode(err))
	assert.Equal(t, 1, raw.openCount())
}

func TestSocketSessionCloseError(t *testing.T) {
	s, _, engine := newTestSocket(t)
	engine.prepare = func(sess *mockSession) {
		sess.closeErr = errors.New("mock: close failed")
	}
	require.NoError(t, s.Connect(testRemote))

	err := s.Close()
	require.Error(t, err)
	assert.Equal(t, "SESSION_CLOSE_FAILED", errCode(err))
	assert.Equal(t, StateClosed, s.GetSocketState())

	// The raw socket is reclaimed even when the session reports an error.
	_, ok := s.link.(rawLink)
	assert.True(t, ok)
}

func TestSocketResetRecoversFailedSlot(t *testing.T) {
	s, raw, engine := newTestSocket(t)
	engine.handshakeErr = errMockBadCert

	require.Error(t, s.Connect(testRemote))
	assert.Equal(t, StateFailed, s.GetSocketState())

	s.reset()
	assert.Equal(t, StateIdle, s.GetSocketState())
	assert.Equal(t, 1, raw.closeCount())

	engine.handshakeErr = nil
	require.NoError(t, s.Connect(testRemote))
	assert.Equal(t, StateSecured, s.GetSocketState())
}

func TestSocketHandshakeMetrics(t *testing.T) {
	s, _, _ := newTestSocket(t)
	require.NoError(t, s.Connect(testRemote))

	_, err := s.Write([]byte("hello"))
	require.NoError(t, err)

	_, written, hs := s.GetSocketMetrics()
	assert.Equal(t, int64(5), written)
	assert.GreaterOrEqual(t, int64(hs), int64(0))
}
