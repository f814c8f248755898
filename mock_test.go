package sockstack

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
)

// Errors understood by the mock classifiers.
var (
	errMockTimeout  = errors.New("mock: timeout")
	errMockRefused  = errors.New("mock: connection refused")
	errMockPeerGone = errors.New("mock: peer gone")
	errMockBadCert  = errors.New("mock: certificate name mismatch")
)

func mockClassify(err error) Kind {
	switch {
	case errors.Is(err, errMockTimeout):
		return KindWouldBlock
	case errors.Is(err, errMockRefused), errors.Is(err, errMockPeerGone), errors.Is(err, io.EOF):
		return KindConnectionClosed
	default:
		return KindOther
	}
}

// mockRaw records every call a slot makes on its raw socket.
type mockRaw struct {
	mu       sync.Mutex
	openErr  error
	closeErr error
	opens    []netip.AddrPort
	closes   int
	reads    int
	writes   int
	open     bool
}

func (m *mockRaw) Open(remote netip.AddrPort) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = append(m.opens, remote)
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	return nil
}

func (m *mockRaw) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return 0, io.EOF
}

func (m *mockRaw) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	return len(p), nil
}

func (m *mockRaw) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.open = false
	return m.closeErr
}

func (m *mockRaw) Classify(err error) Kind {
	return mockClassify(err)
}

func (m *mockRaw) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opens)
}

func (m *mockRaw) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *mockRaw) touched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opens)+m.closes+m.reads+m.writes > 0
}

// mockSession is a secured session whose behavior tests script.
type mockSession struct {
	mu           sync.Mutex
	raw          RawSocket
	handshakeErr error
	readErr      error
	writeErr     error
	closeErr     error
	toRead       bytes.Buffer
	written      bytes.Buffer
	handshakes   int
	closes       int

	// blockRead makes Read wait until Close
	blockRead bool
	closed    chan struct{}
}

func newMockSession(raw RawSocket) *mockSession {
	return &mockSession{raw: raw, closed: make(chan struct{})}
}

func (s *mockSession) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakes++
	return s.handshakeErr
}

func (s *mockSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	block := s.blockRead
	s.mu.Unlock()

	if block {
		<-s.closed
		return 0, errMockPeerGone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.toRead.Read(p)
}

func (s *mockSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.written.Write(p)
}

func (s *mockSession) Close() (RawSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.closed)
	}
	if err := s.raw.Close(); err != nil {
		return s.raw, err
	}
	return s.raw, s.closeErr
}

// mockEngine hands out mockSessions and remembers them.
type mockEngine struct {
	mu           sync.Mutex
	newErr       error
	handshakeErr error
	peers        []Peer
	sessions     []*mockSession

	// prepare customizes each new session
	prepare func(*mockSession)
}

func (e *mockEngine) NewSession(raw RawSocket, peer Peer) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers = append(e.peers, peer)
	if e.newErr != nil {
		return nil, e.newErr
	}
	s := newMockSession(raw)
	s.handshakeErr = e.handshakeErr
	if e.prepare != nil {
		e.prepare(s)
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *mockEngine) Classify(err error) Kind {
	return mockClassify(err)
}

func (e *mockEngine) lastSession() *mockSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// testStack builds a stack of n mock raw sockets sharing one mock engine.
func testStack(t *testing.T, n int) (*Stack, []*mockRaw, *mockEngine) {
	t.Helper()

	raws := make([]*mockRaw, n)
	rawSockets := make([]RawSocket, n)
	for i := range raws {
		raws[i] = &mockRaw{}
		rawSockets[i] = raws[i]
	}
	engine := &mockEngine{}

	st, err := NewStackFromRaw(rawSockets, engine, testConfig())
	require.NoError(t, err)
	return st, raws, engine
}

func testConfig() *SocketConfig {
	return NewSocketConfig("broker.test").WithTrust(TrustMaterial{CA: []byte("ca")})
}

// errCode returns the deepest oops code in err's chain.
func errCode(err error) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Code()
}

var testRemote = netip.MustParseAddrPort("203.0.113.5:8883")
