package internal

import (
	"sync"
	"time"
)

// SocketState represents the lifecycle state of a secured socket slot
type SocketState int

const (
	// StateIdle represents a slot owning an unconnected raw socket
	StateIdle SocketState = iota
	// StateHandshaking represents a slot whose raw socket was handed to the session engine
	StateHandshaking
	// StateSecured represents a slot with a completed handshake
	StateSecured
	// StateFailed represents a slot whose handshake consumed the raw socket and failed
	StateFailed
	// StateClosed represents a closed slot
	StateClosed
)

// String returns the string representation of the socket state
func (s SocketState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateSecured:
		return "secured"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SocketMetrics holds per-slot performance data for the current occupant
type SocketMetrics struct {
	mu               sync.RWMutex
	HandshakeStarted time.Time
	HandshakeEnded   time.Time
	BytesRead        int64
	BytesWritten     int64
	Acquired         time.Time
}

// NewSocketMetrics creates a new SocketMetrics instance
func NewSocketMetrics() *SocketMetrics {
	return &SocketMetrics{
		Acquired: time.Now(),
	}
}

// Reset clears all counters. Called when a slot gets a new occupant.
func (m *SocketMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandshakeStarted = time.Time{}
	m.HandshakeEnded = time.Time{}
	m.BytesRead = 0
	m.BytesWritten = 0
	m.Acquired = time.Now()
}

// HandshakeDuration returns the duration of the handshake process
func (m *SocketMetrics) HandshakeDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handshakeDuration()
}

func (m *SocketMetrics) handshakeDuration() time.Duration {
	if m.HandshakeStarted.IsZero() || m.HandshakeEnded.IsZero() {
		return 0
	}
	return m.HandshakeEnded.Sub(m.HandshakeStarted)
}

// SetHandshakeStart records the handshake start time
func (m *SocketMetrics) SetHandshakeStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandshakeStarted = time.Now()
}

// SetHandshakeEnd records the handshake completion time
func (m *SocketMetrics) SetHandshakeEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HandshakeEnded = time.Now()
}

// AddBytesRead increments the bytes read counter
func (m *SocketMetrics) AddBytesRead(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesRead += n
}

// AddBytesWritten increments the bytes written counter
func (m *SocketMetrics) AddBytesWritten(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BytesWritten += n
}

// GetStats returns current socket statistics
func (m *SocketMetrics) GetStats() (bytesRead, bytesWritten int64, duration time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BytesRead, m.BytesWritten, m.handshakeDuration()
}
