package sockstack

import (
	"net/netip"

	"github.com/go-i2p/go-sockstack/internal"
)

// RawSocket is one pre-allocated, unencrypted, connection-oriented transport
// socket provided by the underlying network stack. A RawSocket is reusable:
// after Close it may be opened again.
type RawSocket interface {
	// Open connects to remote. Implementations that need a timeout enforce
	// it here; the stack does not.
	Open(remote netip.AddrPort) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Classifier
}

// Session is a secured byte stream layered over a RawSocket that it owns.
type Session interface {
	// Handshake runs the secured handshake synchronously to completion.
	Handshake() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Close discards the session without a shutdown exchange, closes the raw
	// socket and hands it back to the caller. The raw socket is returned
	// even when err is non-nil.
	Close() (RawSocket, error)
}

// Engine builds secured sessions. NewSession takes ownership of raw only on
// success; on error the caller still owns it.
type Engine interface {
	NewSession(raw RawSocket, peer Peer) (Session, error)
	Classifier
}

// Version selects the protocol version an engine negotiates.
type Version int

const (
	// VersionDefault lets the engine pick; the TLS engine pins TLS 1.2.
	VersionDefault Version = iota
	// VersionTLS12 pins TLS 1.2.
	VersionTLS12
	// VersionTLS13 pins TLS 1.3.
	VersionTLS13
)

// String returns the string representation of the version
func (v Version) String() string {
	switch v {
	case VersionDefault:
		return "default"
	case VersionTLS12:
		return "tls1.2"
	case VersionTLS13:
		return "tls1.3"
	default:
		return "unknown"
	}
}

// ParseVersion maps a configuration string to a Version.
func ParseVersion(s string) (Version, bool) {
	switch s {
	case "", "default":
		return VersionDefault, true
	case "tls1.2", "1.2", "TLS1.2":
		return VersionTLS12, true
	case "tls1.3", "1.3", "TLS1.3":
		return VersionTLS13, true
	default:
		return VersionDefault, false
	}
}

// TrustMaterial is the PEM-encoded bundle a session authenticates with.
// Parsing is the engine's concern.
type TrustMaterial struct {
	CA         []byte // root CA certificate(s)
	ClientCert []byte // optional client certificate
	ClientKey  []byte // optional client private key
	Password   []byte // optional password for an encrypted ClientKey
}

// HasClientAuth reports whether both a client certificate and key are present.
func (t TrustMaterial) HasClientAuth() bool {
	return len(t.ClientCert) > 0 && len(t.ClientKey) > 0
}

// Clone returns a deep copy.
func (t TrustMaterial) Clone() TrustMaterial {
	return TrustMaterial{
		CA:         cloneBytes(t.CA),
		ClientCert: cloneBytes(t.ClientCert),
		ClientKey:  cloneBytes(t.ClientKey),
		Password:   cloneBytes(t.Password),
	}
}

// Wipe zeroes the secret parts of the bundle in place.
func (t *TrustMaterial) Wipe() {
	internal.SecureZero(t.ClientKey)
	internal.SecureZero(t.Password)
}

// Peer is everything an engine needs to secure one connection.
type Peer struct {
	ServerName string
	Version    Version
	Trust      TrustMaterial
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
