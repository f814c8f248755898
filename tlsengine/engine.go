// Package tlsengine secures raw stack sockets with TLS client sessions.
package tlsengine

import (
	"context"
	"crypto/tls"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

var log = logger.GetGoI2PLogger()

// Config configures the TLS engine.
// It follows the builder pattern for optional configuration and validation.
type Config struct {
	// HandshakeTimeout bounds Handshake. A handshake that does not finish in
	// time fails terminally and closes the transport.
	// Default: 30 seconds (0 = no timeout)
	HandshakeTimeout time.Duration

	// Time overrides the clock used for certificate validity checks.
	// Default: nil (time.Now)
	Time func() time.Time
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		HandshakeTimeout: 30 * time.Second,
	}
}

// WithHandshakeTimeout sets the handshake timeout.
func (c *Config) WithHandshakeTimeout(timeout time.Duration) *Config {
	c.HandshakeTimeout = timeout
	return c
}

// WithTime sets the certificate validation clock.
func (c *Config) WithTime(now func() time.Time) *Config {
	c.Time = now
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HandshakeTimeout < 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("tlsengine").
			With("handshake_timeout", c.HandshakeTimeout.String()).
			Errorf("handshake timeout cannot be negative")
	}
	return nil
}

// Engine builds TLS client sessions over raw sockets.
type Engine struct {
	config Config
}

// NewEngine creates a TLS engine. A nil config uses defaults.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = NewConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: *config}, nil
}

// NewSession prepares a TLS client over raw for peer. Trust material is
// parsed here; if that fails raw is left untouched and still belongs to the
// caller.
func (e *Engine) NewSession(raw sockstack.RawSocket, peer sockstack.Peer) (sockstack.Session, error) {
	if raw == nil {
		return nil, oops.
			Code("INVALID_SOCKET").
			In("tlsengine").
			Errorf("raw socket cannot be nil")
	}

	cfg, err := buildTLSConfig(peer)
	if err != nil {
		return nil, err
	}
	if e.config.Time != nil {
		cfg.Time = e.config.Time
	}

	conn := newRawConn(raw)
	s := &session{
		raw:     raw,
		tls:     tls.Client(conn, cfg),
		peer:    peer.ServerName,
		timeout: e.config.HandshakeTimeout,
	}

	log.WithFields(logrus.Fields{
		"server_name": peer.ServerName,
		"version":     peer.Version.String(),
		"client_auth": peer.Trust.HasClientAuth(),
	}).Debug("tls session created")
	return s, nil
}

// Classify implements sockstack.Classifier.
func (e *Engine) Classify(err error) sockstack.Kind {
	return Classify(err)
}

// session is one TLS client connection. It owns raw until Close hands it back.
type session struct {
	raw     sockstack.RawSocket
	tls     *tls.Conn
	peer    string
	timeout time.Duration
}

// Handshake runs the TLS handshake to completion.
func (s *session) Handshake() error {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.tls.HandshakeContext(ctx); err != nil {
		return oops.
			Code("TLS_HANDSHAKE_FAILED").
			In("tlsengine").
			With("server_name", s.peer).
			With("elapsed", time.Since(start).String()).
			Wrapf(err, "tls handshake failed")
	}

	state := s.tls.ConnectionState()
	log.WithFields(logrus.Fields{
		"server_name":  s.peer,
		"version":      tls.VersionName(state.Version),
		"cipher_suite": tls.CipherSuiteName(state.CipherSuite),
		"duration":     time.Since(start).String(),
	}).Debug("tls handshake complete")
	return nil
}

func (s *session) Read(p []byte) (int, error) {
	return s.tls.Read(p)
}

func (s *session) Write(p []byte) (int, error) {
	return s.tls.Write(p)
}

// Close drops the session without sending close_notify and closes the raw
// socket, which is returned for reuse.
func (s *session) Close() (sockstack.RawSocket, error) {
	if err := s.raw.Close(); err != nil {
		return s.raw, oops.
			Code("CLOSE_FAILED").
			In("tlsengine").
			With("server_name", s.peer).
			Wrapf(err, "failed to close transport")
	}
	return s.raw, nil
}
