// Package noiseengine secures raw stack sockets with the Noise Protocol
// Framework, for peers that pin static keys instead of trusting a CA.
//
// Trust material is interpreted as keys rather than certificates:
// ClientKey is the local Curve25519 static private key and CA is the
// expected remote static public key, each as 32 raw bytes or 64 hex
// characters. ClientCert is not read; callers that go through
// sockstack.SocketConfig put the local public key there so the key pair
// passes client-auth validation. The peer's server name is used as the handshake prologue, so
// both sides must agree on it.
package noiseengine

import (
	"time"

	"github.com/go-i2p/logger"
	"github.com/go-i2p/noise"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Config configures the Noise engine.
// It follows the builder pattern for optional configuration and validation.
type Config struct {
	// Pattern is the handshake pattern: NN, NK or XX, short or full name
	// (e.g. "Noise_XX_25519_AESGCM_SHA256")
	Pattern string

	// Initiator selects the handshake role. Stack clients are initiators.
	// Default: true
	Initiator bool

	// HandshakeTimeout bounds the handshake when the raw socket supports
	// deadlines.
	// Default: 30 seconds (0 = no timeout)
	HandshakeTimeout time.Duration
}

// NewConfig creates a Config for an initiator using pattern.
func NewConfig(pattern string) *Config {
	return &Config{
		Pattern:          pattern,
		Initiator:        true,
		HandshakeTimeout: 30 * time.Second,
	}
}

// WithInitiator sets the handshake role.
func (c *Config) WithInitiator(initiator bool) *Config {
	c.Initiator = initiator
	return c
}

// WithHandshakeTimeout sets the handshake timeout.
func (c *Config) WithHandshakeTimeout(timeout time.Duration) *Config {
	c.HandshakeTimeout = timeout
	return c
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if _, err := parseHandshakePattern(c.Pattern); err != nil {
		return err
	}
	if c.HandshakeTimeout < 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("noiseengine").
			With("handshake_timeout", c.HandshakeTimeout.String()).
			Errorf("handshake timeout cannot be negative")
	}
	return nil
}

// parseHandshakePattern maps pattern names to go-i2p/noise handshake patterns.
// Only patterns whose key requirements a stack peer can satisfy are offered.
func parseHandshakePattern(patternName string) (noise.HandshakePattern, error) {
	switch patternName {
	case "Noise_NN_25519_AESGCM_SHA256", "NN":
		return noise.HandshakeNN, nil
	case "Noise_NK_25519_AESGCM_SHA256", "NK":
		return noise.HandshakeNK, nil
	case "Noise_XX_25519_AESGCM_SHA256", "XX":
		return noise.HandshakeXX, nil
	default:
		return noise.HandshakePattern{}, oops.
			Code("UNSUPPORTED_PATTERN").
			In("noiseengine").
			With("pattern", patternName).
			Errorf("unsupported handshake pattern: %s", patternName)
	}
}
