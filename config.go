package sockstack

import (
	"github.com/samber/oops"
)

// SocketConfig holds the fixed identity of a secured socket slot.
// It follows the builder pattern for optional configuration and validation.
// A copy is taken when a socket is created; later changes have no effect.
type SocketConfig struct {
	// ServerName is the expected peer name used for certificate validation
	ServerName string

	// Trust is the certificate/key bundle used for the handshake
	Trust TrustMaterial

	// Version selects the protocol version
	// Default: VersionDefault (engine decides; TLS 1.2 for the TLS engine)
	Version Version
}

// NewSocketConfig creates a new SocketConfig for the given peer name.
func NewSocketConfig(serverName string) *SocketConfig {
	return &SocketConfig{
		ServerName: serverName,
		Version:    VersionDefault,
	}
}

// WithTrust sets the trust material. The bundle is copied.
func (c *SocketConfig) WithTrust(trust TrustMaterial) *SocketConfig {
	c.Trust = trust.Clone()
	return c
}

// WithVersion sets the protocol version selector.
func (c *SocketConfig) WithVersion(v Version) *SocketConfig {
	c.Version = v
	return c
}

// Validate checks if the configuration is valid and complete.
// Returns an error with context if validation fails.
func (c *SocketConfig) Validate() error {
	if err := c.validateServerName(); err != nil {
		return err
	}

	if err := c.validateVersion(); err != nil {
		return err
	}

	if err := c.validateClientAuth(); err != nil {
		return err
	}

	return nil
}

// validateServerName checks that a peer name is set.
func (c *SocketConfig) validateServerName() error {
	if c.ServerName == "" {
		return oops.
			Code("INVALID_SERVER_NAME").
			In("sockstack").
			Errorf("server name is required")
	}
	return nil
}

// validateVersion checks the version selector is a known value.
func (c *SocketConfig) validateVersion() error {
	switch c.Version {
	case VersionDefault, VersionTLS12, VersionTLS13:
		return nil
	default:
		return oops.
			Code("INVALID_VERSION").
			In("sockstack").
			With("version", int(c.Version)).
			With("server_name", c.ServerName).
			Errorf("unknown protocol version selector")
	}
}

// validateClientAuth checks that client certificate and key come as a pair.
func (c *SocketConfig) validateClientAuth() error {
	hasCert := len(c.Trust.ClientCert) > 0
	hasKey := len(c.Trust.ClientKey) > 0
	if hasCert != hasKey {
		return oops.
			Code("INVALID_CLIENT_AUTH").
			In("sockstack").
			With("has_cert", hasCert).
			With("has_key", hasKey).
			With("server_name", c.ServerName).
			Errorf("client certificate and key must be provided together")
	}
	return nil
}

// clone returns an independent copy.
func (c *SocketConfig) clone() *SocketConfig {
	return &SocketConfig{
		ServerName: c.ServerName,
		Trust:      c.Trust.Clone(),
		Version:    c.Version,
	}
}

// peer builds the engine input for one connection.
func (c *SocketConfig) peer() Peer {
	return Peer{
		ServerName: c.ServerName,
		Version:    c.Version,
		Trust:      c.Trust,
	}
}
