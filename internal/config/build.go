package config

import (
	"net/netip"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/go-sockstack/internal"
	"github.com/go-i2p/go-sockstack/noiseengine"
	"github.com/go-i2p/go-sockstack/rawsock"
	"github.com/go-i2p/go-sockstack/tlsengine"
	"github.com/samber/oops"
)

// NewStack builds the socket table described by c: host TCP sockets, the
// configured engine and one shared socket identity.
func (c *Config) NewStack() (*sockstack.Stack, error) {
	raws, err := c.RawSockets()
	if err != nil {
		return nil, err
	}

	engine, err := c.Engine()
	if err != nil {
		return nil, err
	}

	sockCfg, err := c.SocketConfig()
	if err != nil {
		return nil, err
	}

	return sockstack.NewStackFromRaw(raws, engine, sockCfg)
}

// RemoteAddr parses the configured remote address.
func (c *Config) RemoteAddr() (netip.AddrPort, error) {
	if c.Remote.Address == "" {
		return netip.AddrPort{}, oops.
			Code("MISSING_REMOTE").
			In("config").
			Errorf("remote address is required")
	}
	return sockstack.ParseRemote(c.Remote.Address)
}

// RawSockets creates Capacity host TCP sockets.
func (c *Config) RawSockets() ([]sockstack.RawSocket, error) {
	tcpCfg := rawsock.NewTCPConfig().
		WithDialTimeout(c.Stack.DialTimeout).
		WithKeepAlive(c.Stack.KeepAlive)
	return rawsock.NewTCPSockets(c.Stack.Capacity, tcpCfg)
}

// Engine creates the configured secured engine.
func (c *Config) Engine() (sockstack.Engine, error) {
	switch c.Stack.Engine {
	case EngineTLS:
		return tlsengine.NewEngine(tlsengine.NewConfig().
			WithHandshakeTimeout(c.TLS.HandshakeTimeout))
	case EngineNoise:
		return noiseengine.NewEngine(noiseengine.NewConfig(c.Noise.Pattern).
			WithHandshakeTimeout(c.Noise.HandshakeTimeout))
	default:
		return nil, oops.
			Code("INVALID_ENGINE").
			In("config").
			With("engine", c.Stack.Engine).
			Errorf("unknown engine")
	}
}

// SocketConfig builds the socket identity, reading TLS trust files or
// decoding Noise keys.
func (c *Config) SocketConfig() (*sockstack.SocketConfig, error) {
	var (
		trust   sockstack.TrustMaterial
		version = sockstack.VersionDefault
		err     error
	)

	switch c.Stack.Engine {
	case EngineNoise:
		trust, err = c.noiseTrust()
	default:
		var ok bool
		if version, ok = sockstack.ParseVersion(c.TLS.Version); !ok {
			return nil, oops.
				Code("INVALID_VERSION").
				In("config").
				With("version", c.TLS.Version).
				Errorf("unknown tls version")
		}
		var password []byte
		if c.TLS.Password != "" {
			password = []byte(c.TLS.Password)
		}
		trust, err = sockstack.LoadTrustMaterial(c.TLS.CA, c.TLS.Cert, c.TLS.Key, password)
	}
	if err != nil {
		return nil, err
	}

	sockCfg := sockstack.NewSocketConfig(c.Remote.ServerName).
		WithTrust(trust).
		WithVersion(version)
	trust.Wipe()

	if err := sockCfg.Validate(); err != nil {
		return nil, err
	}
	return sockCfg, nil
}

// noiseTrust maps hex keys onto trust material. The public half of the
// static key fills ClientCert.
func (c *Config) noiseTrust() (sockstack.TrustMaterial, error) {
	var trust sockstack.TrustMaterial

	if c.Noise.StaticKey != "" {
		private, ok := internal.DecodeKey([]byte(c.Noise.StaticKey), noiseengine.KeySize)
		if !ok {
			return trust, oops.
				Code("INVALID_STATIC_KEY").
				In("config").
				Errorf("noise.staticKey must be %d hex characters", 2*noiseengine.KeySize)
		}
		public, err := noiseengine.PublicKey(private)
		if err != nil {
			internal.SecureZero(private)
			return trust, err
		}
		trust.ClientKey = noiseengine.EncodeKey(private)
		trust.ClientCert = noiseengine.EncodeKey(public)
		internal.SecureZero(private)
	}

	if c.Noise.RemoteKey != "" {
		trust.CA = []byte(c.Noise.RemoteKey)
	}

	return trust, nil
}
