package noiseengine

import (
	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/go-sockstack/internal"
	"github.com/go-i2p/noise"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// Engine builds Noise sessions over raw sockets.
type Engine struct {
	config  Config
	pattern noise.HandshakePattern
}

// NewEngine creates a Noise engine.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("noiseengine").
			Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pattern, err := parseHandshakePattern(config.Pattern)
	if err != nil {
		return nil, err
	}

	return &Engine{config: *config, pattern: pattern}, nil
}

// NewSession prepares a handshake over raw for peer. Keys are decoded and
// the handshake state built here; on error raw still belongs to the caller.
func (e *Engine) NewSession(raw sockstack.RawSocket, peer sockstack.Peer) (sockstack.Session, error) {
	if raw == nil {
		return nil, oops.
			Code("INVALID_SOCKET").
			In("noiseengine").
			Errorf("raw socket cannot be nil")
	}

	if peer.Version != sockstack.VersionDefault {
		return nil, oops.
			Code("UNSUPPORTED_VERSION").
			In("noiseengine").
			With("version", peer.Version.String()).
			Errorf("noise sessions have no protocol version selector")
	}

	keys, err := e.sessionKeys(peer.Trust)
	if err != nil {
		return nil, err
	}

	hs, err := createHandshakeState(e.pattern, e.config.Initiator, []byte(peer.ServerName), keys)
	if err != nil {
		keys.wipe()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"pattern":     e.pattern.Name,
		"initiator":   e.config.Initiator,
		"server_name": peer.ServerName,
	}).Debug("noise session created")

	return newSession(raw, hs, e.pattern, e.config, keys), nil
}

// Classify implements sockstack.Classifier.
func (e *Engine) Classify(err error) sockstack.Kind {
	return Classify(err)
}

// sessionKeys holds the keys one handshake needs.
type sessionKeys struct {
	static noise.DHKey
	// pinned is the expected remote static key, if any
	pinned []byte
}

func (k *sessionKeys) wipe() {
	internal.SecureZero(k.static.Private)
}

// sessionKeys decodes trust material according to what the pattern and role
// require. NN needs nothing, NK needs the remote key on the initiator and a
// static key on the responder, XX needs a static key on both sides and
// treats a remote key as a pin. Material a pattern cannot use is ignored.
func (e *Engine) sessionKeys(trust sockstack.TrustMaterial) (*sessionKeys, error) {
	keys := &sessionKeys{}
	name := e.pattern.Name

	needStatic := name == noise.HandshakeXX.Name ||
		(name == noise.HandshakeNK.Name && !e.config.Initiator)
	needRemote := name == noise.HandshakeNK.Name && e.config.Initiator

	if needStatic {
		if len(trust.ClientKey) == 0 {
			return nil, oops.
				Code("MISSING_STATIC_KEY").
				In("noiseengine").
				With("pattern", name).
				With("initiator", e.config.Initiator).
				Errorf("pattern requires a local static key")
		}
		static, err := staticKeypair(trust.ClientKey)
		if err != nil {
			return nil, err
		}
		keys.static = static
	}

	if needRemote || (name == noise.HandshakeXX.Name && len(trust.CA) > 0) {
		if len(trust.CA) == 0 {
			return nil, oops.
				Code("MISSING_REMOTE_KEY").
				In("noiseengine").
				With("pattern", name).
				Errorf("pattern requires the remote static key")
		}
		pinned, err := remoteKey(trust.CA)
		if err != nil {
			keys.wipe()
			return nil, err
		}
		keys.pinned = pinned
	}

	return keys, nil
}

// createHandshakeState builds the go-i2p/noise handshake state.
func createHandshakeState(pattern noise.HandshakePattern, initiator bool, prologue []byte, keys *sessionKeys) (*noise.HandshakeState, error) {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

	cfg := noise.Config{
		CipherSuite:   cs,
		Random:        nil, // crypto/rand
		Pattern:       pattern,
		Initiator:     initiator,
		Prologue:      prologue,
		StaticKeypair: keys.static,
	}
	// Only NK carries the responder key as a pre-message; for XX it arrives
	// in the handshake and is checked afterwards.
	if pattern.Name == noise.HandshakeNK.Name && initiator {
		cfg.PeerStatic = keys.pinned
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, oops.
			Code("HANDSHAKE_INIT_FAILED").
			In("noiseengine").
			With("pattern", pattern.Name).
			With("initiator", initiator).
			Wrapf(err, "failed to create handshake state")
	}
	return hs, nil
}
