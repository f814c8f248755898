package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/samber/oops"
)

// tlsVersions maps a version selector to the pinned TLS version.
// The default is TLS 1.2.
func tlsVersions(v sockstack.Version) (uint16, error) {
	switch v {
	case sockstack.VersionDefault, sockstack.VersionTLS12:
		return tls.VersionTLS12, nil
	case sockstack.VersionTLS13:
		return tls.VersionTLS13, nil
	default:
		return 0, oops.
			Code("UNSUPPORTED_VERSION").
			In("tlsengine").
			With("version", v.String()).
			Errorf("unsupported protocol version")
	}
}

// buildTLSConfig turns a peer description into a client tls.Config.
func buildTLSConfig(peer sockstack.Peer) (*tls.Config, error) {
	if peer.ServerName == "" {
		return nil, oops.
			Code("INVALID_SERVER_NAME").
			In("tlsengine").
			Errorf("server name is required")
	}

	version, err := tlsVersions(peer.Version)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(peer.Trust.CA) {
		return nil, oops.
			Code("INVALID_CA").
			In("tlsengine").
			With("server_name", peer.ServerName).
			Errorf("no CA certificate found in trust material")
	}

	cfg := &tls.Config{
		ServerName: peer.ServerName,
		RootCAs:    roots,
		MinVersion: version,
		MaxVersion: version,
	}

	if peer.Trust.HasClientAuth() {
		cert, err := clientCertificate(peer.Trust)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// clientCertificate loads the client certificate, decrypting a legacy
// encrypted PEM key with the trust material's password.
func clientCertificate(trust sockstack.TrustMaterial) (tls.Certificate, error) {
	keyPEM, err := decryptKey(trust.ClientKey, trust.Password)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(trust.ClientCert, keyPEM)
	if err != nil {
		return tls.Certificate{}, oops.
			Code("INVALID_CLIENT_CERT").
			In("tlsengine").
			Wrapf(err, "failed to load client certificate")
	}
	return cert, nil
}

// decryptKey returns keyPEM unchanged unless it is an encrypted PEM block.
func decryptKey(keyPEM, password []byte) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.
			Code("INVALID_CLIENT_KEY").
			In("tlsengine").
			Errorf("client key is not PEM encoded")
	}

	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, oops.
			Code("UNSUPPORTED_KEY_ENCRYPTION").
			In("tlsengine").
			Errorf("PKCS#8 encrypted keys are not supported; use a legacy encrypted PEM key")
	}

	//nolint:staticcheck
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}

	if len(password) == 0 {
		return nil, oops.
			Code("MISSING_KEY_PASSWORD").
			In("tlsengine").
			With("pem_type", block.Type).
			Errorf("client key is encrypted but no password was given")
	}

	//nolint:staticcheck
	der, err := x509.DecryptPEMBlock(block, password)
	if err != nil {
		return nil, oops.
			Code("KEY_DECRYPT_FAILED").
			In("tlsengine").
			With("pem_type", block.Type).
			Wrapf(err, "failed to decrypt client key")
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
