package noiseengine

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-i2p/go-sockstack/internal"
	"github.com/go-i2p/noise"
	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of Curve25519 keys.
const KeySize = curve25519.ScalarSize

// GenerateKeypair returns a fresh Curve25519 static keypair.
func GenerateKeypair() (private, public []byte, err error) {
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, nil, oops.
			Code("KEYGEN_FAILED").
			In("noiseengine").
			Wrapf(err, "failed to generate static keypair")
	}
	return kp.Private, kp.Public, nil
}

// PublicKey derives the public half of a static private key.
func PublicKey(private []byte) ([]byte, error) {
	if !internal.ValidateKeySize(private, KeySize) {
		return nil, oops.
			Code("INVALID_KEY_SIZE").
			In("noiseengine").
			With("size", len(private)).
			Errorf("static key must be %d bytes", KeySize)
	}
	pub, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, oops.
			Code("INVALID_STATIC_KEY").
			In("noiseengine").
			Wrapf(err, "failed to derive public key")
	}
	return pub, nil
}

// EncodeKey returns the hex form accepted in trust material.
func EncodeKey(key []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(key)))
	hex.Encode(out, key)
	return out
}

// staticKeypair builds the local keypair from trust material key bytes.
func staticKeypair(keyMaterial []byte) (noise.DHKey, error) {
	private, ok := internal.DecodeKey(keyMaterial, KeySize)
	if !ok {
		return noise.DHKey{}, oops.
			Code("INVALID_STATIC_KEY").
			In("noiseengine").
			With("size", len(keyMaterial)).
			Errorf("static key must be %d raw bytes or %d hex characters", KeySize, 2*KeySize)
	}
	public, err := PublicKey(private)
	if err != nil {
		internal.SecureZero(private)
		return noise.DHKey{}, err
	}
	return noise.DHKey{Private: private, Public: public}, nil
}

// remoteKey decodes the pinned remote static public key.
func remoteKey(keyMaterial []byte) ([]byte, error) {
	key, ok := internal.DecodeKey(keyMaterial, KeySize)
	if !ok {
		return nil, oops.
			Code("INVALID_REMOTE_KEY").
			In("noiseengine").
			With("size", len(keyMaterial)).
			Errorf("remote key must be %d raw bytes or %d hex characters", KeySize, 2*KeySize)
	}
	return key, nil
}
