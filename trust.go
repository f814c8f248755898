package sockstack

import (
	"os"

	"github.com/samber/oops"
)

// LoadTrustMaterial reads the PEM files that make up a trust bundle.
// caPath is required; certPath and keyPath are optional but must be given
// together. The contents are not parsed here; the engine does that.
func LoadTrustMaterial(caPath, certPath, keyPath string, password []byte) (TrustMaterial, error) {
	if caPath == "" {
		return TrustMaterial{}, oops.
			Code("MISSING_CA").
			In("sockstack").
			Errorf("CA certificate path is required")
	}

	if (certPath == "") != (keyPath == "") {
		return TrustMaterial{}, oops.
			Code("INVALID_CLIENT_AUTH").
			In("sockstack").
			With("cert_path", certPath).
			With("key_path", keyPath).
			Errorf("client certificate and key must be provided together")
	}

	ca, err := readPEMFile("ca", caPath)
	if err != nil {
		return TrustMaterial{}, err
	}

	tm := TrustMaterial{CA: ca}

	if certPath != "" {
		if tm.ClientCert, err = readPEMFile("client_cert", certPath); err != nil {
			return TrustMaterial{}, err
		}
		if tm.ClientKey, err = readPEMFile("client_key", keyPath); err != nil {
			return TrustMaterial{}, err
		}
	}

	if len(password) > 0 {
		tm.Password = cloneBytes(password)
	}

	return tm, nil
}

// readPEMFile reads one non-empty file.
func readPEMFile(kind, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.
			Code("TRUST_READ_FAILED").
			In("sockstack").
			With("kind", kind).
			With("path", path).
			Wrapf(err, "failed to read %s", kind)
	}
	if len(data) == 0 {
		return nil, oops.
			Code("TRUST_EMPTY").
			In("sockstack").
			With("kind", kind).
			With("path", path).
			Errorf("%s file is empty", kind)
	}
	return data, nil
}
