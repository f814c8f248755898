package sockstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSocketConfig(t *testing.T) {
	cfg := NewSocketConfig("broker.test")
	assert.Equal(t, "broker.test", cfg.ServerName)
	assert.Equal(t, VersionDefault, cfg.Version)
	assert.NoError(t, cfg.Validate())
}

func TestSocketConfigBuilder(t *testing.T) {
	trust := TrustMaterial{CA: []byte("ca"), ClientCert: []byte("cert"), ClientKey: []byte("key")}
	cfg := NewSocketConfig("broker.test").
		WithTrust(trust).
		WithVersion(VersionTLS13)

	assert.Equal(t, VersionTLS13, cfg.Version)
	assert.True(t, cfg.Trust.HasClientAuth())

	trust.ClientKey[0] = 'X'
	assert.Equal(t, "key", string(cfg.Trust.ClientKey), "trust material must be copied")
}

func TestSocketConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *SocketConfig
		errCode string
	}{
		{
			name:   "valid",
			config: NewSocketConfig("broker.test"),
		},
		{
			name:    "missing server name",
			config:  NewSocketConfig(""),
			errCode: "INVALID_SERVER_NAME",
		},
		{
			name:    "unknown version",
			config:  NewSocketConfig("broker.test").WithVersion(Version(7)),
			errCode: "INVALID_VERSION",
		},
		{
			name:    "cert without key",
			config:  NewSocketConfig("broker.test").WithTrust(TrustMaterial{ClientCert: []byte("cert")}),
			errCode: "INVALID_CLIENT_AUTH",
		},
		{
			name:    "key without cert",
			config:  NewSocketConfig("broker.test").WithTrust(TrustMaterial{ClientKey: []byte("key")}),
			errCode: "INVALID_CLIENT_AUTH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.errCode, errCode(err))
		})
	}
}

func TestVersionParsing(t *testing.T) {
	tests := []struct {
		input string
		want  Version
		ok    bool
	}{
		{"", VersionDefault, true},
		{"default", VersionDefault, true},
		{"tls1.2", VersionTLS12, true},
		{"1.3", VersionTLS13, true},
		{"ssl3", VersionDefault, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVersion(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "tls1.3", VersionTLS13.String())
	assert.Equal(t, "unknown", Version(9).String())
}

func TestTrustMaterialWipe(t *testing.T) {
	trust := TrustMaterial{
		CA:        []byte("ca"),
		ClientKey: []byte("key"),
		Password:  []byte("pw"),
	}
	clone := trust.Clone()

	trust.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, trust.ClientKey)
	assert.Equal(t, []byte{0, 0}, trust.Password)
	assert.Equal(t, "ca", string(trust.CA))
	assert.Equal(t, "key", string(clone.ClientKey))
}
