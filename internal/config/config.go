// Package config provides file and environment configuration for sockctl.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/go-sockstack/internal/logging"
	"github.com/go-i2p/go-sockstack/noiseengine"
	"github.com/go-i2p/go-sockstack/pool"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Engine names.
const (
	EngineTLS   = "tls"
	EngineNoise = "noise"
)

// Config represents the complete sockctl configuration.
type Config struct {
	// Stack sizes the socket table and picks the secured engine.
	Stack StackConfig `json:"stack" yaml:"stack"`

	// Remote is the peer every slot connects to.
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// TLS configures the TLS engine.
	TLS TLSConfig `json:"tls" yaml:"tls"`

	// Noise configures the Noise engine.
	Noise NoiseConfig `json:"noise" yaml:"noise"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StackConfig contains the socket table settings.
type StackConfig struct {
	Capacity        int           `json:"capacity" yaml:"capacity"`
	Engine          string        `json:"engine" yaml:"engine"`
	DialTimeout     time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	KeepAlive       time.Duration `json:"keepAlive" yaml:"keepAlive"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// RemoteConfig identifies the peer.
type RemoteConfig struct {
	// Address is "ip:port"; IPv4 only
	Address string `json:"address" yaml:"address"`

	// ServerName is the name the peer must prove
	ServerName string `json:"serverName" yaml:"serverName"`
}

// TLSConfig holds PEM file paths and protocol settings.
type TLSConfig struct {
	CA               string        `json:"ca" yaml:"ca"`
	Cert             string        `json:"cert" yaml:"cert"`
	Key              string        `json:"key" yaml:"key"`
	Password         string        `json:"password" yaml:"password"`
	Version          string        `json:"version" yaml:"version"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`
}

// NoiseConfig holds the handshake pattern and hex-encoded static keys.
type NoiseConfig struct {
	Pattern          string        `json:"pattern" yaml:"pattern"`
	StaticKey        string        `json:"staticKey" yaml:"staticKey"`
	RemoteKey        string        `json:"remoteKey" yaml:"remoteKey"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (trace, debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// JSON selects the JSON formatter.
	JSON bool `json:"json" yaml:"json"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Stack: StackConfig{
			Capacity:        4,
			Engine:          EngineTLS,
			DialTimeout:     10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		TLS: TLSConfig{
			Version:          sockstack.VersionDefault.String(),
			HandshakeTimeout: 30 * time.Second,
		},
		Noise: NoiseConfig{
			Pattern:          "XX",
			HandshakeTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file over config.
// JSON is read by the YAML decoder, so durations are written as "5s" in both.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return oops.
			Code("CONFIG_READ_FAILED").
			In("config").
			With("path", path).
			Wrapf(err, "failed to read config file")
	}

	switch {
	case strings.HasSuffix(path, ".json"),
		strings.HasSuffix(path, ".yaml"),
		strings.HasSuffix(path, ".yml"):
	default:
		return oops.
			Code("UNSUPPORTED_FORMAT").
			In("config").
			With("path", path).
			Errorf("unsupported config file format")
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return oops.
			Code("CONFIG_PARSE_FAILED").
			In("config").
			With("path", path).
			Wrapf(err, "failed to parse config file")
	}

	return nil
}

// LoadFromEnv overrides configuration from SOCKSTACK_* environment variables.
// Malformed numbers and durations are ignored.
func LoadFromEnv(config *Config) {
	// Stack config
	if val := os.Getenv("SOCKSTACK_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Stack.Capacity = n
		}
	}
	if val := os.Getenv("SOCKSTACK_ENGINE"); val != "" {
		config.Stack.Engine = val
	}
	if val := os.Getenv("SOCKSTACK_DIAL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Stack.DialTimeout = d
		}
	}

	// Remote config
	if val := os.Getenv("SOCKSTACK_REMOTE"); val != "" {
		config.Remote.Address = val
	}
	if val := os.Getenv("SOCKSTACK_SERVER_NAME"); val != "" {
		config.Remote.ServerName = val
	}

	// TLS config
	if val := os.Getenv("SOCKSTACK_TLS_CA"); val != "" {
		config.TLS.CA = val
	}
	if val := os.Getenv("SOCKSTACK_TLS_CERT"); val != "" {
		config.TLS.Cert = val
	}
	if val := os.Getenv("SOCKSTACK_TLS_KEY"); val != "" {
		config.TLS.Key = val
	}
	if val := os.Getenv("SOCKSTACK_TLS_PASSWORD"); val != "" {
		config.TLS.Password = val
	}
	if val := os.Getenv("SOCKSTACK_TLS_VERSION"); val != "" {
		config.TLS.Version = val
	}

	// Noise config
	if val := os.Getenv("SOCKSTACK_NOISE_PATTERN"); val != "" {
		config.Noise.Pattern = val
	}
	if val := os.Getenv("SOCKSTACK_NOISE_STATIC_KEY"); val != "" {
		config.Noise.StaticKey = val
	}
	if val := os.Getenv("SOCKSTACK_NOISE_REMOTE_KEY"); val != "" {
		config.Noise.RemoteKey = val
	}

	// Both engines share one handshake timeout override.
	if val := os.Getenv("SOCKSTACK_HANDSHAKE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.TLS.HandshakeTimeout = d
			config.Noise.HandshakeTimeout = d
		}
	}

	// Logging config
	if val := os.Getenv("SOCKSTACK_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("SOCKSTACK_LOG_FILE"); val != "" {
		config.Logging.File = val
	}
}

// Validate validates the configuration. An empty remote address is allowed;
// commands may take it from the command line.
func (c *Config) Validate() error {
	poolCfg := pool.PoolConfig{Capacity: c.Stack.Capacity}
	if err := poolCfg.Validate(); err != nil {
		return err
	}

	if c.Stack.DialTimeout < 0 || c.Stack.ShutdownTimeout < 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("config").
			With("dial_timeout", c.Stack.DialTimeout.String()).
			With("shutdown_timeout", c.Stack.ShutdownTimeout.String()).
			Errorf("timeouts cannot be negative")
	}

	if c.Remote.Address != "" {
		if _, err := sockstack.ParseRemote(c.Remote.Address); err != nil {
			return err
		}
	}

	if c.Remote.ServerName == "" {
		return oops.
			Code("INVALID_SERVER_NAME").
			In("config").
			Errorf("remote server name is required")
	}

	switch c.Stack.Engine {
	case EngineTLS:
		if err := c.validateTLS(); err != nil {
			return err
		}
	case EngineNoise:
		if err := c.validateNoise(); err != nil {
			return err
		}
	default:
		return oops.
			Code("INVALID_ENGINE").
			In("config").
			With("engine", c.Stack.Engine).
			Errorf("engine must be %q or %q", EngineTLS, EngineNoise)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateTLS() error {
	if c.TLS.CA == "" {
		return oops.
			Code("MISSING_CA").
			In("config").
			Errorf("tls.ca is required")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return oops.
			Code("INVALID_CLIENT_AUTH").
			In("config").
			Errorf("tls.cert and tls.key must be set together")
	}
	if _, ok := sockstack.ParseVersion(c.TLS.Version); !ok {
		return oops.
			Code("INVALID_VERSION").
			In("config").
			With("version", c.TLS.Version).
			Errorf("unknown tls version")
	}
	return nil
}

func (c *Config) validateNoise() error {
	return noiseengine.NewConfig(c.Noise.Pattern).
		WithHandshakeTimeout(c.Noise.HandshakeTimeout).
		Validate()
}
