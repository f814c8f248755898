package main

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-i2p/go-sockstack/internal/testpki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho runs a loopback TLS echo server for broker.test.
func startEcho(t *testing.T, ca *testpki.CA) string {
	t.Helper()

	leaf, err := ca.Server("broker.test")
	require.NoError(t, err)
	cfg := &tls.Config{Certificates: []tls.Certificate{leaf.Cert}}

	ln, err := tls.Listen("tcp4", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(c)
		}
	}()

	return ln.Addr().String()
}

// writeConfig writes a TLS config for the echo server and returns its path.
func writeConfig(t *testing.T, capacity string) string {
	t.Helper()

	ca, err := testpki.NewCA("sockctl ca")
	require.NoError(t, err)
	addr := startEcho(t, ca)

	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(caPath, ca.CertPEM, 0o600))

	yaml := strings.Join([]string{
		"stack:",
		"  capacity: " + capacity,
		"  dialTimeout: 5s",
		"  shutdownTimeout: 1s",
		"remote:",
		"  address: " + addr,
		"  serverName: broker.test",
		"tls:",
		"  ca: " + caPath,
		"  handshakeTimeout: 5s",
		"logging:",
		"  level: error",
	}, "\n")

	path := filepath.Join(dir, "sockctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sockctl dev")
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.TrimSpace(strings.TrimPrefix(lines[0], "private:")), 64)
	assert.Len(t, strings.TrimSpace(strings.TrimPrefix(lines[1], "public:")), 64)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "probe", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	path := writeConfig(t, "1")

	out, err := run(t, "probe", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sock://0/127.0.0.1:")
	assert.Contains(t, out, "secured")
}

func TestProbeRejectsIPv6Override(t *testing.T) {
	path := writeConfig(t, "1")

	_, err := run(t, "probe", "--config", path, "--remote", "[2001:db8::1]:8883")
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	path := writeConfig(t, "1")

	out, err := run(t, "send", "PING", "--config", path, "--reply", "4")
	require.NoError(t, err)
	assert.Equal(t, "PING\n", out)
}

func TestStats(t *testing.T) {
	path := writeConfig(t, "2")

	out, err := run(t, "stats", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "initial: capacity=2 in_use=0 available=2")
	assert.Contains(t, out, "connected: capacity=2 in_use=2 available=0")
	assert.Contains(t, out, "extra dial:")
	assert.Contains(t, out, "exhausted")
}
