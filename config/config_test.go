package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New("0.0.0.0", 9000)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, 1024, cfg.Backlog)
	assert.Equal(t, 75*time.Second, cfg.KeepAlive)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.True(t, cfg.TCPNoDelay)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Nil(t, cfg.TLS)
	assert.Nil(t, cfg.HTTP2)
	assert.Nil(t, cfg.Cluster)
}

func TestFluentBuilders(t *testing.T) {
	cfg := Default().
		WithWorkers(4).
		WithKeepAlive(10 * time.Second).
		WithMaxConnections(100).
		WithBacklog(256).
		WithReadTimeout(5 * time.Second).
		WithWriteTimeout(6 * time.Second).
		WithShutdownTimeout(7 * time.Second).
		WithCluster(Cluster{Listeners: 2})

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.KeepAlive)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 256, cfg.Backlog)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 6*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
	require.NotNil(t, cfg.Cluster)
	assert.Equal(t, 2, cfg.Cluster.Listeners)
}

func TestNoKeepAlive(t *testing.T) {
	cfg := Default().NoKeepAlive()
	assert.Equal(t, time.Duration(0), cfg.KeepAlive)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cello.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
host: 0.0.0.0
port: 9090
workers: 2
keep_alive_secs: 10
max_connections: 500
shutdown_timeout_secs: 5
cluster:
  listeners: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.KeepAlive)
	assert.Equal(t, 500, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.NotNil(t, cfg.Cluster)
	assert.Equal(t, 4, cfg.Cluster.Listeners)

	// Absent fields keep defaults.
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
}

func TestLoad_TLSSection(t *testing.T) {
	path := writeConfig(t, `
tls:
  cert_file: /etc/cello/tls.crt
  key_file: /etc/cello/tls.key
  min_version: "1.3"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "/etc/cello/tls.crt", cfg.TLS.CertFile)
	assert.Equal(t, "/etc/cello/tls.key", cfg.TLS.KeyFile)
	assert.Equal(t, "1.3", cfg.TLS.MinVersion)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "host: 10.0.0.1\nport: 9090\n")

	t.Setenv("CELLO_HOST", "127.0.0.1")
	t.Setenv("CELLO_PORT", "8080")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "host: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}
