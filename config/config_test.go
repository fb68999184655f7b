package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/catchup/errors"
)

const validYAML = `
node: cache-east
nats:
  url: nats://localhost:4222
  name: cache-east
  timeout: 3s
  reconnect_wait: 1s
caches:
  - pattern: vehicle/*/position
    history: 128
  - pattern: building/**
    id: buildings
metrics_addr: ":9090"
log_level: debug
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "cache-east", cfg.Node)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 3*time.Second, cfg.NATS.Timeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)

	require.Len(t, cfg.Caches, 2)
	assert.Equal(t, 128, cfg.Caches[0].History)
	// Default ID derives from the node name and index.
	assert.Equal(t, "cache-east-0", cfg.Caches[0].ID)
	assert.Equal(t, "buildings", cfg.Caches[1].ID)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
nats:
  url: nats://localhost:4222
caches:
  - pattern: a/b
`))
	require.NoError(t, err)

	assert.Equal(t, "catchup-cache", cfg.Node)
	assert.Equal(t, "catchup.data", cfg.Prefix)
	assert.Equal(t, "catchup.fetch", cfg.FetchSubject)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", `{{{`},
		{"missing url", "caches:\n  - pattern: a/b\n"},
		{"no caches", "nats:\n  url: nats://localhost:4222\n"},
		{"bad pattern", "nats:\n  url: nats://x:4222\ncaches:\n  - pattern: a//b\n"},
		{"negative history", "nats:\n  url: nats://x:4222\ncaches:\n  - pattern: a/b\n    history: -1\n"},
		{"bad log level", "nats:\n  url: nats://x:4222\ncaches:\n  - pattern: a/b\nlog_level: loud\n"},
		{"duplicate ids", "nats:\n  url: nats://x:4222\ncaches:\n  - pattern: a/b\n    id: dup\n  - pattern: a/c\n    id: dup\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catchup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cache-east", cfg.Node)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
}
