package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".stockroom"), cfg.DataDir)
	assert.Equal(t, 15*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Sync.DisplayInterval)
	assert.True(t, cfg.Sync.Background)
	assert.Equal(t, 2, cfg.Transport.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.InitialBackoff)
	assert.Equal(t, 0.1, cfg.Transport.Jitter)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join(home, ".stockroom", "stockroom.db"), cfg.StorePath())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/stockroom
endpoint: https://script.example.com/exec
actor: lan
sync:
  poll_interval: 1m
transport:
  max_retries: 4
log:
  level: debug
`)
	t.Setenv("STOCKROOM_ACTOR", "minh")
	t.Setenv("STOCKROOM_SYNC_DISPLAY_INTERVAL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stockroom", cfg.DataDir)
	assert.Equal(t, "https://script.example.com/exec", cfg.Endpoint)
	assert.Equal(t, "minh", cfg.Actor, "environment wins over file")
	assert.Equal(t, time.Minute, cfg.Sync.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Sync.DisplayInterval)
	assert.Equal(t, 4, cfg.Transport.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_SchemaRejectsValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"log level", "log:\n  level: chatty\n"},
		{"endpoint scheme", "endpoint: ftp://example.com\n"},
		{"retries", "transport:\n  max_retries: 50\n"},
		{"jitter", "transport:\n  jitter: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, ErrCodeInvalid, cfgErr.Code)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrCodeRead, cfgErr.Code)
}

func TestValidate_EmptyDataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.DataDir = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeInvalid)
}
