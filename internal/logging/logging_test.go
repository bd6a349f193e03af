package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "error", Verbose: true})
	defer closer.Close()

	logger.Debug("queue restored", "pending", 2)
	assert.Contains(t, buf.String(), "queue restored")
	assert.Contains(t, buf.String(), "pending=2")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "warn"})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stockroom.log")
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "info", File: path, MaxSizeMB: 1})

	logger.Info("batch delivered", "commands", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch delivered")
	assert.Contains(t, buf.String(), "batch delivered")
}

func TestSetup_RejectsNegativeRotation(t *testing.T) {
	_, err := Setup(&bytes.Buffer{}, Options{MaxBackups: -1})
	assert.Error(t, err)
}
