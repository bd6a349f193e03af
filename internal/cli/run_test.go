package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"extra"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	config := filepath.Join(dir, "stockroom.yaml")
	require.NoError(t, os.WriteFile(config, []byte("endpoint: ftp://example.com\n"), 0o644))

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", config, "run"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E002]")
}

func TestRunDeliversAndPullsUntilCancelled(t *testing.T) {
	e := newCLIEnv(t)
	e.backend.SetRows(1700000000000, row("24A0153", "Kraft", 120, 3000, 1.5, "01/03/2024 08:00:00"))
	file := filepath.Join(e.dir, "roll.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"sku":"25B0001"}`), 0o644))
	e.mustRun("enqueue", "import", file)

	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs([]string{"--config", e.config, "run", "--pull-interval", "1h"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- cmd.ExecuteContext(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(e.backend.Batches()) == 1 && len(e.backend.DeltaSince()) > 0
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not respect context cancellation")
	}
	assert.Contains(t, out.String(), "Session started")

	status := decode[StatusResult](t, e.mustRun("status"))
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 2, status.Records)
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run the session in the foreground")
	assert.Contains(t, output, "--pull-interval")
}
