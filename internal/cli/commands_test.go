package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/scheduler"
	"github.com/roach88/stockroom/internal/testutil"
)

// cliEnv is a data directory and config file pointed at a fake backend.
type cliEnv struct {
	t       *testing.T
	dir     string
	config  string
	backend *testutil.Backend
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	backend := testutil.NewBackend(t)
	return writeCLIEnv(t, backend, backend.URL)
}

func writeCLIEnv(t *testing.T, backend *testutil.Backend, endpoint string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	config := filepath.Join(dir, "stockroom.yaml")
	yaml := fmt.Sprintf(`data_dir: %s
endpoint: %q
actor: tester
sync:
  display_interval: 50ms
transport:
  max_retries: 0
`, filepath.Join(dir, "data"), endpoint)
	require.NoError(t, os.WriteFile(config, []byte(yaml), 0o644))
	return &cliEnv{t: t, dir: dir, config: config, backend: backend}
}

// run executes one command line with JSON output and returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config, "--format", "json"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustRun is run for commands expected to succeed.
func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "stockroom %s: %s", strings.Join(args, " "), out)
	return out
}

// decode reads a success response into T.
func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	return resp.Data
}

func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status, out)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

// row builds a wire row with the fields these tests look at.
func row(sku, paper string, width, length, weight float64, updated string) []any {
	r := make([]any, inventory.ColumnCount)
	for i := range r {
		r[i] = ""
	}
	r[inventory.ColSKU] = sku
	r[inventory.ColPaperType] = paper
	r[inventory.ColWidth] = width
	r[inventory.ColLength] = length
	r[inventory.ColWeight] = weight
	r[inventory.ColLastUpdated] = updated
	return r
}

func (e *cliEnv) seed() {
	e.backend.SetRows(1700000000000,
		row("24A0153", "Kraft", 120, 3000, 1.5, "01/03/2024 08:00:00"),
		row("24A0154", "Duplex", 100, 2500, 0.8, "02/03/2024 09:30:00"),
		row("24A0155", "Kraft Liner", 110, 2800, 2.25, "03/03/2024 10:00:00"),
	)
	e.mustRun("pull")
}

func TestPullCommand(t *testing.T) {
	e := newCLIEnv(t)
	e.backend.SetRows(1700000000000,
		row("24A0153", "Kraft", 120, 3000, 1.5, "01/03/2024 08:00:00"),
		row("24A0154", "Duplex", 100, 2500, 0.8, "02/03/2024 09:30:00"),
	)

	res := decode[PullResult](t, e.mustRun("pull"))
	assert.Equal(t, 2, res.Records)
	assert.True(t, res.Changed)
	assert.Equal(t, inventory.ParseTimestamp("02/03/2024 09:30:00"), res.Watermark)
	assert.Equal(t, "02/03/2024 09:30:00", res.AsOf)

	// The second pull asks only for changes after the cached watermark.
	e.mustRun("pull")
	since := e.backend.DeltaSince()
	require.Len(t, since, 2)
	assert.Equal(t, int64(0), since[0])
	assert.Equal(t, res.Watermark, since[1])
}

func TestPullCommand_NoEndpoint(t *testing.T) {
	e := writeCLIEnv(t, nil, "")

	out, err := e.run("pull")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, decodeError(t, out).Code)
}

func TestPullCommand_BackendDown(t *testing.T) {
	e := newCLIEnv(t)
	e.backend.FailNext(503)

	out, err := e.run("pull")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeBackend, decodeError(t, out).Code)
}

func TestQueryCommand(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()

	t.Run("search", func(t *testing.T) {
		res := decode[QueryResult](t, e.mustRun("query", "--search", "kraft"))
		assert.Equal(t, 2, res.Count)
		assert.InDelta(t, 3.75, res.TotalWeight, 1e-9)
	})

	t.Run("sort descending", func(t *testing.T) {
		res := decode[QueryResult](t, e.mustRun("query", "--sort", "weight", "--desc"))
		require.Len(t, res.Rows, 3)
		assert.Equal(t, "24A0155", res.Rows[0].SKU)
		assert.Equal(t, "24A0154", res.Rows[2].SKU)
	})

	t.Run("width range", func(t *testing.T) {
		res := decode[QueryResult](t, e.mustRun("query", "--width-min", "105", "--width-max", "115"))
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "24A0155", res.Rows[0].SKU)
	})

	t.Run("limit keeps the count", func(t *testing.T) {
		res := decode[QueryResult](t, e.mustRun("query", "-n", "1"))
		assert.Equal(t, 3, res.Count)
		assert.Len(t, res.Rows, 1)
	})

	t.Run("unknown column", func(t *testing.T) {
		out, err := e.run("query", "--column", "colour")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Equal(t, ErrCodeInput, decodeError(t, out).Code)
	})
}

func TestQueryCommand_OfflineServesCache(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	e.backend.ServeHTML(true)

	res := decode[QueryResult](t, e.mustRun("query", "--pull"))
	assert.Equal(t, 3, res.Count)
}

func TestExportCommand(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	path := filepath.Join(e.dir, "kraft.csv")

	res := decode[ExportResult](t, e.mustRun("export", "--search", "kraft", "-o", path))
	assert.Equal(t, 2, res.Rows)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, len(data))
	assert.True(t, bytes.HasPrefix(data, []byte("\ufeff")))
	assert.Contains(t, string(data), "24A0153")
	assert.NotContains(t, string(data), "24A0154")
	assert.Contains(t, string(data), "1,5")
}

func TestExportCommand_Columns(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	cols := filepath.Join(e.dir, "cols.yaml")
	require.NoError(t, os.WriteFile(cols, []byte(`- header: Mã
  accessor: sku
- header: Nặng
  accessor: weight
  numeric: true
`), 0o644))

	out := e.mustRun("export", "--sort", "sku", "--columns", cols)
	lines := strings.Split(strings.TrimPrefix(strings.TrimSpace(out), "\ufeff"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Mã;Nặng", strings.TrimSpace(lines[0]))
	assert.Equal(t, "24A0153;1,5", strings.TrimSpace(lines[1]))
}

func TestEnqueueImportThenSync(t *testing.T) {
	e := newCLIEnv(t)
	file := filepath.Join(e.dir, "roll.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"sku":"25B0001","paperType":"Duplex","width":90,"weight":1.2}`), 0o644))

	queued := decode[EnqueueResult](t, e.mustRun("enqueue", "import", file))
	require.Len(t, queued.IDs, 1)
	assert.Equal(t, 1, queued.Pending)
	assert.Equal(t, scheduler.StatePending, queued.State)

	// A later process sees the queued edit and the optimistic record.
	status := decode[StatusResult](t, e.mustRun("status"))
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.Records)
	assert.True(t, status.Armed)

	found := decode[QueryResult](t, e.mustRun("query", "--search", "25B0001"))
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "tester", found.Rows[0].Importer)

	synced := decode[SyncResult](t, e.mustRun("sync"))
	require.NotNil(t, synced.Outcome)
	assert.Equal(t, scheduler.OutcomeOK, synced.Outcome.Kind)
	assert.Equal(t, 0, synced.Pending)

	batches := e.backend.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, queued.IDs[0], batches[0][0]["id"])
	assert.Equal(t, "IMPORT", batches[0][0]["type"])

	status = decode[StatusResult](t, e.mustRun("status"))
	assert.Equal(t, 0, status.Pending)
	assert.False(t, status.Armed)
}

func TestEnqueueImport_BatchFromStdin(t *testing.T) {
	e := newCLIEnv(t)
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`[{"sku":"X1"},{"sku":"X2"}]`))
	cmd.SetArgs([]string{"--config", e.config, "--format", "json", "enqueue", "import", "-", "--sync"})
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())

	res := decode[EnqueueResult](t, out.String())
	require.NotNil(t, res.Sync)
	assert.Equal(t, scheduler.OutcomeOK, res.Sync.Kind)
	assert.Equal(t, 0, res.Pending)

	batches := e.backend.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, "IMPORT_BATCH", batches[0][0]["type"])
}

func TestEnqueueUpdate(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()

	res := decode[EnqueueResult](t, e.mustRun("enqueue", "update", "24A0154", "--set", "location=K2", "--set", "weight=0,75"))
	require.Len(t, res.IDs, 1)

	found := decode[QueryResult](t, e.mustRun("query", "--column", "location", "--search", "K2"))
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "24A0154", found.Rows[0].SKU)
	assert.InDelta(t, 0.75, found.Rows[0].Weight, 1e-9)
}

func TestEnqueueUpdate_Errors(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown record", []string{"enqueue", "update", "NOPE", "--set", "location=K2"}, ErrCodeNotFound},
		{"unknown field", []string{"enqueue", "update", "24A0153", "--set", "colour=red"}, ErrCodeInput},
		{"sku edit", []string{"enqueue", "update", "24A0153", "--set", "sku=X"}, ErrCodeInput},
		{"malformed set", []string{"enqueue", "update", "24A0153", "--set", "location"}, ErrCodeInput},
		{"bad number", []string{"enqueue", "update", "24A0153", "--set", "width=wide"}, ErrCodeInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Equal(t, tt.code, decodeError(t, out).Code)
		})
	}

	status := decode[StatusResult](t, e.mustRun("status"))
	assert.Equal(t, 0, status.Pending)
}

func TestBulkPendingCommand(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()

	res := decode[EnqueueResult](t, e.mustRun("bulk-pending", "--text", "giao Nam Việt", "24A0153", "24A0155", "MISSING", "24A0153"))
	assert.Len(t, res.IDs, 2)
	assert.Equal(t, 2, res.Pending)

	// Accent-insensitive search over the new note.
	found := decode[QueryResult](t, e.mustRun("query", "--column", "pendingOut", "--search", "nam viet"))
	assert.Equal(t, 2, found.Count)
}

func TestBulkPendingCommand_NothingFound(t *testing.T) {
	e := newCLIEnv(t)

	out, err := e.run("bulk-pending", "--text", "x", "NOPE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, out).Code)
}

func TestSyncCommand_Conflicts(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	e.backend.OnBatch(func(cmds []map[string]any) any {
		return map[string]any{
			"success": true,
			"results": []map[string]any{
				{"id": cmds[0]["id"], "success": false, "message": "stale", "code": "CONFLICT"},
			},
		}
	})
	e.mustRun("enqueue", "update", "24A0153", "--set", "location=K9")

	out, err := e.run("sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	res := decode[SyncResult](t, out)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, scheduler.OutcomeConflicts, res.Outcome.Kind)
	assert.Equal(t, 1, res.Outcome.Conflicts)
	// Delivered commands leave the queue even when rejected.
	assert.Equal(t, 0, res.Pending)
}

func TestSyncCommand_NetworkFailureKeepsQueue(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	e.mustRun("enqueue", "update", "24A0153", "--set", "location=K9")
	e.backend.FailNext(503)

	out, err := e.run("sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeBackend, decodeError(t, out).Code)

	status := decode[StatusResult](t, e.mustRun("status"))
	assert.Equal(t, 1, status.Pending)
	assert.True(t, status.Armed)
}

func TestSyncCommand_HTMLIsConfigError(t *testing.T) {
	e := newCLIEnv(t)
	e.seed()
	e.mustRun("enqueue", "update", "24A0153", "--set", "location=K9")
	e.backend.ServeHTML(true)

	out, err := e.run("sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, decodeError(t, out).Code)
}

func TestSyncCommand_Skips(t *testing.T) {
	e := newCLIEnv(t)

	res := decode[SyncResult](t, e.mustRun("sync"))
	assert.Equal(t, scheduler.ErrQueueEmpty.Error(), res.Skipped)

	res = decode[SyncResult](t, e.mustRun("sync", "--if-armed"))
	assert.Equal(t, "no retry pending", res.Skipped)
	assert.Empty(t, e.backend.Batches())
}

func TestStatusCommand_Text(t *testing.T) {
	e := writeCLIEnv(t, nil, "")

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", e.config, "status"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "state:      IDLE")
	assert.Contains(t, out.String(), "pending:    0")
	assert.Contains(t, out.String(), "(none, local only)")
}

func TestDataDirFlagOverridesConfig(t *testing.T) {
	e := writeCLIEnv(t, nil, "")
	other := filepath.Join(e.dir, "elsewhere")

	e.mustRun("--data-dir", other, "status")
	_, err := os.Stat(filepath.Join(other, "stockroom.db"))
	assert.NoError(t, err)
}
