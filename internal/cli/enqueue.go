package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/queue"
	"github.com/roach88/stockroom/internal/scheduler"
)

// EnqueueResult is the output of commands that queue edits.
type EnqueueResult struct {
	IDs     []string           `json:"ids"`
	Pending int                `json:"pending"`
	State   scheduler.State    `json:"state"`
	Sync    *scheduler.Outcome `json:"sync,omitempty"`
}

func (r EnqueueResult) String() string {
	s := fmt.Sprintf("queued %d command(s), %d pending", len(r.IDs), r.Pending)
	if r.Sync != nil {
		s += "; sync: " + r.Sync.String()
	}
	return s
}

// NewEnqueueCommand creates the enqueue command and its subcommands.
func NewEnqueueCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an edit for delivery",
		Long: `Queue an edit. It is written to the local store and applied to the
replica at once, then delivered with the next batch.`,
	}
	cmd.AddCommand(newEnqueueImportCommand(root))
	cmd.AddCommand(newEnqueueUpdateCommand(root))
	return cmd
}

func newEnqueueImportCommand(root *RootOptions) *cobra.Command {
	var syncNow bool
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Queue new records from a JSON object or array",
		Long: `Queue new records. One record becomes an IMPORT command; several
become a single IMPORT_BATCH. The importer and lastUpdated fields are set
from the configured actor and the current time.

Example:
  stockroom enqueue import roll.json
  cat rolls.json | stockroom enqueue import - --sync`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueImport(root, args[0], syncNow, cmd)
		},
	}
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to deliver right away")
	return cmd
}

func newEnqueueUpdateCommand(root *RootOptions) *cobra.Command {
	var sets []string
	var syncNow bool
	cmd := &cobra.Command{
		Use:   "update <sku>",
		Short: "Queue an edit of one record",
		Long: `Queue an edit of a record in the local replica. The full record is
sent, with the original importer and lastUpdated unless they are edited
explicitly. A changed pendingOut is stamped with actor and time.

Example:
  stockroom enqueue update 24A0153 --set location=K2 --set "pendingOut=giao Nam Việt"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueueUpdate(root, args[0], sets, syncNow, cmd)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value (repeatable)")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to deliver right away")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func runEnqueueImport(root *RootOptions, path string, syncNow bool, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	items, err := readItems(path, cmd.InOrStdin())
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, "invalid records", err)
	}

	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	var c queue.Command
	if len(items) == 1 {
		c, err = app.Builder.NewImport(items[0])
	} else {
		c, err = app.Builder.ImportBatch(items)
	}
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, "invalid records", err)
	}
	return enqueueAll(app, f, []queue.Command{c}, syncNow)
}

func runEnqueueUpdate(root *RootOptions, sku string, sets []string, syncNow bool, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	edits, err := parseSets(sets)
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, err.Error(), nil)
	}

	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	original, ok := app.Replica.Current().Get(sku)
	if !ok {
		return fail(f, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("record %s not in local replica", sku), nil)
	}

	var setErr error
	c, err := app.Builder.NewUpdate(original, func(it *inventory.Item) {
		for _, e := range edits {
			setErr = errors.Join(setErr, it.Set(e.field, e.value))
		}
	})
	if err == nil {
		err = setErr
	}
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, "invalid edit", err)
	}
	return enqueueAll(app, f, []queue.Command{c}, syncNow)
}

// enqueueAll queues cmds through the scheduler and optionally attempts a
// sync. Commands that could only be kept in memory are reported as a
// failure; they were still applied to the replica.
func enqueueAll(app *App, f *OutputFormatter, cmds []queue.Command, syncNow bool) error {
	res := EnqueueResult{}
	var notDurable error
	for _, c := range cmds {
		err := app.Scheduler.Enqueue(app.Context(), c)
		switch {
		case errors.Is(err, queue.ErrNotDurable):
			notDurable = errors.Join(notDurable, err)
		case err != nil:
			return fail(f, ExitFailure, ErrCodeGeneric, "enqueue failed", err)
		}
		res.IDs = append(res.IDs, c.ID)
	}
	if notDurable != nil {
		return fail(f, ExitFailure, ErrCodeNotDurable, "edit applied but not saved; it will be lost on exit", notDurable)
	}

	if syncNow {
		out, err := app.Scheduler.Schedule(app.Context(), scheduler.TriggerManual)
		switch {
		case err == nil:
			res.Sync = &out
		case !scheduler.IsSkip(err):
			return fail(f, ExitFailure, ErrCodeBackend, "sync failed", err)
		}
	}

	st := app.Scheduler.Status()
	res.Pending = st.Pending
	res.State = st.State
	return f.Success(res)
}

type fieldEdit struct {
	field string
	value string
}

func parseSets(sets []string) ([]fieldEdit, error) {
	edits := make([]fieldEdit, 0, len(sets))
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("--set %q: want field=value", s)
		}
		field = strings.TrimSpace(field)
		if field == inventory.FieldSKU {
			return nil, fmt.Errorf("--set %q: the sku cannot be changed", s)
		}
		if _, ok := inventory.LookupField(field); !ok {
			return nil, fmt.Errorf("--set %q: unknown field %q", s, field)
		}
		edits = append(edits, fieldEdit{field: field, value: value})
	}
	return edits, nil
}

// readItems decodes one record or an array of records from path, or from
// stdin when path is "-".
func readItems(path string, stdin io.Reader) ([]inventory.Item, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no records given")
	}

	if data[0] == '[' {
		var items []inventory.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if len(items) == 0 {
			return nil, errors.New("no records given")
		}
		return items, nil
	}
	var it inventory.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []inventory.Item{it}, nil
}
