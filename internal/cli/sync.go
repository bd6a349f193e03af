package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/scheduler"
)

// SyncResult is the output of the sync command.
type SyncResult struct {
	Skipped string             `json:"skipped,omitempty"`
	Outcome *scheduler.Outcome `json:"outcome,omitempty"`
	Pending int                `json:"pending"`
}

func (r SyncResult) String() string {
	if r.Skipped != "" {
		return fmt.Sprintf("skipped: %s (%d pending)", r.Skipped, r.Pending)
	}
	return fmt.Sprintf("%s (%d pending)", r.Outcome, r.Pending)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(root *RootOptions) *cobra.Command {
	var ifArmed bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued edits in one batch",
		Long: `Submit every queued command as one batch and exit. Suitable as the
background runner: with --if-armed it does nothing unless an earlier session
left a retry marker, and a delivered queue clears the marker.

Exit status is 1 when the batch failed or some commands were rejected.

Example:
  stockroom sync
  */5 * * * * stockroom sync --if-armed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(root, ifArmed, cmd)
		},
	}
	cmd.Flags().BoolVar(&ifArmed, "if-armed", false, "only run when a background retry is pending")
	return cmd
}

func runSync(root *RootOptions, ifArmed bool, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	if ifArmed {
		if armed, _ := app.Armer.Armed(); !armed {
			return f.Success(SyncResult{Skipped: "no retry pending", Pending: app.Queue.Len()})
		}
	}
	if err := app.requireBackend(f); err != nil {
		return err
	}

	out, err := app.Scheduler.RunOnce(app.Context())
	if err != nil {
		if scheduler.IsSkip(err) {
			return f.Success(SyncResult{Skipped: err.Error(), Pending: app.Queue.Len()})
		}
		return fail(f, ExitFailure, ErrCodeGeneric, "sync failed", err)
	}

	res := SyncResult{Outcome: &out, Pending: app.Queue.Len()}
	switch out.Kind {
	case scheduler.OutcomeOK:
		return f.Success(res)
	case scheduler.OutcomeConflicts, scheduler.OutcomeFailures:
		if err := f.Success(res); err != nil {
			return err
		}
		return NewExitError(ExitFailure, out.String())
	case scheduler.OutcomeConfigError:
		return fail(f, ExitCommandError, ErrCodeConfig, "backend misconfigured", out.Err)
	}
	return fail(f, ExitFailure, ErrCodeBackend, out.String(), out.Err)
}
