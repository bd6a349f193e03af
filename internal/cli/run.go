package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/scheduler"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	PullInterval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the replica fresh and the queue delivered",
		Long: `Run the session in the foreground. The queue is restored and delivered
immediately, then retried on every poll tick; the replica pulls backend
changes on its own interval. Sync attempts made by other stockroom
processes on the same data directory are picked up as they happen.

Example:
  stockroom run
  stockroom run --pull-interval 1m --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.PullInterval, "pull-interval", 30*time.Second, "how often to fetch backend changes (0 disables)")
	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	cmd.SetContext(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	app, err := openApp(cmd, opts.RootOptions, f, appOptions{startupSync: true})
	if err != nil {
		return err
	}
	defer app.Close()

	app.Scheduler.OnChange(func(st scheduler.Status) {
		slog.Info("sync state", "state", st.State, "pending", st.Pending)
	})

	fmt.Fprintln(cmd.OutOrStdout(), "Session started. Pending edits are delivered as the backend allows.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if app.Client != nil && opts.PullInterval > 0 {
		app.Go(func(ctx context.Context) { pullLoop(ctx, app, opts.PullInterval) })
	}

	if err := app.Scheduler.Run(app.Context()); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fail(f, ExitFailure, ErrCodeGeneric, "scheduler error", err)
	}

	slog.Info("session stopped gracefully")
	return nil
}

// pullLoop refreshes the replica until the app closes. Failures are logged;
// the local replica keeps serving queries.
func pullLoop(ctx context.Context, app *App, every time.Duration) {
	pull := func() {
		if _, _, err := app.Replica.Pull(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("pull failed", "error", err)
		}
	}

	pull()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pull()
		}
	}
}
