package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/replica"
)

// PullResult is the output of the pull command.
type PullResult struct {
	Records   int    `json:"records"`
	Changed   bool   `json:"changed"`
	Watermark int64  `json:"watermark"`
	AsOf      string `json:"asOf,omitempty"`
}

func (r PullResult) String() string {
	if !r.Changed {
		return fmt.Sprintf("up to date: %d records", r.Records)
	}
	return fmt.Sprintf("updated: %d records, newest change %s", r.Records, r.AsOf)
}

// NewPullCommand creates the pull command.
func NewPullCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch backend changes into the local replica",
		Long: `Fetch records changed since the newest local lastUpdated and merge them
into the replica. Only the delta is transferred; the merged replica is
cached for offline use.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(root, cmd)
		},
	}
}

func runPull(root *RootOptions, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.requireBackend(f); err != nil {
		return err
	}

	snap, changed, err := app.Replica.Pull(app.Context())
	if err != nil {
		return backendFailure(f, "pull failed", err)
	}
	return f.Success(pullResult(snap, changed))
}

func pullResult(snap *replica.Snapshot, changed bool) PullResult {
	r := PullResult{Records: snap.Len(), Changed: changed, Watermark: replica.Watermark(snap)}
	if r.Watermark > 0 {
		r.AsOf = inventory.FormatDateTime(time.UnixMilli(r.Watermark))
	}
	return r
}
