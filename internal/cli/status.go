package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/replica"
	"github.com/roach88/stockroom/internal/scheduler"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	scheduler.Status
	Records    int       `json:"records"`
	Watermark  int64     `json:"watermark"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Armed      bool      `json:"backgroundArmed"`
	ArmedSince time.Time `json:"armedSince,omitzero"`
}

// RenderText prints one fact per line.
func (r StatusResult) RenderText(w io.Writer) error {
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = "(none, local only)"
	}
	fmt.Fprintf(w, "state:      %s\n", r.State)
	fmt.Fprintf(w, "pending:    %d\n", r.Pending)
	fmt.Fprintf(w, "records:    %d\n", r.Records)
	fmt.Fprintf(w, "endpoint:   %s\n", endpoint)
	if r.Watermark > 0 {
		fmt.Fprintf(w, "newest:     %s\n", inventory.FormatDateTime(time.UnixMilli(r.Watermark)))
	}
	if !r.LastSyncedAt.IsZero() {
		fmt.Fprintf(w, "last sync:  %s\n", inventory.FormatDateTime(r.LastSyncedAt))
	}
	if r.LastOutcome != nil {
		fmt.Fprintf(w, "outcome:    %s\n", r.LastOutcome)
	}
	if r.Armed {
		fmt.Fprintf(w, "background: retry pending since %s\n", inventory.FormatDateTime(r.ArmedSince))
	}
	return nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show sync state and queue size",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(root, cmd)
		},
	}
}

func runStatus(root *RootOptions, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	snap := app.Replica.Current()
	armed, since := app.Armer.Armed()
	return f.Success(StatusResult{
		Status:     app.Scheduler.Status(),
		Records:    snap.Len(),
		Watermark:  replica.Watermark(snap),
		Endpoint:   app.Config.Endpoint,
		Armed:      armed,
		ArmedSince: since,
	})
}
