package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/inventory"
)

// NewBulkPendingCommand creates the bulk-pending command.
func NewBulkPendingCommand(root *RootOptions) *cobra.Command {
	var text string
	var syncNow bool

	cmd := &cobra.Command{
		Use:   "bulk-pending <sku>...",
		Short: "Mark several records as pending out",
		Long: `Set pendingOut on every listed record. Each record is queued as its own
full UPDATE so no other field is touched. An empty --text clears the mark.
Unknown and repeated SKUs are skipped.

Example:
  stockroom bulk-pending --text "giao Nam Việt" 24A0153 24A0154`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulkPending(root, args, text, syncNow, cmd)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "pending-out note")
	cmd.Flags().BoolVar(&syncNow, "sync", false, "try to deliver right away")
	return cmd
}

func runBulkPending(root *RootOptions, skus []string, text string, syncNow bool, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	snap := app.Replica.Current()
	lookup := func(sku string) (inventory.Item, bool) {
		return snap.Get(strings.TrimSpace(sku))
	}
	cmds, err := app.Builder.BulkPending(skus, lookup, text)
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, "invalid edit", err)
	}
	if len(cmds) == 0 {
		return fail(f, ExitCommandError, ErrCodeNotFound, "none of the records are in the local replica", nil)
	}
	return enqueueAll(app, f, cmds, syncNow)
}
