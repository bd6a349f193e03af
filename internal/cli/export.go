package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/query"
)

// ExportResult is reported when the CSV goes to a file.
type ExportResult struct {
	Path  string `json:"path"`
	Rows  int    `json:"rows"`
	Bytes int    `json:"bytes"`
}

func (r ExportResult) String() string {
	return fmt.Sprintf("exported %d rows to %s", r.Rows, r.Path)
}

// NewExportCommand creates the export command.
func NewExportCommand(root *RootOptions) *cobra.Command {
	ff := &filterFlags{}
	var columnsFile, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export matching rows as CSV",
		Long: `Export the rows matching the filter as a ';'-separated CSV with a
byte-order mark and Vietnamese number formatting, ready for spreadsheet
import. Columns default to the standard stock card layout; --columns reads
a YAML list of {header, accessor, numeric} entries.

Example:
  stockroom export --search kraft -o kraft.csv
  stockroom export --columns cols.yaml > all.csv`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(root, ff, columnsFile, output, cmd)
		},
	}
	ff.register(cmd)
	cmd.Flags().StringVar(&columnsFile, "columns", "", "YAML column descriptor file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runExport(root *RootOptions, ff *filterFlags, columnsFile, output string, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	fs, ss, err := ff.specs(cmd)
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, err.Error(), nil)
	}

	var cols []query.Column
	if columnsFile != "" {
		file, err := os.Open(columnsFile)
		if err != nil {
			return fail(f, ExitCommandError, ErrCodeInput, "failed to open column file", err)
		}
		cols, err = query.LoadColumns(file)
		file.Close()
		if err != nil {
			return fail(f, ExitCommandError, ErrCodeInput, "invalid column file", err)
		}
	}

	app, err := openApp(cmd, root, f, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	ff.refresh(app)

	res, err := app.Engine.Filter(app.Context(), fs, ss)
	if err != nil {
		return fail(f, ExitFailure, ErrCodeGeneric, "query failed", err)
	}
	data, err := app.Engine.Export(app.Context(), cols)
	if err != nil {
		return fail(f, ExitFailure, ErrCodeGeneric, "export failed", err)
	}

	if output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fail(f, ExitFailure, ErrCodeGeneric, "failed to write export", err)
	}
	return f.Success(ExportResult{Path: output, Rows: res.Count, Bytes: len(data)})
}
