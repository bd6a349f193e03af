package cli

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stockroom/internal/inventory"
	"github.com/roach88/stockroom/internal/query"
)

// filterFlags are shared by query and export.
type filterFlags struct {
	search    string
	column    string
	oddLots   bool
	widthMin  float64
	widthMax  float64
	lengthMin float64
	lengthMax float64
	sortKey   string
	desc      bool
	pull      bool
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ff.search, "search", "s", "", "search terms separated by ';' (accent-insensitive, all must match)")
	cmd.Flags().StringVar(&ff.column, "column", query.ColumnAll, "field to search, or 'all'")
	cmd.Flags().BoolVar(&ff.oddLots, "odd-lots", false, "order by ascending weight")
	cmd.Flags().Float64Var(&ff.widthMin, "width-min", 0, "minimum width (inclusive)")
	cmd.Flags().Float64Var(&ff.widthMax, "width-max", 0, "maximum width (inclusive)")
	cmd.Flags().Float64Var(&ff.lengthMin, "length-min", 0, "minimum length (inclusive)")
	cmd.Flags().Float64Var(&ff.lengthMax, "length-max", 0, "maximum length (inclusive)")
	cmd.Flags().StringVar(&ff.sortKey, "sort", "", "field to sort by")
	cmd.Flags().BoolVar(&ff.desc, "desc", false, "sort descending")
	cmd.Flags().BoolVar(&ff.pull, "pull", false, "fetch backend changes first")
}

// specs builds the engine request. Range flags only apply when given.
func (ff *filterFlags) specs(cmd *cobra.Command) (query.FilterSpec, query.SortSpec, error) {
	if ff.column != "" && ff.column != query.ColumnAll {
		if _, ok := inventory.LookupField(ff.column); !ok {
			return query.FilterSpec{}, query.SortSpec{}, fmt.Errorf("unknown column %q", ff.column)
		}
	}
	if ff.sortKey != "" {
		if _, ok := inventory.LookupField(ff.sortKey); !ok {
			return query.FilterSpec{}, query.SortSpec{}, fmt.Errorf("unknown sort field %q", ff.sortKey)
		}
	}

	bound := func(name string, v float64) *float64 {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &v
	}
	f := query.FilterSpec{
		Search:      ff.search,
		Column:      ff.column,
		ShowOddLots: ff.oddLots,
		Ranges: query.Ranges{
			WidthMin:  bound("width-min", ff.widthMin),
			WidthMax:  bound("width-max", ff.widthMax),
			LengthMin: bound("length-min", ff.lengthMin),
			LengthMax: bound("length-max", ff.lengthMax),
		},
	}
	s := query.SortSpec{Key: ff.sortKey, Direction: query.Asc}
	if ff.desc {
		s.Direction = query.Desc
	}
	return f, s, nil
}

// refresh pulls when asked. Being offline is not fatal for a local query.
func (ff *filterFlags) refresh(app *App) {
	if !ff.pull || app.Client == nil {
		return
	}
	if _, _, err := app.Replica.Pull(app.Context()); err != nil {
		slog.Warn("pull failed, answering from local replica", "error", err)
	}
}

// QueryResult is the output of the query command.
type QueryResult struct {
	Count       int              `json:"count"`
	TotalWeight float64          `json:"totalWeight"`
	Rows        []inventory.Item `json:"rows"`
}

// RenderText prints the rows as an aligned table.
func (r QueryResult) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SKU\tPAPER\tGSM\tWIDTH\tLENGTH\tWEIGHT\tLOCATION\tPENDING OUT")
	for _, it := range r.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.SKU, it.PaperType, it.GSM,
			it.Text(inventory.FieldWidth), it.Text(inventory.FieldLength), it.Text(inventory.FieldWeight),
			it.Location, it.PendingOut)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	shown := ""
	if len(r.Rows) < r.Count {
		shown = fmt.Sprintf(" (showing %d)", len(r.Rows))
	}
	_, err := fmt.Fprintf(w, "%d rows%s, total weight %s t\n", r.Count, shown, inventory.FormatValue(r.TotalWeight))
	return err
}

// NewQueryCommand creates the query command.
func NewQueryCommand(root *RootOptions) *cobra.Command {
	ff := &filterFlags{}
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search the local inventory",
		Long: `Search and sort the local replica. Works offline.

Example:
  stockroom query --search "kraft;150" --sort weight --desc
  stockroom query --column location --search K1 --width-min 100 --width-max 120`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(root, ff, limit, cmd)
		},
	}
	ff.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "rows to print (0 for all)")
	return cmd
}

func runQuery(root *RootOptions, ff *filterFlags, limit int, cmd *cobra.Command) error {
	f := root.formatter(cmd)
	fs, ss, err := ff.specs(cmd)
	if err != nil {
		return fail(f, ExitCommandError, ErrCodeInput, err.Error(), nil)
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
	rows, err := res.Rows()
	if err != nil {
		return fail(f, ExitFailure, ErrCodeGeneric, "query failed", err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []inventory.Item{}
	}
	return f.Success(QueryResult{Count: res.Count, TotalWeight: res.TotalWeight, Rows: rows})
}
